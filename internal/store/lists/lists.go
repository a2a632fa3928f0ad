// Package lists implements Synap's list store: double-ended byte-vector
// deques with Redis-style range/trim/insert operations and a blocking pop
// contract for empty-list waits.
package lists

import (
	"context"
	"sync"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/shard"
)

type listValue struct {
	items     [][]byte
	hasExpiry bool
	expiresAt time.Time
}

func (l *listValue) expired(now time.Time) bool {
	return l.hasExpiry && now.After(l.expiresAt)
}

// hub is the per-key broadcast registry blocking pops wait on. A channel is
// created lazily on first wait and closed (waking every current waiter) the
// next time the key is published to — a broadcast-on-close pattern
// generalized from fan-out delivery to a single-shot wake signal.
type hub struct {
	mu sync.Mutex
	ch map[string]chan struct{}
}

func newHub() *hub { return &hub{ch: make(map[string]chan struct{})} }

func (h *hub) wait(key string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.ch[key]
	if !ok {
		c = make(chan struct{})
		h.ch[key] = c
	}
	return c
}

// signal must be called after the publisher has released the shard lock
// so waiters don't immediately re-contend for a held lock.
func (h *hub) signal(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.ch[key]; ok {
		close(c)
		delete(h.ch, key)
	}
}

// Store is the list store.
type Store struct {
	table *shard.Table[*listValue]
	hub   *hub
}

// New builds a Store with n shards.
func New(n int) *Store {
	return &Store{table: shard.NewTable[*listValue](n), hub: newHub()}
}

func get(sh *shard.Shard[*listValue], key string) (*listValue, bool) {
	l, ok := sh.Get(key)
	if !ok {
		return nil, false
	}
	if l.expired(time.Now()) {
		sh.Delete(key)
		return nil, false
	}
	return l, true
}

// LPush/RPush push values onto the head/tail, creating the list if absent
// unless onlyIfExists (LPUSHX/RPUSHX). Returns the new length, or 0 if
// onlyIfExists and the key was absent.
func (s *Store) push(key string, values [][]byte, head, onlyIfExists bool) int {
	sh := s.table.Shard(key)
	sh.Lock()
	l, ok := get(sh, key)
	if !ok {
		if onlyIfExists {
			sh.Unlock()
			return 0
		}
		l = &listValue{}
		sh.Set(key, l)
	}
	if head {
		for _, v := range values {
			l.items = append([][]byte{append([]byte(nil), v...)}, l.items...)
		}
	} else {
		for _, v := range values {
			l.items = append(l.items, append([]byte(nil), v...))
		}
	}
	n := len(l.items)
	sh.Unlock()

	s.hub.signal(key)
	return n
}

func (s *Store) LPush(key string, values ...[]byte) int      { return s.push(key, values, true, false) }
func (s *Store) RPush(key string, values ...[]byte) int      { return s.push(key, values, false, false) }
func (s *Store) LPushX(key string, values ...[]byte) int     { return s.push(key, values, true, true) }
func (s *Store) RPushX(key string, values ...[]byte) int     { return s.push(key, values, false, true) }

// pop removes up to count elements from the head/tail. Deletes the key if
// the list becomes empty.
func (s *Store) pop(key string, head bool, count int) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok || len(l.items) == 0 {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	if count > len(l.items) {
		count = len(l.items)
	}
	var out [][]byte
	if head {
		out = l.items[:count]
		l.items = l.items[count:]
	} else {
		out = make([][]byte, count)
		for i := 0; i < count; i++ {
			out[i] = l.items[len(l.items)-1-i]
		}
		l.items = l.items[:len(l.items)-count]
	}
	if len(l.items) == 0 {
		sh.Delete(key)
	}
	return out
}

func (s *Store) LPop(key string, count int) [][]byte { return s.pop(key, true, count) }
func (s *Store) RPop(key string, count int) [][]byte { return s.pop(key, false, count) }

// LRange returns an inclusive, negative-from-end range.
func (s *Store) LRange(key string, start, stop int) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return nil
	}
	n := len(l.items)
	start = normalize(start, n)
	stop = normalize(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	out := make([][]byte, stop-start+1)
	for i := range out {
		out[i] = append([]byte(nil), l.items[start+i]...)
	}
	return out
}

func normalize(i, n int) int {
	if i < 0 {
		i += n
	}
	return i
}

// LIndex returns the element at index (Redis-style negative-from-end), or
// errs.NotFound if out of range.
func (s *Store) LIndex(key string, index int) ([]byte, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return nil, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	n := len(l.items)
	index = normalize(index, n)
	if index < 0 || index >= n {
		return nil, errs.New(errs.NotFound, "index out of range")
	}
	return append([]byte(nil), l.items[index]...), nil
}

// LSet overwrites the element at index, failing with errs.IndexOutOfRange.
func (s *Store) LSet(key string, index int, value []byte) error {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	n := len(l.items)
	index = normalize(index, n)
	if index < 0 || index >= n {
		return errs.New(errs.IndexOutOfRange, "index out of range")
	}
	l.items[index] = append([]byte(nil), value...)
	return nil
}

// LTrim keeps only the inclusive [start, stop] range, deleting the key if
// the result is empty.
func (s *Store) LTrim(key string, start, stop int) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return
	}
	n := len(l.items)
	start = normalize(start, n)
	stop = normalize(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		sh.Delete(key)
		return
	}
	l.items = append([][]byte(nil), l.items[start:stop+1]...)
	if len(l.items) == 0 {
		sh.Delete(key)
	}
}

// LRem removes occurrences of value: positive count from the head, negative
// from the tail, zero removes all. Returns the number removed.
func (s *Store) LRem(key string, count int, value []byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return 0
	}

	eq := func(a []byte) bool { return string(a) == string(value) }
	removed := 0
	out := make([][]byte, 0, len(l.items))

	switch {
	case count == 0:
		for _, v := range l.items {
			if eq(v) {
				removed++
				continue
			}
			out = append(out, v)
		}
	case count > 0:
		for _, v := range l.items {
			if removed < count && eq(v) {
				removed++
				continue
			}
			out = append(out, v)
		}
	default:
		limit := -count
		for i := len(l.items) - 1; i >= 0; i-- {
			v := l.items[i]
			if removed < limit && eq(v) {
				removed++
				continue
			}
			out = append([][]byte{v}, out...)
		}
	}

	l.items = out
	if len(l.items) == 0 {
		sh.Delete(key)
	}
	return removed
}

// LInsert inserts value before or after the first occurrence of pivot,
// failing with errs.NotFound if pivot is absent. Returns the new length.
func (s *Store) LInsert(key string, before bool, pivot, value []byte) (int, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return 0, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	idx := -1
	for i, v := range l.items {
		if string(v) == string(pivot) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, errs.New(errs.NotFound, "pivot not found")
	}
	at := idx
	if !before {
		at = idx + 1
	}
	l.items = append(l.items[:at:at], append([][]byte{append([]byte(nil), value...)}, l.items[at:]...)...)
	return len(l.items), nil
}

// LPos returns the index of the first occurrence of value, or
// errs.NotFound.
func (s *Store) LPos(key string, value []byte) (int, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return 0, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	for i, v := range l.items {
		if string(v) == string(value) {
			return i, nil
		}
	}
	return 0, errs.New(errs.NotFound, "value not found")
}

// LLen returns the list length, 0 if absent.
func (s *Store) LLen(key string) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	l, ok := get(sh, key)
	if !ok {
		return 0
	}
	return len(l.items)
}

// Len returns the number of live list keys, sweeping expired ones
// opportunistically. Used by the Key Manager's DBSIZE surface.
func (s *Store) Len() int {
	now := time.Now()
	n := 0
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			l, _ := sh.Get(k)
			if l.expired(now) {
				sh.Delete(k)
				continue
			}
			n++
		}
		sh.Unlock()
	}
	return n
}

// RandomKey returns a pseudo-random live list key, or ("", false) if empty.
// Used by the Key Manager's RANDOMKEY surface.
func (s *Store) RandomKey() (string, bool) {
	now := time.Now()
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			l, _ := sh.Get(k)
			if l.expired(now) {
				sh.Delete(k)
				continue
			}
			sh.Unlock()
			return k, true
		}
		sh.Unlock()
	}
	return "", false
}

// RPopLPush atomically moves the tail of src to the head of dst, returning
// the moved value or errs.KeyNotFound if src is empty/absent. Shards are
// locked in sorted index order when src != dst to avoid deadlock with a
// concurrent move in the opposite direction.
func (s *Store) RPopLPush(src, dst string) ([]byte, error) {
	return s.moveOne(src, dst, false)
}

// BLMove-style primitive shared by RPOPLPUSH and the blocking variant. The
// shard lock(s) are released before the destination's waiters are signalled
// so they don't immediately re-contend for a held lock.
func (s *Store) moveOne(src, dst string, _ bool) ([]byte, error) {
	shards, unlock := s.table.LockMultiWrite([]string{src, dst})
	_ = shards

	srcSh := s.table.Shard(src)
	l, ok := get(srcSh, src)
	if !ok || len(l.items) == 0 {
		unlock()
		return nil, errs.New(errs.KeyNotFound, "key %q not found or empty", src)
	}
	v := l.items[len(l.items)-1]
	l.items = l.items[:len(l.items)-1]
	if len(l.items) == 0 {
		srcSh.Delete(src)
	}

	dstSh := s.table.Shard(dst)
	dl, ok := get(dstSh, dst)
	if !ok {
		dl = &listValue{}
		dstSh.Set(dst, dl)
	}
	dl.items = append([][]byte{append([]byte(nil), v...)}, dl.items...)

	unlock()
	s.hub.signal(dst)
	return append([]byte(nil), v...), nil
}

// tryAll attempts the non-blocking pop over every candidate key in order,
// returning the first key that yielded a value.
func (s *Store) tryAll(keys []string, head bool) (key string, value []byte, ok bool) {
	for _, k := range keys {
		if vs := s.pop(k, head, 1); len(vs) == 1 {
			return k, vs[0], true
		}
	}
	return "", nil, false
}

// BLPop/BRPop try every key, then wait on whichever key's broadcast channel
// fires first (or every key's, whichever wakes), retrying until a value is
// found or timeout elapses.
func (s *Store) blockingPop(ctx context.Context, keys []string, timeout time.Duration, head bool) (string, []byte, error) {
	if k, v, ok := s.tryAll(keys, head); ok {
		return k, v, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		waits := make([]<-chan struct{}, len(keys))
		for i, k := range keys {
			waits[i] = s.hub.wait(k)
		}

		woke := make(chan struct{}, 1)
		for _, w := range waits {
			w := w
			go func() {
				select {
				case <-w:
					select {
					case woke <- struct{}{}:
					default:
					}
				case <-ctx.Done():
				}
			}()
		}

		select {
		case <-woke:
			if k, v, ok := s.tryAll(keys, head); ok {
				return k, v, nil
			}
			// spurious: another waiter won the race, loop and re-subscribe.
		case <-deadline:
			return "", nil, errs.New(errs.Timeout, "blocking pop timed out")
		case <-ctx.Done():
			return "", nil, errs.New(errs.Timeout, "blocking pop cancelled")
		}
	}
}

// BLPop/BRPop take a zero timeout to mean "wait forever" (bounded only by
// ctx), matching Redis's BLPOP timeout=0 semantics.
func (s *Store) BLPop(ctx context.Context, keys []string, timeout time.Duration) (string, []byte, error) {
	return s.blockingPop(ctx, keys, timeout, true)
}

func (s *Store) BRPop(ctx context.Context, keys []string, timeout time.Duration) (string, []byte, error) {
	return s.blockingPop(ctx, keys, timeout, false)
}

// BRPopLPush blocks until src has an element to move to dst, or times out.
func (s *Store) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, error) {
	if v, err := s.moveOne(src, dst, false); err == nil {
		return v, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		w := s.hub.wait(src)
		select {
		case <-w:
			if v, err := s.moveOne(src, dst, false); err == nil {
				return v, nil
			}
		case <-deadline:
			return nil, errs.New(errs.Timeout, "blocking rpoplpush timed out")
		case <-ctx.Done():
			return nil, errs.New(errs.Timeout, "blocking rpoplpush cancelled")
		}
	}
}
