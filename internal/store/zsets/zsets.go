// Package zsets implements Synap's sorted-set store: member→score maps with
// a secondary ordering structure sorted by (score, member-bytes). This
// implementation keeps the secondary order as a sorted slice addressed by
// binary search, giving O(log n) rank lookups at the cost of O(n) inserts
// (a shift, not a full skip-list rebalance); score-range queries (ZCOUNT,
// ZRANGEBYSCORE) walk the slice linearly. That trade is
// documented in DESIGN.md as an accepted simplification: a from-scratch
// skip list buys nothing observable at this component's scale.
package zsets

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/shard"
)

// Member is one (member, score) pair returned by range queries.
type Member struct {
	Value []byte
	Score float64
}

type entry struct {
	member []byte
	score  float64
}

func less(a, b entry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return bytes.Compare(a.member, b.member) < 0
}

type zValue struct {
	scores    map[string]float64
	order     []entry
	hasExpiry bool
	expiresAt time.Time
}

func (z *zValue) expired(now time.Time) bool {
	return z.hasExpiry && now.After(z.expiresAt)
}

func (z *zValue) indexOf(member []byte, score float64) int {
	e := entry{member: member, score: score}
	return sort.Search(len(z.order), func(i int) bool { return !less(z.order[i], e) })
}

func (z *zValue) insert(member []byte, score float64) {
	i := z.indexOf(member, score)
	z.order = append(z.order, entry{})
	copy(z.order[i+1:], z.order[i:])
	z.order[i] = entry{member: append([]byte(nil), member...), score: score}
}

func (z *zValue) remove(member []byte, score float64) {
	i := z.indexOf(member, score)
	if i < len(z.order) && bytes.Equal(z.order[i].member, member) {
		z.order = append(z.order[:i], z.order[i+1:]...)
	}
}

// Opts encodes ZADD's XX/NX/GT/LT/CH/INCR modifiers.
type Opts struct {
	NX, XX, GT, LT, CH, INCR bool
}

// Store is the sorted-set store.
type Store struct {
	table *shard.Table[*zValue]
}

// New builds a Store with n shards.
func New(n int) *Store {
	return &Store{table: shard.NewTable[*zValue](n)}
}

func get(sh *shard.Shard[*zValue], key string) (*zValue, bool) {
	v, ok := sh.Get(key)
	if !ok {
		return nil, false
	}
	if v.expired(time.Now()) {
		sh.Delete(key)
		return nil, false
	}
	return v, true
}

// ZAdd adds or updates member's score under the given Opts. When INCR is
// set, score is a delta applied to the existing score (default 0). It
// returns the member's resulting score (the current score when NX, GT or LT
// leaves it unchanged; 0 when XX finds no member or NX blocks an INCR) and
// the number of elements added or changed (changed only counted if CH is
// set; always 0 under INCR).
func (s *Store) ZAdd(key string, member []byte, score float64, opts Opts) (float64, int, error) {
	if opts.NX && opts.XX {
		return 0, 0, errs.New(errs.InvalidValue, "NX and XX are mutually exclusive")
	}
	if (opts.GT || opts.LT) && opts.NX {
		return 0, 0, errs.New(errs.InvalidValue, "GT/LT not compatible with NX")
	}
	score, err := clampFloat(score)
	if err != nil {
		return 0, 0, err
	}

	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	v, ok := get(sh, key)
	if !ok {
		v = &zValue{scores: make(map[string]float64)}
		sh.Set(key, v)
	}

	cur, exists := v.scores[string(member)]
	if exists && opts.NX {
		if opts.INCR {
			return 0, 0, nil
		}
		return cur, 0, nil
	}
	if !exists && opts.XX {
		return 0, 0, nil
	}

	next := score
	if opts.INCR {
		next = cur + score
	}
	if exists {
		if opts.GT && next <= cur {
			return cur, 0, nil
		}
		if opts.LT && next >= cur {
			return cur, 0, nil
		}
	}

	if exists && cur == next {
		if opts.INCR {
			return next, 0, nil
		}
		return next, boolToInt(false), nil
	}

	if exists {
		v.remove(member, cur)
	}
	v.insert(member, next)
	v.scores[string(member)] = next

	if opts.INCR {
		return next, 0, nil
	}
	if !exists {
		return next, 1, nil
	}
	if opts.CH {
		return next, 1, nil
	}
	return next, 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ZRem removes members, returning the count removed.
func (s *Store) ZRem(key string, members ...[]byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	n := 0
	for _, m := range members {
		if score, exists := v.scores[string(m)]; exists {
			v.remove(m, score)
			delete(v.scores, string(m))
			n++
		}
	}
	if len(v.scores) == 0 {
		sh.Delete(key)
	}
	return n
}

// ZScore returns member's score, or errs.NotFound.
func (s *Store) ZScore(key string, member []byte) (float64, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	score, exists := v.scores[string(member)]
	if !exists {
		return 0, errs.New(errs.NotFound, "member not found")
	}
	return score, nil
}

// ZMScore returns a score (or nil) per requested member, in order.
func (s *Store) ZMScore(key string, members [][]byte) []*float64 {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	out := make([]*float64, len(members))
	v, ok := get(sh, key)
	if !ok {
		return out
	}
	for i, m := range members {
		if score, exists := v.scores[string(m)]; exists {
			sc := score
			out[i] = &sc
		}
	}
	return out
}

// ZCard returns the number of members.
func (s *Store) ZCard(key string) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	return len(v.order)
}

// ZIncrBy adds delta to member's score, creating the member at delta if
// absent, and returns the resulting score.
func (s *Store) ZIncrBy(key string, member []byte, delta float64) (float64, error) {
	score, _, err := s.ZAdd(key, member, delta, Opts{INCR: true})
	return score, err
}

// ZCount returns the number of members with min <= score <= max.
func (s *Store) ZCount(key string, min, max float64) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	n := 0
	for _, e := range v.order {
		if e.score >= min && e.score <= max {
			n++
		}
	}
	return n
}

// ZRange returns members by rank, inclusive, negative-from-end, in
// ascending order.
func (s *Store) ZRange(key string, start, stop int) []Member {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return nil
	}
	n := len(v.order)
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
	out := make([]Member, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, Member{Value: append([]byte(nil), v.order[i].member...), Score: v.order[i].score})
	}
	return out
}

// ZRevRange is ZRange in descending order.
func (s *Store) ZRevRange(key string, start, stop int) []Member {
	asc := s.ZRange(key, 0, -1)
	n := len(asc)
	rev := make([]Member, n)
	for i, m := range asc {
		rev[n-1-i] = m
	}
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
	return rev[start : stop+1]
}

func normalize(i, n int) int {
	if i < 0 {
		i += n
	}
	return i
}

// ZRangeByScore returns members with min <= score <= max, ascending.
func (s *Store) ZRangeByScore(key string, min, max float64) []Member {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return nil
	}
	var out []Member
	for _, e := range v.order {
		if e.score >= min && e.score <= max {
			out = append(out, Member{Value: append([]byte(nil), e.member...), Score: e.score})
		}
	}
	return out
}

// ZRank returns member's 0-based ascending rank, or errs.NotFound.
func (s *Store) ZRank(key string, member []byte) (int, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	score, exists := v.scores[string(member)]
	if !exists {
		return 0, errs.New(errs.NotFound, "member not found")
	}
	return v.indexOf(member, score), nil
}

// ZRevRank returns member's 0-based descending rank.
func (s *Store) ZRevRank(key string, member []byte) (int, error) {
	rank, err := s.ZRank(key, member)
	if err != nil {
		return 0, err
	}
	n := s.ZCard(key)
	return n - 1 - rank, nil
}

// ZPopMin/ZPopMax remove and return up to count members from the low/high
// end of the order.
func (s *Store) pop(key string, low bool, count int) []Member {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok || len(v.order) == 0 {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	if count > len(v.order) {
		count = len(v.order)
	}
	var popped []entry
	if low {
		popped = v.order[:count]
		v.order = v.order[count:]
	} else {
		popped = make([]entry, count)
		for i := 0; i < count; i++ {
			popped[i] = v.order[len(v.order)-1-i]
		}
		v.order = v.order[:len(v.order)-count]
	}
	out := make([]Member, len(popped))
	for i, e := range popped {
		out[i] = Member{Value: e.member, Score: e.score}
		delete(v.scores, string(e.member))
	}
	if len(v.order) == 0 {
		sh.Delete(key)
	}
	return out
}

func (s *Store) ZPopMin(key string, count int) []Member { return s.pop(key, true, count) }
func (s *Store) ZPopMax(key string, count int) []Member { return s.pop(key, false, count) }

// ZRemRangeByRank removes members whose rank falls in [start, stop].
func (s *Store) ZRemRangeByRank(key string, start, stop int) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	n := len(v.order)
	start = normalize(start, n)
	stop = normalize(stop, n)
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return 0
	}
	for i := start; i <= stop; i++ {
		delete(v.scores, string(v.order[i].member))
	}
	v.order = append(v.order[:start:start], v.order[stop+1:]...)
	if len(v.order) == 0 {
		sh.Delete(key)
	}
	return stop - start + 1
}

// ZRemRangeByScore removes members with min <= score <= max.
func (s *Store) ZRemRangeByScore(key string, min, max float64) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	kept := v.order[:0:0]
	removed := 0
	for _, e := range v.order {
		if e.score >= min && e.score <= max {
			delete(v.scores, string(e.member))
			removed++
			continue
		}
		kept = append(kept, e)
	}
	v.order = kept
	if len(v.order) == 0 {
		sh.Delete(key)
	}
	return removed
}

// Len returns the number of live sorted-set keys, sweeping expired ones
// opportunistically. Used by the Key Manager's DBSIZE surface.
func (s *Store) Len() int {
	now := time.Now()
	n := 0
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			v, _ := sh.Get(k)
			if v.expired(now) {
				sh.Delete(k)
				continue
			}
			n++
		}
		sh.Unlock()
	}
	return n
}

// RandomKey returns a pseudo-random live sorted-set key, or ("", false) if
// empty. Used by the Key Manager's RANDOMKEY surface.
func (s *Store) RandomKey() (string, bool) {
	now := time.Now()
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			v, _ := sh.Get(k)
			if v.expired(now) {
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

// clampFloat guards against NaN scores, which would break the (score,
// member) total order.
func clampFloat(f float64) (float64, error) {
	if math.IsNaN(f) {
		return 0, errs.New(errs.InvalidValue, "score must not be NaN")
	}
	return f, nil
}
