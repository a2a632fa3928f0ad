// Package shard implements the 64-way lock-striped key distribution that
// every data store (string, hash, list, set, sorted-set) builds on. Each
// shard owns one map and one writer-preferring RWMutex; it is the sole point
// of mutual exclusion for a single-key operation. Different shards proceed
// fully in parallel.
package shard

import (
	"hash/maphash"
	"sort"
	"sync"
)

var seed = maphash.MakeSeed()

// Index returns the shard index for key under a table of n shards (n must
// be a power of two). The hash is stable for the process lifetime but not
// across restarts — callers must not persist shard indices.
func Index(key string, n int) int {
	var h maphash.Hash
	h.SetSeed(seed)
	_, _ = h.WriteString(key)
	return int(h.Sum64() & uint64(n-1))
}

// Shard is one stripe: a map guarded by its own RWMutex.
type Shard[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

func newShard[T any]() *Shard[T] {
	return &Shard[T]{m: make(map[string]T)}
}

// Lock/Unlock/RLock/RUnlock expose the stripe's lock directly so stores can
// hold it across a get-check-mutate-delete sequence without a second map
// lookup.
func (s *Shard[T]) Lock()    { s.mu.Lock() }
func (s *Shard[T]) Unlock()  { s.mu.Unlock() }
func (s *Shard[T]) RLock()   { s.mu.RLock() }
func (s *Shard[T]) RUnlock() { s.mu.RUnlock() }

// Get/Set/Delete/Len must be called with the appropriate lock already held.
func (s *Shard[T]) Get(key string) (T, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *Shard[T]) Set(key string, v T) { s.m[key] = v }

func (s *Shard[T]) Delete(key string) { delete(s.m, key) }

func (s *Shard[T]) Len() int { return len(s.m) }

// Keys returns a snapshot of all keys currently in the shard. Must be called
// with at least a read lock held.
func (s *Shard[T]) Keys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

// Table is a fixed-size striped map from key to typed value T.
type Table[T any] struct {
	n      int
	shards []*Shard[T]
}

// NewTable builds a Table with n shards. n must be a power of two.
func NewTable[T any](n int) *Table[T] {
	if n <= 0 || n&(n-1) != 0 {
		panic("shard: table size must be a power of two")
	}
	t := &Table[T]{n: n, shards: make([]*Shard[T], n)}
	for i := range t.shards {
		t.shards[i] = newShard[T]()
	}
	return t
}

// Shards returns the number of stripes in the table.
func (t *Table[T]) Shards() int { return t.n }

// Shard returns the stripe owning key.
func (t *Table[T]) Shard(key string) *Shard[T] {
	return t.shards[Index(key, t.n)]
}

// All returns every stripe, useful for scans (SCAN/DBSIZE/RANDOMKEY).
func (t *Table[T]) All() []*Shard[T] { return t.shards }

// SortedIndices returns the distinct shard indices for keys, sorted
// ascending. Multi-key operations must lock shards in this order to avoid
// deadlocks with concurrent multi-key operations touching overlapping keys.
func SortedIndices(keys []string, n int) []int {
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		seen[Index(k, n)] = struct{}{}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// LockMultiRead/LockMultiWrite acquire every distinct shard touched by keys,
// in sorted index order, and return an unlock function. Suspension points
// (blocking ops, script bridge calls) must never occur between Lock and the
// returned Unlock call.
func (t *Table[T]) LockMultiWrite(keys []string) (shards []*Shard[T], unlock func()) {
	idx := SortedIndices(keys, t.n)
	shards = make([]*Shard[T], len(idx))
	for i, si := range idx {
		shards[i] = t.shards[si]
		shards[i].Lock()
	}
	return shards, func() {
		for i := len(shards) - 1; i >= 0; i-- {
			shards[i].Unlock()
		}
	}
}

func (t *Table[T]) LockMultiRead(keys []string) (shards []*Shard[T], unlock func()) {
	idx := SortedIndices(keys, t.n)
	shards = make([]*Shard[T], len(idx))
	for i, si := range idx {
		shards[i] = t.shards[si]
		shards[i].RLock()
	}
	return shards, func() {
		for i := len(shards) - 1; i >= 0; i-- {
			shards[i].RUnlock()
		}
	}
}
