// Package strings implements Synap's string store: byte values with an
// optional absolute expiration instant, atomic counters, and range/length
// operations over the 64-way shard table.
package strings

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/shard"
	"github.com/hivellm/synap/internal/statutil"
	"github.com/hivellm/synap/pkg/log"
)

// value is the typed payload held in one shard slot.
type value struct {
	bytes      []byte
	expiresAt  time.Time
	hasExpiry  bool
	lastTouch  time.Time
}

func (v *value) expired(now time.Time) bool {
	return v.hasExpiry && now.After(v.expiresAt)
}

// Stats mirrors the counters tracked for the string store.
type Stats struct {
	Gets, Sets, Dels, Hits, Misses uint64
}

// Store is the string KV store.
type Store struct {
	table *shard.Table[*value]

	gets, sets, dels, hits, misses prometheus.Counter
}

// New builds a Store with n shards (n must be a power of two).
func New(n int) *Store {
	mk := func(name string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synap_string_" + name + "_total",
			Help: "Synap string store " + name + " counter (internal, not exported).",
		})
	}
	return &Store{
		table:  shard.NewTable[*value](n),
		gets:   mk("gets"),
		sets:   mk("sets"),
		dels:   mk("dels"),
		hits:   mk("hits"),
		misses: mk("misses"),
	}
}

var logger = log.WithComponent("store.string")

// Stats returns a point-in-time snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Gets:   statutil.CounterValue(s.gets),
		Sets:   statutil.CounterValue(s.sets),
		Dels:   statutil.CounterValue(s.dels),
		Hits:   statutil.CounterValue(s.hits),
		Misses: statutil.CounterValue(s.misses),
	}
}

// Set stores bytes under key with an optional TTL (0 means no expiry).
func (s *Store) Set(key string, data []byte, ttl time.Duration) {
	s.sets.Inc()
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v := &value{bytes: append([]byte(nil), data...), lastTouch: time.Now()}
	if ttl > 0 {
		v.hasExpiry = true
		v.expiresAt = time.Now().Add(ttl)
	}
	sh.Set(key, v)
}

// Get returns the bytes for key, or errs.KeyNotFound. TTL is lazily
// enforced: an expired key is removed and observed as missing, never
// surfaced as errs.KeyExpired to the caller.
func (s *Store) Get(key string) ([]byte, error) {
	s.gets.Inc()
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := sh.Get(key)
	if !ok {
		s.misses.Inc()
		return nil, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	if v.expired(time.Now()) {
		sh.Delete(key)
		s.misses.Inc()
		return nil, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	s.hits.Inc()
	return append([]byte(nil), v.bytes...), nil
}

// Del removes keys, returning the count actually removed.
func (s *Store) Del(keys ...string) int {
	shards, unlock := s.table.LockMultiWrite(keys)
	defer unlock()
	_ = shards
	n := 0
	for _, k := range keys {
		sh := s.table.Shard(k)
		if v, ok := sh.Get(k); ok {
			if !v.expired(time.Now()) {
				n++
			}
			sh.Delete(k)
		}
	}
	s.dels.Add(float64(n))
	return n
}

// Exists reports whether key holds a live (non-expired) string.
func (s *Store) Exists(key string) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := sh.Get(key)
	if !ok {
		return false
	}
	if v.expired(time.Now()) {
		sh.Delete(key)
		return false
	}
	return true
}

// MGet returns a value (or nil) per key, in the same order.
func (s *Store) MGet(keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, err := s.Get(k); err == nil {
			out[i] = v
		}
	}
	return out
}

// MSet sets every key in pairs while holding the write locks of all touched
// shards (taken together, in sorted shard order, before any key is written),
// so the whole batch becomes visible at once without a single global lock.
func (s *Store) MSet(pairs map[string][]byte) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	shards, unlock := s.table.LockMultiWrite(keys)
	defer unlock()
	_ = shards
	now := time.Now()
	for k, v := range pairs {
		sh := s.table.Shard(k)
		sh.Set(k, &value{bytes: append([]byte(nil), v...), lastTouch: now})
	}
	s.sets.Add(float64(len(pairs)))
}

// Incr parses the existing value as a signed base-10 integer and adds delta,
// failing with errs.InvalidValue on a non-integer body or overflow.
func (s *Store) Incr(key string, delta int64) (int64, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	var cur int64
	if v, ok := sh.Get(key); ok && !v.expired(time.Now()) {
		parsed, err := strconv.ParseInt(string(v.bytes), 10, 64)
		if err != nil {
			return 0, errs.New(errs.InvalidValue, "value is not an integer")
		}
		cur = parsed
	}

	next, ok := addOverflowSafe(cur, delta)
	if !ok {
		logger.Debug().Str("key", key).Int64("delta", delta).Msg("incr overflow")
		return 0, errs.New(errs.InvalidValue, "increment would overflow")
	}

	sh.Set(key, &value{bytes: []byte(strconv.FormatInt(next, 10)), lastTouch: time.Now()})
	return next, nil
}

func addOverflowSafe(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Append appends data to the existing value (treating an absent key as
// empty) and returns the new length.
func (s *Store) Append(key string, data []byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	var buf []byte
	if v, ok := sh.Get(key); ok && !v.expired(time.Now()) {
		buf = v.bytes
	}
	buf = append(append([]byte(nil), buf...), data...)
	sh.Set(key, &value{bytes: buf, lastTouch: time.Now()})
	return len(buf)
}

// GetRange implements Redis-style inclusive, negative-from-end substring
// semantics.
func (s *Store) GetRange(key string, start, end int) ([]byte, error) {
	data, err := s.Get(key)
	if err != nil {
		if errs.KindOf(err) == errs.KeyNotFound {
			return []byte{}, nil
		}
		return nil, err
	}
	n := len(data)
	start = normalizeIndex(start, n)
	end = normalizeIndex(end, n)
	if start > end || start >= n || n == 0 {
		return []byte{}, nil
	}
	if end >= n {
		end = n - 1
	}
	if start < 0 {
		start = 0
	}
	return append([]byte(nil), data[start:end+1]...), nil
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return i
}

// Strlen returns the byte length of key, or 0 if absent.
func (s *Store) Strlen(key string) int {
	data, err := s.Get(key)
	if err != nil {
		return 0
	}
	return len(data)
}

// Expire sets a relative TTL (seconds) on an existing key. Returns false if
// the key does not exist.
func (s *Store) Expire(key string, seconds int64) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := sh.Get(key)
	if !ok || v.expired(time.Now()) {
		return false
	}
	v.hasExpiry = true
	v.expiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
	return true
}

// Persist removes any TTL from key. Returns false if the key did not exist
// or already had no TTL.
func (s *Store) Persist(key string) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := sh.Get(key)
	if !ok || v.expired(time.Now()) || !v.hasExpiry {
		return false
	}
	v.hasExpiry = false
	return true
}

// TTL returns remaining seconds, -1 for no TTL, -2 for absent.
func (s *Store) TTL(key string) int64 {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := sh.Get(key)
	if !ok {
		return -2
	}
	if v.expired(time.Now()) {
		sh.Delete(key)
		return -2
	}
	if !v.hasExpiry {
		return -1
	}
	remaining := time.Until(v.expiresAt)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// RandomKey returns a pseudo-random live key, or ("", false) if the store is
// empty. Used by the Key Manager's RANDOMKEY; DBSIZE uses Len.
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

// Len returns the number of live keys, sweeping expired ones opportunistically.
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
