// Package hashes implements Synap's hash store: field→bytes maps with a
// per-hash TTL, mirroring Redis's HSET/HGET family.
package hashes

import (
	"math"
	"strconv"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/shard"
)

type hashValue struct {
	fields    map[string][]byte
	hasExpiry bool
	expiresAt time.Time
	createdAt time.Time
	updatedAt time.Time
}

func (h *hashValue) expired(now time.Time) bool {
	return h.hasExpiry && now.After(h.expiresAt)
}

// Store is the hash store.
type Store struct {
	table *shard.Table[*hashValue]
}

// New builds a Store with n shards.
func New(n int) *Store {
	return &Store{table: shard.NewTable[*hashValue](n)}
}

// get returns the live hash at key, removing it first if expired. Must be
// called with the shard locked.
func get(sh *shard.Shard[*hashValue], key string) (*hashValue, bool) {
	h, ok := sh.Get(key)
	if !ok {
		return nil, false
	}
	if h.expired(time.Now()) {
		sh.Delete(key)
		return nil, false
	}
	return h, true
}

// HSet sets field to value in key's hash, creating the hash if absent.
// Returns the number of new fields created (0 or 1).
func (s *Store) HSet(key, field string, val []byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	h, ok := get(sh, key)
	if !ok {
		h = &hashValue{fields: make(map[string][]byte), createdAt: time.Now()}
		sh.Set(key, h)
	}
	_, existed := h.fields[field]
	h.fields[field] = append([]byte(nil), val...)
	h.updatedAt = time.Now()
	if existed {
		return 0
	}
	return 1
}

// HSetNX sets field only if it does not already exist, reporting whether it
// created the field.
func (s *Store) HSetNX(key, field string, val []byte) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	h, ok := get(sh, key)
	if !ok {
		h = &hashValue{fields: make(map[string][]byte), createdAt: time.Now()}
		sh.Set(key, h)
	}
	if _, exists := h.fields[field]; exists {
		return false
	}
	h.fields[field] = append([]byte(nil), val...)
	h.updatedAt = time.Now()
	return true
}

// HGet returns the bytes for field, or errs.NotFound.
func (s *Store) HGet(key, field string) ([]byte, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return nil, errs.New(errs.KeyNotFound, "key %q not found", key)
	}
	v, ok := h.fields[field]
	if !ok {
		return nil, errs.New(errs.NotFound, "field %q not found", field)
	}
	return append([]byte(nil), v...), nil
}

// HDel removes fields, returning the count actually removed. Deletes the
// key entirely if the hash becomes empty.
func (s *Store) HDel(key string, fields ...string) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return 0
	}
	n := 0
	for _, f := range fields {
		if _, exists := h.fields[f]; exists {
			delete(h.fields, f)
			n++
		}
	}
	if len(h.fields) == 0 {
		sh.Delete(key)
	} else if n > 0 {
		h.updatedAt = time.Now()
	}
	return n
}

// HExists reports whether field exists in key's hash.
func (s *Store) HExists(key, field string) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return false
	}
	_, ok = h.fields[field]
	return ok
}

// HGetAll returns a copy of the full field map.
func (s *Store) HGetAll(key string) map[string][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return map[string][]byte{}
	}
	out := make(map[string][]byte, len(h.fields))
	for k, v := range h.fields {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// HKeys returns all field names.
func (s *Store) HKeys(key string) []string {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(h.fields))
	for k := range h.fields {
		out = append(out, k)
	}
	return out
}

// HVals returns all field values.
func (s *Store) HVals(key string) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(h.fields))
	for _, v := range h.fields {
		out = append(out, append([]byte(nil), v...))
	}
	return out
}

// HLen returns the number of fields.
func (s *Store) HLen(key string) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		return 0
	}
	return len(h.fields)
}

// HMSet sets multiple fields atomically within the hash's shard lock.
func (s *Store) HMSet(key string, pairs map[string][]byte) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	h, ok := get(sh, key)
	if !ok {
		h = &hashValue{fields: make(map[string][]byte), createdAt: time.Now()}
		sh.Set(key, h)
	}
	for f, v := range pairs {
		h.fields[f] = append([]byte(nil), v...)
	}
	h.updatedAt = time.Now()
}

// HMGet returns a value (or nil) per requested field, in order.
func (s *Store) HMGet(key string, fields []string) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	out := make([][]byte, len(fields))
	h, ok := get(sh, key)
	if !ok {
		return out
	}
	for i, f := range fields {
		if v, exists := h.fields[f]; exists {
			out[i] = append([]byte(nil), v...)
		}
	}
	return out
}

// HIncrBy parses field as a signed base-10 integer and adds delta,
// overflow-safe.
func (s *Store) HIncrBy(key, field string, delta int64) (int64, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	h, ok := get(sh, key)
	if !ok {
		h = &hashValue{fields: make(map[string][]byte), createdAt: time.Now()}
		sh.Set(key, h)
	}

	var cur int64
	if v, exists := h.fields[field]; exists {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, errs.New(errs.InvalidValue, "hash value is not an integer")
		}
		cur = parsed
	}

	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		return 0, errs.New(errs.InvalidValue, "increment would overflow")
	}

	h.fields[field] = []byte(strconv.FormatInt(next, 10))
	h.updatedAt = time.Now()
	return next, nil
}

// Len returns the number of live hash keys, sweeping expired ones
// opportunistically. Used by the Key Manager's DBSIZE surface.
func (s *Store) Len() int {
	now := time.Now()
	n := 0
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			h, _ := sh.Get(k)
			if h.expired(now) {
				sh.Delete(k)
				continue
			}
			n++
		}
		sh.Unlock()
	}
	return n
}

// RandomKey returns a pseudo-random live hash key, or ("", false) if empty.
// Used by the Key Manager's RANDOMKEY surface.
func (s *Store) RandomKey() (string, bool) {
	now := time.Now()
	for _, sh := range s.table.All() {
		sh.Lock()
		for _, k := range sh.Keys() {
			h, _ := sh.Get(k)
			if h.expired(now) {
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

// HIncrByFloat parses field as a 64-bit float and adds delta.
func (s *Store) HIncrByFloat(key, field string, delta float64) (float64, error) {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()

	h, ok := get(sh, key)
	if !ok {
		h = &hashValue{fields: make(map[string][]byte), createdAt: time.Now()}
		sh.Set(key, h)
	}

	var cur float64
	if v, exists := h.fields[field]; exists {
		parsed, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, errs.New(errs.InvalidValue, "hash value is not a float")
		}
		cur = parsed
	}

	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, errs.New(errs.InvalidValue, "increment would produce a non-finite value")
	}

	h.fields[field] = []byte(strconv.FormatFloat(next, 'f', -1, 64))
	h.updatedAt = time.Now()
	return next, nil
}
