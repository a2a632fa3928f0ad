// Package sets implements Synap's set store: unordered unique byte-vector
// members with intersection/union/difference over N keys.
package sets

import (
	"math/rand"
	"time"

	"github.com/hivellm/synap/internal/shard"
)

type setValue struct {
	members   map[string][]byte // key: string(member) -> original bytes
	hasExpiry bool
	expiresAt time.Time
}

func (s *setValue) expired(now time.Time) bool {
	return s.hasExpiry && now.After(s.expiresAt)
}

// Store is the set store.
type Store struct {
	table *shard.Table[*setValue]
}

// New builds a Store with n shards.
func New(n int) *Store {
	return &Store{table: shard.NewTable[*setValue](n)}
}

func get(sh *shard.Shard[*setValue], key string) (*setValue, bool) {
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

// SAdd adds members to key's set, returning the count of newly added
// members.
func (s *Store) SAdd(key string, members ...[]byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		v = &setValue{members: make(map[string][]byte)}
		sh.Set(key, v)
	}
	n := 0
	for _, m := range members {
		k := string(m)
		if _, exists := v.members[k]; !exists {
			v.members[k] = append([]byte(nil), m...)
			n++
		}
	}
	return n
}

// SRem removes members, returning the count removed. Deletes the key if it
// becomes empty.
func (s *Store) SRem(key string, members ...[]byte) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	n := 0
	for _, m := range members {
		k := string(m)
		if _, exists := v.members[k]; exists {
			delete(v.members, k)
			n++
		}
	}
	if len(v.members) == 0 {
		sh.Delete(key)
	}
	return n
}

// SIsMember reports whether member is in key's set.
func (s *Store) SIsMember(key string, member []byte) bool {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return false
	}
	_, ok = v.members[string(member)]
	return ok
}

// SMembers returns a copy of all members.
func (s *Store) SMembers(key string) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(v.members))
	for _, m := range v.members {
		out = append(out, append([]byte(nil), m...))
	}
	return out
}

// SCard returns the number of members.
func (s *Store) SCard(key string) int {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok {
		return 0
	}
	return len(v.members)
}

// SPop removes and returns up to count random members.
func (s *Store) SPop(key string, count int) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok || len(v.members) == 0 {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	keys := make([]string, 0, len(v.members))
	for k := range v.members {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if count > len(keys) {
		count = len(keys)
	}
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = v.members[keys[i]]
		delete(v.members, keys[i])
	}
	if len(v.members) == 0 {
		sh.Delete(key)
	}
	return out
}

// SRandMember returns up to count random members without removing them.
func (s *Store) SRandMember(key string, count int) [][]byte {
	sh := s.table.Shard(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := get(sh, key)
	if !ok || len(v.members) == 0 {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	keys := make([]string, 0, len(v.members))
	for k := range v.members {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if count > len(keys) {
		count = len(keys)
	}
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = append([]byte(nil), v.members[keys[i]]...)
	}
	return out
}

// SMove atomically moves member from src to dst, acquiring both shards in
// sorted index order. Returns false if member was not in src.
func (s *Store) SMove(src, dst string, member []byte) bool {
	shards, unlock := s.table.LockMultiWrite([]string{src, dst})
	defer unlock()
	_ = shards

	srcSh := s.table.Shard(src)
	sv, ok := get(srcSh, src)
	if !ok {
		return false
	}
	k := string(member)
	if _, exists := sv.members[k]; !exists {
		return false
	}
	delete(sv.members, k)
	if len(sv.members) == 0 {
		srcSh.Delete(src)
	}

	dstSh := s.table.Shard(dst)
	dv, ok := get(dstSh, dst)
	if !ok {
		dv = &setValue{members: make(map[string][]byte)}
		dstSh.Set(dst, dv)
	}
	dv.members[k] = append([]byte(nil), member...)
	return true
}

// Len returns the number of live set keys, sweeping expired ones
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

// RandomKey returns a pseudo-random live set key, or ("", false) if empty.
// Used by the Key Manager's RANDOMKEY surface.
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

// snapshot reads every key's live member set, read-locking each shard in
// sorted order.
func (s *Store) snapshot(keys []string) []map[string][]byte {
	shards, unlock := s.table.LockMultiRead(keys)
	defer unlock()
	_ = shards
	out := make([]map[string][]byte, len(keys))
	for i, k := range keys {
		sh := s.table.Shard(k)
		v, ok := sh.Get(k)
		if !ok || v.expired(time.Now()) {
			out[i] = map[string][]byte{}
			continue
		}
		out[i] = v.members
	}
	return out
}

// SInter returns the intersection of every key's members.
func (s *Store) SInter(keys ...string) [][]byte {
	sets := s.snapshot(keys)
	if len(sets) == 0 {
		return nil
	}
	var out [][]byte
	for k, v := range sets[0] {
		in := true
		for _, other := range sets[1:] {
			if _, ok := other[k]; !ok {
				in = false
				break
			}
		}
		if in {
			out = append(out, append([]byte(nil), v...))
		}
	}
	return out
}

// SUnion returns the union of every key's members.
func (s *Store) SUnion(keys ...string) [][]byte {
	sets := s.snapshot(keys)
	seen := make(map[string][]byte)
	for _, set := range sets {
		for k, v := range set {
			seen[k] = v
		}
	}
	out := make([][]byte, 0, len(seen))
	for _, v := range seen {
		out = append(out, append([]byte(nil), v...))
	}
	return out
}

// SDiff returns members of the first key not present in any of the rest.
func (s *Store) SDiff(keys ...string) [][]byte {
	sets := s.snapshot(keys)
	if len(sets) == 0 {
		return nil
	}
	var out [][]byte
	for k, v := range sets[0] {
		in := false
		for _, other := range sets[1:] {
			if _, ok := other[k]; ok {
				in = true
				break
			}
		}
		if !in {
			out = append(out, append([]byte(nil), v...))
		}
	}
	return out
}

// storeResult writes members into dst, replacing any existing value there,
// and returns the resulting cardinality. Used by SINTERSTORE/SUNIONSTORE/
// SDIFFSTORE.
func (s *Store) storeResult(dst string, members [][]byte) int {
	sh := s.table.Shard(dst)
	sh.Lock()
	defer sh.Unlock()
	if len(members) == 0 {
		sh.Delete(dst)
		return 0
	}
	v := &setValue{members: make(map[string][]byte, len(members))}
	for _, m := range members {
		v.members[string(m)] = append([]byte(nil), m...)
	}
	sh.Set(dst, v)
	return len(v.members)
}

func (s *Store) SInterStore(dst string, keys ...string) int {
	return s.storeResult(dst, s.SInter(keys...))
}
func (s *Store) SUnionStore(dst string, keys ...string) int {
	return s.storeResult(dst, s.SUnion(keys...))
}
func (s *Store) SDiffStore(dst string, keys ...string) int {
	return s.storeResult(dst, s.SDiff(keys...))
}
