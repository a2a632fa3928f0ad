// Package keymanager implements Synap's cross-store surface: type
// detection, EXISTS/RENAME/RENAMENX/COPY, and the DBSIZE/RANDOMKEY read
// paths. It is a thin facade over the five typed stores, grounded on
// pkg/manager.Manager's role as a facade-over-stores.
package keymanager

import (
	"math/rand"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/store/hashes"
	"github.com/hivellm/synap/internal/store/lists"
	"github.com/hivellm/synap/internal/store/sets"
	strs "github.com/hivellm/synap/internal/store/strings"
	"github.com/hivellm/synap/internal/store/zsets"
	"github.com/hivellm/synap/pkg/log"
)

// Type is one of the five typed-value kinds, or None.
type Type string

const (
	TypeNone      Type = "none"
	TypeString    Type = "string"
	TypeHash      Type = "hash"
	TypeList      Type = "list"
	TypeSet       Type = "set"
	TypeSortedSet Type = "sortedset"
)

// Stores bundles the five typed stores the Key Manager fronts.
type Stores struct {
	Strings *strs.Store
	Hashes  *hashes.Store
	Lists   *lists.Store
	Sets    *sets.Store
	ZSets   *zsets.Store
}

// Manager is the cross-store facade.
type Manager struct {
	stores Stores
}

var logger = log.WithComponent("keymanager")

// New builds a Manager over the given stores.
func New(stores Stores) *Manager {
	return &Manager{stores: stores}
}

// Type probes stores in the fixed order {sorted-set, set, list, hash,
// string} and returns the first non-empty hit.
func (m *Manager) Type(key string) Type {
	if m.stores.ZSets.ZCard(key) > 0 {
		return TypeSortedSet
	}
	if m.stores.Sets.SCard(key) > 0 {
		return TypeSet
	}
	if m.stores.Lists.LLen(key) > 0 {
		return TypeList
	}
	if m.stores.Hashes.HLen(key) > 0 {
		return TypeHash
	}
	if m.stores.Strings.Exists(key) {
		return TypeString
	}
	return TypeNone
}

// Exists reports whether key is present in any store.
func (m *Manager) Exists(key string) bool {
	return m.Type(key) != TypeNone
}

// delete removes key from whichever store currently owns it (internal,
// used by RENAME/COPY). A no-op if the key is absent everywhere.
func (m *Manager) delete(key string) {
	switch m.Type(key) {
	case TypeSortedSet:
		all := m.stores.ZSets.ZRange(key, 0, -1)
		members := make([][]byte, len(all))
		for i, e := range all {
			members[i] = e.Value
		}
		m.stores.ZSets.ZRem(key, members...)
	case TypeSet:
		m.stores.Sets.SRem(key, m.stores.Sets.SMembers(key)...)
	case TypeList:
		m.stores.Lists.LTrim(key, 1, 0) // empties and deletes
	case TypeHash:
		m.stores.Hashes.HDel(key, m.stores.Hashes.HKeys(key)...)
	case TypeString:
		m.stores.Strings.Del(key)
	}
}

// Delete removes key from whichever store owns it, reporting whether
// anything was deleted.
func (m *Manager) Delete(key string) bool {
	existed := m.Exists(key)
	m.delete(key)
	return existed
}

// Rename moves src to dst across stores. Not atomic across stores: it is the
// only operation permitted to temporarily let a key exist in more than one
// store's keyspace, and must fully delete the destination first.
func (m *Manager) Rename(src, dst string) error {
	t := m.Type(src)
	if t == TypeNone {
		return errs.New(errs.KeyNotFound, "key %q not found", src)
	}
	if src == dst {
		return nil
	}
	m.delete(dst)
	m.copyInto(src, dst, t)
	m.delete(src)
	logger.Debug().Str("src", src).Str("dst", dst).Msg("rename")
	return nil
}

// RenameNX renames only if dst does not already exist.
func (m *Manager) RenameNX(src, dst string) (bool, error) {
	if src == dst {
		if !m.Exists(src) {
			return false, errs.New(errs.KeyNotFound, "key %q not found", src)
		}
		return true, nil
	}
	if m.Exists(dst) {
		return false, nil
	}
	if err := m.Rename(src, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Copy copies src to dst, optionally replacing an existing dst.
func (m *Manager) Copy(src, dst string, replace bool) (bool, error) {
	t := m.Type(src)
	if t == TypeNone {
		return false, errs.New(errs.KeyNotFound, "key %q not found", src)
	}
	if src == dst {
		return true, nil
	}
	if m.Exists(dst) {
		if !replace {
			return false, nil
		}
		m.delete(dst)
	}
	m.copyInto(src, dst, t)
	return true, nil
}

func (m *Manager) copyInto(src, dst string, t Type) {
	switch t {
	case TypeSortedSet:
		for _, e := range m.stores.ZSets.ZRange(src, 0, -1) {
			m.stores.ZSets.ZAdd(dst, e.Value, e.Score, zsets.Opts{})
		}
	case TypeSet:
		m.stores.Sets.SAdd(dst, m.stores.Sets.SMembers(src)...)
	case TypeList:
		m.stores.Lists.RPush(dst, m.stores.Lists.LRange(src, 0, -1)...)
	case TypeHash:
		m.stores.Hashes.HMSet(dst, m.stores.Hashes.HGetAll(src))
	case TypeString:
		if v, err := m.stores.Strings.Get(src); err == nil {
			ttl := m.stores.Strings.TTL(src)
			if ttl > 0 {
				m.stores.Strings.Set(dst, v, time.Duration(ttl)*time.Second)
			} else {
				m.stores.Strings.Set(dst, v, 0)
			}
		}
	}
}

// DBSize returns the count of live keys across all five stores.
func (m *Manager) DBSize() int {
	return m.stores.Strings.Len() +
		m.stores.Hashes.Len() +
		m.stores.Lists.Len() +
		m.stores.Sets.Len() +
		m.stores.ZSets.Len()
}

// RandomKey returns a live key chosen from a uniformly-picked store, or
// ("", false) if every store is empty. Uniformity is over stores first,
// then within the chosen store's RandomKey, which is a documented
// approximation rather than a true global uniform sample.
func (m *Manager) RandomKey() (string, bool) {
	sources := []func() (string, bool){
		m.stores.Strings.RandomKey,
		m.stores.Hashes.RandomKey,
		m.stores.Lists.RandomKey,
		m.stores.Sets.RandomKey,
		m.stores.ZSets.RandomKey,
	}
	for _, i := range rand.Perm(len(sources)) {
		if k, ok := sources[i](); ok {
			return k, true
		}
	}
	return "", false
}
