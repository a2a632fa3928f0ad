package keymanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/store/hashes"
	"github.com/hivellm/synap/internal/store/lists"
	"github.com/hivellm/synap/internal/store/sets"
	strs "github.com/hivellm/synap/internal/store/strings"
	"github.com/hivellm/synap/internal/store/zsets"
)

func newManager() *Manager {
	return New(Stores{
		Strings: strs.New(16),
		Hashes:  hashes.New(16),
		Lists:   lists.New(16),
		Sets:    sets.New(16),
		ZSets:   zsets.New(16),
	})
}

func TestTypeDetectionOrder(t *testing.T) {
	m := newManager()
	assert.Equal(t, TypeNone, m.Type("k"))

	m.stores.Strings.Set("k", []byte("v"), 0)
	assert.Equal(t, TypeString, m.Type("k"))

	m.stores.Hashes.HSet("k", "f", []byte("v"))
	assert.Equal(t, TypeHash, m.Type("k"))

	m.stores.Lists.RPush("k", []byte("v"))
	assert.Equal(t, TypeList, m.Type("k"))

	m.stores.Sets.SAdd("k", []byte("v"))
	assert.Equal(t, TypeSet, m.Type("k"))

	m.stores.ZSets.ZAdd("k", []byte("v"), 1, zsets.Opts{})
	assert.Equal(t, TypeSortedSet, m.Type("k"))
}

func TestExistsAndDelete(t *testing.T) {
	m := newManager()
	assert.False(t, m.Exists("k"))
	m.stores.Strings.Set("k", []byte("v"), 0)
	assert.True(t, m.Exists("k"))
	assert.True(t, m.Delete("k"))
	assert.False(t, m.Exists("k"))
	assert.False(t, m.Delete("k"))
}

func TestRenameMovesAcrossTypes(t *testing.T) {
	m := newManager()
	m.stores.Lists.RPush("src", []byte("a"), []byte("b"))
	m.stores.Strings.Set("dst", []byte("old"), 0)

	require.NoError(t, m.Rename("src", "dst"))
	assert.False(t, m.Exists("src"))
	assert.Equal(t, TypeList, m.Type("dst"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, m.stores.Lists.LRange("dst", 0, -1))
}

func TestRenameMissingSource(t *testing.T) {
	m := newManager()
	err := m.Rename("missing", "dst")
	assert.Error(t, err)
}

func TestRenameNX(t *testing.T) {
	m := newManager()
	m.stores.Strings.Set("src", []byte("a"), 0)
	m.stores.Strings.Set("dst", []byte("b"), 0)

	ok, err := m.RenameNX("src", "dst")
	require.NoError(t, err)
	assert.False(t, ok)

	m.stores.Strings.Del("dst")
	ok, err = m.RenameNX("src", "dst")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenameSameKeyIsNoopNotDataLoss(t *testing.T) {
	m := newManager()
	m.stores.Lists.RPush("k", []byte("a"), []byte("b"))

	require.NoError(t, m.Rename("k", "k"))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, m.stores.Lists.LRange("k", 0, -1))

	ok, err := m.RenameNX("k", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, m.stores.Lists.LRange("k", 0, -1))

	ok, err = m.Copy("k", "k", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, m.stores.Lists.LRange("k", 0, -1))
}

func TestCopyReplace(t *testing.T) {
	m := newManager()
	m.stores.Sets.SAdd("src", []byte("a"), []byte("b"))
	m.stores.Strings.Set("dst", []byte("existing"), 0)

	ok, err := m.Copy("src", "dst", false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Copy("src", "dst", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, TypeSet, m.Type("dst"))
	assert.True(t, m.Exists("src"))
}

func TestDBSizeAndRandomKey(t *testing.T) {
	m := newManager()
	assert.Equal(t, 0, m.DBSize())
	_, ok := m.RandomKey()
	assert.False(t, ok)

	m.stores.Strings.Set("s1", []byte("v"), 0)
	m.stores.Hashes.HSet("h1", "f", []byte("v"))
	m.stores.Lists.RPush("l1", []byte("v"))

	assert.Equal(t, 3, m.DBSize())
	k, ok := m.RandomKey()
	assert.True(t, ok)
	assert.Contains(t, []string{"s1", "h1", "l1"}, k)
}
