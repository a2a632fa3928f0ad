package hashes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/errs"
)

func TestHSetGetDel(t *testing.T) {
	s := New(16)
	assert.Equal(t, 1, s.HSet("h", "f", []byte("v")))
	assert.Equal(t, 0, s.HSet("h", "f", []byte("v2")))

	v, err := s.HGet("h", "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	assert.Equal(t, 1, s.HDel("h", "f"))
	assert.False(t, s.HExists("h", "f"))
}

func TestHDelEmptiesKey(t *testing.T) {
	s := New(16)
	s.HSet("h", "f", []byte("v"))
	s.HDel("h", "f")
	assert.Equal(t, 0, s.HLen("h"))
	_, err := s.HGet("h", "f")
	assert.Equal(t, errs.KeyNotFound, errs.KindOf(err))
}

func TestHSetNX(t *testing.T) {
	s := New(16)
	assert.True(t, s.HSetNX("h", "f", []byte("v1")))
	assert.False(t, s.HSetNX("h", "f", []byte("v2")))
	v, _ := s.HGet("h", "f")
	assert.Equal(t, []byte("v1"), v)
}

func TestHIncrBy(t *testing.T) {
	s := New(16)
	n, err := s.HIncrBy("h", "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.HIncrBy("h", "counter", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestHIncrByFloat(t *testing.T) {
	s := New(16)
	f, err := s.HIncrByFloat("h", "f", 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 1e-9)

	f, err = s.HIncrByFloat("h", "f", 2.25)
	require.NoError(t, err)
	assert.InDelta(t, 3.75, f, 1e-9)
}

func TestHGetAllKeysVals(t *testing.T) {
	s := New(16)
	s.HMSet("h", map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	all := s.HGetAll("h")
	assert.Len(t, all, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, s.HKeys("h"))
	assert.Len(t, s.HVals("h"), 2)
}

func TestHMGetMissingField(t *testing.T) {
	s := New(16)
	s.HSet("h", "a", []byte("1"))
	got := s.HMGet("h", []string{"a", "missing"})
	assert.Equal(t, []byte("1"), got[0])
	assert.Nil(t, got[1])
}
