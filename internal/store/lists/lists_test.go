package lists

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/errs"
)

func TestPushPopOrder(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"), []byte("b"), []byte("c"))
	assert.Equal(t, [][]byte{[]byte("a")}, s.LPop("k", 1))
	assert.Equal(t, [][]byte{[]byte("c")}, s.RPop("k", 1))
	assert.Equal(t, 1, s.LLen("k"))
}

func TestPushXOnAbsentKey(t *testing.T) {
	s := New(16)
	assert.Equal(t, 0, s.LPushX("missing", []byte("v")))
	assert.Equal(t, 0, s.LLen("missing"))
}

func TestLRangeNegative(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"), []byte("b"), []byte("c"))
	got := s.LRange("k", -2, -1)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, got)
}

func TestLSetOutOfRange(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"))
	err := s.LSet("k", 5, []byte("x"))
	assert.Equal(t, errs.IndexOutOfRange, errs.KindOf(err))
}

func TestLRemVariants(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"), []byte("b"), []byte("a"), []byte("a"))
	assert.Equal(t, 2, s.LRem("k", 2, []byte("a")))
	assert.Equal(t, [][]byte{[]byte("b"), []byte("a")}, s.LRange("k", 0, -1))
}

func TestLRemIdempotentZero(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"), []byte("b"), []byte("a"))
	assert.Equal(t, 2, s.LRem("k", 0, []byte("a")))
	assert.Equal(t, 0, s.LRem("k", 0, []byte("a")))
}

func TestLInsertNotFound(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"))
	_, err := s.LInsert("k", true, []byte("missing"), []byte("x"))
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestLInsertBeforeAfter(t *testing.T) {
	s := New(16)
	s.RPush("k", []byte("a"), []byte("c"))
	n, err := s.LInsert("k", true, []byte("c"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, s.LRange("k", 0, -1))
}

func TestRPopLPush(t *testing.T) {
	s := New(16)
	s.RPush("src", []byte("a"), []byte("b"))
	v, err := s.RPopLPush("src", "dst")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
	assert.Equal(t, [][]byte{[]byte("b")}, s.LRange("dst", 0, -1))
}

func TestBLPopImmediate(t *testing.T) {
	s := New(16)
	s.LPush("k", []byte("v"))
	key, v, err := s.BLPop(context.Background(), []string{"k"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "k", key)
	assert.Equal(t, []byte("v"), v)
}

func TestBLPopTimeout(t *testing.T) {
	s := New(16)
	_, _, err := s.BLPop(context.Background(), []string{"nope"}, 30*time.Millisecond)
	assert.Equal(t, errs.Timeout, errs.KindOf(err))
}

func TestBLPopWakesOnPush(t *testing.T) {
	s := New(16)
	done := make(chan struct{})
	var gotKey string
	var gotVal []byte
	go func() {
		k, v, err := s.BLPop(context.Background(), []string{"k"}, 2*time.Second)
		if err == nil {
			gotKey, gotVal = k, v
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.LPush("k", []byte("v"))

	select {
	case <-done:
		assert.Equal(t, "k", gotKey)
		assert.Equal(t, []byte("v"), gotVal)
	case <-time.After(time.Second):
		t.Fatal("blpop did not wake up")
	}
}
