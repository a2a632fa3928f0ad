package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCmd struct {
	keys  []string
	value interface{}
	err   error
	calls *int
}

func (c fakeCmd) Keys() []string { return c.keys }
func (c fakeCmd) Apply() (interface{}, error) {
	if c.calls != nil {
		*c.calls++
	}
	return c.value, c.err
}

func TestMultiRejectsNested(t *testing.T) {
	m := New()
	require.NoError(t, m.Multi("c1"))
	err := m.Multi("c1")
	assert.Error(t, err)
}

func TestWatchImplicitlyCreatesTransaction(t *testing.T) {
	m := New()
	require.NoError(t, m.Watch("c1", []string{"k"}))
	st := m.Status("c1")
	assert.True(t, st.Open)
	assert.Equal(t, 1, st.WatchedKeys)
}

func TestQueueCommandWithoutTransactionReturnsFalse(t *testing.T) {
	m := New()
	queued := m.QueueCommand("c1", fakeCmd{keys: []string{"k"}})
	assert.False(t, queued)
}

func TestExecAppliesInOrderAndBumpsVersions(t *testing.T) {
	m := New()
	require.NoError(t, m.Multi("c1"))
	calls := 0
	assert.True(t, m.QueueCommand("c1", fakeCmd{keys: []string{"a"}, value: 1, calls: &calls}))
	assert.True(t, m.QueueCommand("c1", fakeCmd{keys: []string{"b"}, value: 2, calls: &calls}))

	results, aborted, err := m.Exec("c1")
	require.NoError(t, err)
	assert.False(t, aborted)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Value)
	assert.Equal(t, 2, results[1].Value)
	assert.Equal(t, 2, calls)

	st := m.Status("c1")
	assert.False(t, st.Open)
}

func TestExecAbortsOnWatchedKeyChanged(t *testing.T) {
	m := New()
	require.NoError(t, m.Watch("c1", []string{"k"}))
	m.QueueCommand("c1", fakeCmd{keys: []string{"k"}, value: "x"})

	m.UpdateKeyVersion("k") // concurrent writer bumps version

	results, aborted, err := m.Exec("c1")
	require.NoError(t, err)
	assert.True(t, aborted)
	assert.Nil(t, results)
}

func TestDiscardDropsTransaction(t *testing.T) {
	m := New()
	require.NoError(t, m.Multi("c1"))
	m.Discard("c1")
	assert.False(t, m.Status("c1").Open)
}

func TestUnwatchClearsWatchedKeysOnly(t *testing.T) {
	m := New()
	require.NoError(t, m.Watch("c1", []string{"k"}))
	m.QueueCommand("c1", fakeCmd{keys: []string{"k"}})
	m.Unwatch("c1")

	st := m.Status("c1")
	assert.True(t, st.Open)
	assert.Equal(t, 0, st.WatchedKeys)
	assert.Equal(t, 1, st.QueuedCount)
}

func TestExecNoTransactionErrors(t *testing.T) {
	m := New()
	_, _, err := m.Exec("ghost")
	assert.Error(t, err)
}
