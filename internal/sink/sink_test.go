package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullSinkDiscards(t *testing.T) {
	var s NullSink
	require.NoError(t, s.Append("KVSet", []byte("x")))
	recs, err := s.Recover()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemorySinkOrdersBySequence(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Append("KVSet", []byte("a")))
	require.NoError(t, s.Append("KVDel", []byte("b")))

	recs, err := s.Recover()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, "KVSet", recs[0].Kind)
	assert.Equal(t, uint64(2), recs[1].Seq)
	assert.Equal(t, "KVDel", recs[1].Kind)
}

func TestBoltSinkPersistsAndRecovers(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltSink(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append("KVSet", []byte(`{"key":"a","value":"1"}`)))
	require.NoError(t, s.Append("HashSet", []byte(`{"key":"h","field":"f","value":"v"}`)))
	require.NoError(t, s.Close())

	reopened, err := NewBoltSink(dir)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Recover()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "KVSet", recs[0].Kind)
	assert.Equal(t, "HashSet", recs[1].Kind)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(2), recs[1].Seq)

	// sequence continues from recovered max after reopen
	require.NoError(t, reopened.Append("KVDel", []byte(`{"key":"a"}`)))
	recs, err = reopened.Recover()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(3), recs[2].Seq)
}

func TestBoltSinkOpenCreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltSink(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "synap-wal.db"))
	require.NoError(t, err)
}
