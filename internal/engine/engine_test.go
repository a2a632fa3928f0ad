package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/ops"
	"github.com/hivellm/synap/internal/plog"
	"github.com/hivellm/synap/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Shards = 4
	e, err := New(cfg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestApplyPersistsAndBumpsKeyVersion(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Txn.Watch("watcher", []string{"k"}))

	_, err := e.Apply(&ops.KVSet{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	assert.True(t, e.KeyManager.Exists("k"))

	recs, err := e.sink.Recover()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "KVSet", recs[0].Kind)

	_, aborted, err := e.Txn.Exec("watcher")
	require.NoError(t, err)
	assert.True(t, aborted, "Apply must bump the watched key's version")

	status := e.Txn.Status("nonexistent-client")
	assert.False(t, status.Open)
}

func TestRecoveryReplaysAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Shards = 4
	cfg.Sink = config.SinkConfig{Kind: "bolt", Path: dir}

	e1, err := New(cfg, dir)
	require.NoError(t, err)
	_, err = e1.Apply(&ops.KVSet{Key: "k", Value: []byte("persisted")})
	require.NoError(t, err)
	require.NoError(t, e1.Shutdown())

	e2, err := New(cfg, dir)
	require.NoError(t, err)
	defer e2.Shutdown()

	got, err := e2.opCtx.Stores.Strings.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestCommandIntegratesWithTxn(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Txn.Multi("c1"))
	cmd := e.Command(&ops.KVSet{Key: "tx-key", Value: []byte("v1")})
	assert.True(t, e.Txn.QueueCommand("c1", cmd))

	results, aborted, err := e.Txn.Exec("c1")
	require.NoError(t, err)
	assert.False(t, aborted)
	require.Len(t, results, 1)

	got, err := e.opCtx.Stores.Strings.Get("tx-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestScriptBridgeRoutesThroughEngine(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Script.Eval(`
		redis.call("set", KEYS[1], ARGV[1])
		return redis.call("get", KEYS[1])
	`, []string{"sk"}, []string{"sv"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "sv", result)
}

func TestBridgeIncrBy(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Call("set", [][]byte{[]byte("ctr"), []byte("10")})
	require.NoError(t, err)

	result, err := e.Call("incrby", [][]byte{[]byte("ctr"), []byte("5")})
	require.NoError(t, err)
	assert.Equal(t, int64(15), result)
}

func TestBridgeUnsupportedCommand(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Call("flushall", nil)
	assert.Error(t, err)
}

func TestApplyPartitionPublishToExistingTopic(t *testing.T) {
	e := newTestEngine(t)
	e.PLog.CreateTopic("t", plog.TopicConfig{NumPartitions: 1, Retention: plog.Retention{Kind: plog.RetentionInfinite}})

	res, err := e.Apply(&ops.PartitionPublish{Topic: "t", EventType: "evt", Data: []byte("d")})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestStartAndStopBackgroundLoops(t *testing.T) {
	e := newTestEngine(t)
	e.StartBackgroundLoops()
}
