package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/group"
	"github.com/hivellm/synap/internal/keymanager"
	"github.com/hivellm/synap/internal/plog"
	"github.com/hivellm/synap/internal/queue"
	"github.com/hivellm/synap/internal/store/hashes"
	"github.com/hivellm/synap/internal/store/lists"
	"github.com/hivellm/synap/internal/store/sets"
	"github.com/hivellm/synap/internal/store/strings"
	"github.com/hivellm/synap/internal/store/zsets"
)

func newTestContext() *Context {
	return &Context{
		Stores: keymanager.Stores{
			Strings: strings.New(4),
			Hashes:  hashes.New(4),
			Lists:   lists.New(4),
			Sets:    sets.New(4),
			ZSets:   zsets.New(4),
		},
		Queue: queue.New(queue.Config{MaxDepth: 100, DefaultMaxRetries: 3}),
		PLog:  plog.New(),
		Group: group.New(),
	}
}

func TestKVSetDelRoundTripsThroughEncodeDecode(t *testing.T) {
	ctx := newTestContext()
	set := &KVSet{Key: "k", Value: []byte("v")}

	kind, payload, err := Encode(set)
	require.NoError(t, err)
	assert.Equal(t, "KVSet", kind)

	decoded, err := Decode(kind, payload)
	require.NoError(t, err)
	_, err = decoded.Apply(ctx)
	require.NoError(t, err)

	got, err := ctx.Stores.Strings.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	del := &KVDel{TargetKeys: []string{"k"}}
	n, err := del.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHashOps(t *testing.T) {
	ctx := newTestContext()
	_, err := (&HashSet{Key: "h", Field: "f", Value: []byte("1")}).Apply(ctx)
	require.NoError(t, err)

	v, err := (&HashIncrBy{Key: "h", Field: "f", Delta: 4}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	n, err := (&HashDel{Key: "h", Fields: []string{"f"}}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListOps(t *testing.T) {
	ctx := newTestContext()
	_, err := (&ListRPush{Key: "l", Values: [][]byte{[]byte("a"), []byte("b")}}).Apply(ctx)
	require.NoError(t, err)

	v, err := (&ListLPop{Key: "l"}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)
}

func TestSetOps(t *testing.T) {
	ctx := newTestContext()
	n, err := (&SetAdd{Key: "s", Members: [][]byte{[]byte("x")}}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = (&SetRem{Key: "s", Members: [][]byte{[]byte("x")}}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestZAddZRem(t *testing.T) {
	ctx := newTestContext()
	score, err := (&ZAdd{Key: "z", Member: []byte("m"), Score: 1.5}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, score)

	n, err := (&ZRem{Key: "z", Members: [][]byte{[]byte("m")}}).Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueOps(t *testing.T) {
	ctx := newTestContext()
	res, err := (&QueuePublish{Queue: "q", Payload: []byte("p"), Priority: 5}).Apply(ctx)
	require.NoError(t, err)
	msg := res.(*queue.Message)

	_, err = (&QueueAck{Queue: "q", ID: msg.ID}).Apply(ctx)
	require.NoError(t, err)

	_, err = (&QueueAck{Queue: "q", ID: msg.ID}).Apply(ctx)
	assert.Error(t, err)
}

func TestPartitionPublishRequiresExistingTopic(t *testing.T) {
	ctx := newTestContext()
	_, err := (&PartitionPublish{Topic: "missing", EventType: "e", Data: []byte("d")}).Apply(ctx)
	assert.Error(t, err)

	ctx.PLog.CreateTopic("t", plog.TopicConfig{NumPartitions: 2, Retention: plog.Retention{Kind: plog.RetentionInfinite}})
	_, err = (&PartitionPublish{Topic: "t", EventType: "e", Data: []byte("d")}).Apply(ctx)
	require.NoError(t, err)
}

func TestGroupCommitRequiresExistingGroup(t *testing.T) {
	ctx := newTestContext()
	_, err := (&GroupCommit{Group: "missing", Partition: 0, Offset: 1}).Apply(ctx)
	assert.Error(t, err)

	ctx.Group.EnsureGroup("g", 4, group.Config{Strategy: group.StrategyRoundRobin})
	_, err = (&GroupCommit{Group: "g", Partition: 0, Offset: 1}).Apply(ctx)
	require.NoError(t, err)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode("Bogus", []byte(`{}`))
	assert.Error(t, err)
}
