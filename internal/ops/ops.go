// Package ops defines Synap's closed operation vocabulary: the
// JSON-serializable records every mutating API call produces exactly one
// of, which the core emits to the persistence sink after commit and replays
// deterministically on recovery. Grounded on pkg/manager/fsm.go's
// apply-by-kind shape: there, a single Raft FSM dispatched a handful of
// cluster-mutation kinds against one store; here, a larger closed vocabulary
// dispatches against five typed stores plus the queue, log and group
// coordinators.
package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/group"
	"github.com/hivellm/synap/internal/keymanager"
	"github.com/hivellm/synap/internal/plog"
	"github.com/hivellm/synap/internal/queue"
	"github.com/hivellm/synap/internal/store/zsets"
)

// Context bundles every component an operation may need to apply itself.
// It is the replay target: recovery constructs one Context wired to fresh
// stores and calls Apply for every record read back from the sink, in
// sequence order.
type Context struct {
	Stores keymanager.Stores
	Queue  *queue.Manager
	PLog   *plog.Manager
	Group  *group.Manager
}

// Op is one operation-vocabulary record. Kind is the wire/log tag used by
// the persistence sink; Apply performs the mutation against ctx and returns
// a JSON-representable result.
type Op interface {
	Kind() string
	// Keys reports every store key this op reads or writes, for the
	// transaction manager's key-version bump. Queue/log/group operations
	// have no watchable key and report nil.
	Keys() []string
	Apply(ctx *Context) (interface{}, error)
}

// Encode marshals op to a sink.Record-shaped (kind, payload) pair.
func Encode(op Op) (kind string, payload []byte, err error) {
	payload, err = json.Marshal(op)
	return op.Kind(), payload, err
}

// Decode builds the Op named by kind from its JSON payload, for replay.
func Decode(kind string, payload []byte) (Op, error) {
	var op Op
	switch kind {
	case "KVSet":
		op = &KVSet{}
	case "KVDel":
		op = &KVDel{}
	case "HashSet":
		op = &HashSet{}
	case "HashDel":
		op = &HashDel{}
	case "HashIncrBy":
		op = &HashIncrBy{}
	case "ListLPush":
		op = &ListLPush{}
	case "ListRPush":
		op = &ListRPush{}
	case "ListLPop":
		op = &ListLPop{}
	case "ListRPop":
		op = &ListRPop{}
	case "SetAdd":
		op = &SetAdd{}
	case "SetRem":
		op = &SetRem{}
	case "ZAdd":
		op = &ZAdd{}
	case "ZRem":
		op = &ZRem{}
	case "QueuePublish":
		op = &QueuePublish{}
	case "QueueAck":
		op = &QueueAck{}
	case "QueueNack":
		op = &QueueNack{}
	case "PartitionPublish":
		op = &PartitionPublish{}
	case "GroupCommit":
		op = &GroupCommit{}
	default:
		return nil, errs.New(errs.InvalidRequest, "unknown operation kind %q", kind)
	}
	if err := json.Unmarshal(payload, op); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return op, nil
}

// --- string store ---

// KVSet is SET key value [ttl-seconds].
type KVSet struct {
	Key        string `json:"key"`
	Value      []byte `json:"value"`
	TTLSeconds int64  `json:"ttl,omitempty"`
}

func (KVSet) Kind() string      { return "KVSet" }
func (o *KVSet) Keys() []string { return []string{o.Key} }

func (o *KVSet) Apply(ctx *Context) (interface{}, error) {
	var ttl time.Duration
	if o.TTLSeconds > 0 {
		ttl = time.Duration(o.TTLSeconds) * time.Second
	}
	ctx.Stores.Strings.Set(o.Key, o.Value, ttl)
	return true, nil
}

// KVDel is DEL key [key...].
type KVDel struct {
	TargetKeys []string `json:"keys"`
}

func (KVDel) Kind() string      { return "KVDel" }
func (o *KVDel) Keys() []string { return o.TargetKeys }

func (o *KVDel) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Strings.Del(o.TargetKeys...), nil
}

// --- hash store ---

// HashSet is HSET key field value.
type HashSet struct {
	Key   string `json:"key"`
	Field string `json:"field"`
	Value []byte `json:"value"`
}

func (HashSet) Kind() string      { return "HashSet" }
func (o *HashSet) Keys() []string { return []string{o.Key} }

func (o *HashSet) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Hashes.HSet(o.Key, o.Field, o.Value), nil
}

// HashDel is HDEL key field [field...].
type HashDel struct {
	Key    string   `json:"key"`
	Fields []string `json:"fields"`
}

func (HashDel) Kind() string      { return "HashDel" }
func (o *HashDel) Keys() []string { return []string{o.Key} }

func (o *HashDel) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Hashes.HDel(o.Key, o.Fields...), nil
}

// HashIncrBy is HINCRBY key field delta.
type HashIncrBy struct {
	Key   string `json:"key"`
	Field string `json:"field"`
	Delta int64  `json:"delta"`
}

func (HashIncrBy) Kind() string      { return "HashIncrBy" }
func (o *HashIncrBy) Keys() []string { return []string{o.Key} }

func (o *HashIncrBy) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Hashes.HIncrBy(o.Key, o.Field, o.Delta)
}

// --- list store ---

// ListLPush is LPUSH key value [value...].
type ListLPush struct {
	Key    string   `json:"key"`
	Values [][]byte `json:"values"`
}

func (ListLPush) Kind() string      { return "ListLPush" }
func (o *ListLPush) Keys() []string { return []string{o.Key} }

func (o *ListLPush) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Lists.LPush(o.Key, o.Values...), nil
}

// ListRPush is RPUSH key value [value...].
type ListRPush struct {
	Key    string   `json:"key"`
	Values [][]byte `json:"values"`
}

func (ListRPush) Kind() string      { return "ListRPush" }
func (o *ListRPush) Keys() []string { return []string{o.Key} }

func (o *ListRPush) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Lists.RPush(o.Key, o.Values...), nil
}

// ListLPop is LPOP key.
type ListLPop struct {
	Key string `json:"key"`
}

func (ListLPop) Kind() string      { return "ListLPop" }
func (o *ListLPop) Keys() []string { return []string{o.Key} }

func (o *ListLPop) Apply(ctx *Context) (interface{}, error) {
	vals := ctx.Stores.Lists.LPop(o.Key, 1)
	if len(vals) == 0 {
		return nil, nil
	}
	return vals[0], nil
}

// ListRPop is RPOP key.
type ListRPop struct {
	Key string `json:"key"`
}

func (ListRPop) Kind() string      { return "ListRPop" }
func (o *ListRPop) Keys() []string { return []string{o.Key} }

func (o *ListRPop) Apply(ctx *Context) (interface{}, error) {
	vals := ctx.Stores.Lists.RPop(o.Key, 1)
	if len(vals) == 0 {
		return nil, nil
	}
	return vals[0], nil
}

// --- set store ---

// SetAdd is SADD key member [member...].
type SetAdd struct {
	Key     string   `json:"key"`
	Members [][]byte `json:"members"`
}

func (SetAdd) Kind() string      { return "SetAdd" }
func (o *SetAdd) Keys() []string { return []string{o.Key} }

func (o *SetAdd) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Sets.SAdd(o.Key, o.Members...), nil
}

// SetRem is SREM key member [member...].
type SetRem struct {
	Key     string   `json:"key"`
	Members [][]byte `json:"members"`
}

func (SetRem) Kind() string      { return "SetRem" }
func (o *SetRem) Keys() []string { return []string{o.Key} }

func (o *SetRem) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.Sets.SRem(o.Key, o.Members...), nil
}

// --- sorted-set store ---

// ZAddOpts mirrors zsets.Opts for wire/replay serialization.
type ZAddOpts struct {
	NX, XX, GT, LT, CH, INCR bool
}

func (o ZAddOpts) toStoreOpts() zsets.Opts {
	return zsets.Opts{NX: o.NX, XX: o.XX, GT: o.GT, LT: o.LT, CH: o.CH, INCR: o.INCR}
}

// ZAdd is ZADD key member score [opts].
type ZAdd struct {
	Key    string   `json:"key"`
	Member []byte   `json:"member"`
	Score  float64  `json:"score"`
	Opts   ZAddOpts `json:"opts,omitempty"`
}

func (ZAdd) Kind() string      { return "ZAdd" }
func (o *ZAdd) Keys() []string { return []string{o.Key} }

func (o *ZAdd) Apply(ctx *Context) (interface{}, error) {
	newScore, _, err := ctx.Stores.ZSets.ZAdd(o.Key, o.Member, o.Score, o.Opts.toStoreOpts())
	if err != nil {
		return nil, err
	}
	return newScore, nil
}

// ZRem is ZREM key member [member...].
type ZRem struct {
	Key     string   `json:"key"`
	Members [][]byte `json:"members"`
}

func (ZRem) Kind() string      { return "ZRem" }
func (o *ZRem) Keys() []string { return []string{o.Key} }

func (o *ZRem) Apply(ctx *Context) (interface{}, error) {
	return ctx.Stores.ZSets.ZRem(o.Key, o.Members...), nil
}

// --- queue engine ---

// QueuePublish is PUBLISH(queue, payload, priority, max_retries).
type QueuePublish struct {
	Queue      string            `json:"queue"`
	Payload    []byte            `json:"payload"`
	Priority   int               `json:"priority"`
	MaxRetries int               `json:"max_retries"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (QueuePublish) Kind() string   { return "QueuePublish" }
func (QueuePublish) Keys() []string { return nil }

func (o *QueuePublish) Apply(ctx *Context) (interface{}, error) {
	msg, err := ctx.Queue.Publish(o.Queue, o.Payload, o.Priority, o.MaxRetries, o.Headers)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// QueueAck is ACK(queue, id).
type QueueAck struct {
	Queue string `json:"queue"`
	ID    string `json:"id"`
}

func (QueueAck) Kind() string   { return "QueueAck" }
func (QueueAck) Keys() []string { return nil }

func (o *QueueAck) Apply(ctx *Context) (interface{}, error) {
	return true, ctx.Queue.Ack(o.Queue, o.ID)
}

// QueueNack is NACK(queue, id, requeue).
type QueueNack struct {
	Queue   string `json:"queue"`
	ID      string `json:"id"`
	Requeue bool   `json:"requeue"`
}

func (QueueNack) Kind() string   { return "QueueNack" }
func (QueueNack) Keys() []string { return nil }

func (o *QueueNack) Apply(ctx *Context) (interface{}, error) {
	return true, ctx.Queue.Nack(o.Queue, o.ID, o.Requeue)
}

// --- partitioned log ---

// PartitionPublish is APPEND(topic, event_type, key?, data).
type PartitionPublish struct {
	Topic     string `json:"topic"`
	EventType string `json:"event_type"`
	Key       string `json:"key,omitempty"`
	Data      []byte `json:"data"`
}

func (PartitionPublish) Kind() string   { return "PartitionPublish" }
func (PartitionPublish) Keys() []string { return nil }

func (o *PartitionPublish) Apply(ctx *Context) (interface{}, error) {
	ev, err := ctx.PLog.Append(o.Topic, o.EventType, o.Key, o.Data)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// --- consumer-group coordinator ---

// GroupCommit is COMMIT(group, partition, offset).
type GroupCommit struct {
	Group     string `json:"group"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

func (GroupCommit) Kind() string   { return "GroupCommit" }
func (GroupCommit) Keys() []string { return nil }

func (o *GroupCommit) Apply(ctx *Context) (interface{}, error) {
	return true, ctx.Group.CommitOffset(o.Group, o.Partition, o.Offset)
}
