package engine

import (
	"strconv"
	"strings"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/internal/ops"
	"github.com/hivellm/synap/internal/store/zsets"
)

// dispatchBridgeCall implements the redis.call surface a sandboxed script
// can reach. Most mutating commands build the matching operation-vocabulary
// record and run it through e.Apply so a script's writes are persisted and
// version-bumped exactly like a direct API call. INCR/INCRBY/DECR/DECRBY,
// EXPIRE/PERSIST, ZPOPMIN/ZPOPMAX and ZREMRANGEBYRANK/ZREMRANGEBYSCORE have
// no matching record: they mutate the store directly, then persist an
// equivalent KVSet or ZRem and bump the key's version themselves. Read
// commands go straight to the stores.
func dispatchBridgeCall(e *Engine, command string, args [][]byte) (interface{}, error) {
	switch strings.ToLower(command) {
	case "set":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "set requires key and value")
		}
		return e.Apply(&ops.KVSet{Key: string(args[0]), Value: args[1]})
	case "get":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "get requires key")
		}
		v, err := e.opCtx.Stores.Strings.Get(string(args[0]))
		if err != nil {
			return nil, err
		}
		return v, nil
	case "del":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "del requires at least one key")
		}
		keys := make([]string, len(args))
		for i, a := range args {
			keys[i] = string(a)
		}
		return e.Apply(&ops.KVDel{TargetKeys: keys})
	case "incr":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "incr requires key")
		}
		delta := int64(1)
		if len(args) > 1 {
			d, err := strconv.ParseInt(string(args[1]), 10, 64)
			if err != nil {
				return nil, errs.New(errs.InvalidValue, "not an integer: %s", args[1])
			}
			delta = d
		}
		return incrViaKV(e, string(args[0]), delta)
	case "incrby":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "incrby requires key and delta")
		}
		delta, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "not an integer: %s", args[1])
		}
		return incrViaKV(e, string(args[0]), delta)
	case "hset":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "hset requires key, field, value")
		}
		return e.Apply(&ops.HashSet{Key: string(args[0]), Field: string(args[1]), Value: args[2]})
	case "hget":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "hget requires key and field")
		}
		v, err := e.opCtx.Stores.Hashes.HGet(string(args[0]), string(args[1]))
		if err != nil {
			return nil, err
		}
		return v, nil
	case "hdel":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "hdel requires key and at least one field")
		}
		fields := make([]string, len(args)-1)
		for i, a := range args[1:] {
			fields[i] = string(a)
		}
		return e.Apply(&ops.HashDel{Key: string(args[0]), Fields: fields})
	case "hincrby":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "hincrby requires key, field, delta")
		}
		delta, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "not an integer: %s", args[2])
		}
		return e.Apply(&ops.HashIncrBy{Key: string(args[0]), Field: string(args[1]), Delta: delta})
	case "lpush":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "lpush requires key and at least one value")
		}
		return e.Apply(&ops.ListLPush{Key: string(args[0]), Values: args[1:]})
	case "rpush":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "rpush requires key and at least one value")
		}
		return e.Apply(&ops.ListRPush{Key: string(args[0]), Values: args[1:]})
	case "lpop":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "lpop requires key")
		}
		return e.Apply(&ops.ListLPop{Key: string(args[0])})
	case "rpop":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "rpop requires key")
		}
		return e.Apply(&ops.ListRPop{Key: string(args[0])})
	case "lrange":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "lrange requires key, start, stop")
		}
		start, err1 := strconv.Atoi(string(args[1]))
		stop, err2 := strconv.Atoi(string(args[2]))
		if err1 != nil || err2 != nil {
			return nil, errs.New(errs.InvalidValue, "lrange bounds must be integers")
		}
		return e.opCtx.Stores.Lists.LRange(string(args[0]), start, stop), nil
	case "sadd":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "sadd requires key and at least one member")
		}
		return e.Apply(&ops.SetAdd{Key: string(args[0]), Members: args[1:]})
	case "srem":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "srem requires key and at least one member")
		}
		return e.Apply(&ops.SetRem{Key: string(args[0]), Members: args[1:]})
	case "smembers":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "smembers requires key")
		}
		return e.opCtx.Stores.Sets.SMembers(string(args[0])), nil
	case "zadd":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zadd requires key, score, member")
		}
		score, err := strconv.ParseFloat(string(args[1]), 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "score must be numeric: %s", args[1])
		}
		return e.Apply(&ops.ZAdd{Key: string(args[0]), Score: score, Member: args[2]})
	case "zrem":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "zrem requires key and at least one member")
		}
		return e.Apply(&ops.ZRem{Key: string(args[0]), Members: args[1:]})
	case "zscore":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "zscore requires key and member")
		}
		score, err := e.opCtx.Stores.ZSets.ZScore(string(args[0]), args[1])
		if err != nil {
			return nil, err
		}
		return score, nil
	case "exists":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "exists requires key")
		}
		return e.KeyManager.Exists(string(args[0])), nil
	case "type":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "type requires key")
		}
		return string(e.KeyManager.Type(string(args[0]))), nil
	case "decr":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "decr requires key")
		}
		return incrViaKV(e, string(args[0]), -1)
	case "decrby":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "decrby requires key and delta")
		}
		delta, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "not an integer: %s", args[1])
		}
		return incrViaKV(e, string(args[0]), -delta)
	case "expire":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "expire requires key and seconds")
		}
		seconds, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "not an integer: %s", args[1])
		}
		return expireViaKV(e, string(args[0]), seconds)
	case "persist":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "persist requires key")
		}
		return persistViaKV(e, string(args[0]))
	case "ttl":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "ttl requires key")
		}
		return e.opCtx.Stores.Strings.TTL(string(args[0])), nil
	case "hexists":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "hexists requires key and field")
		}
		return e.opCtx.Stores.Hashes.HExists(string(args[0]), string(args[1])), nil
	case "llen":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "llen requires key")
		}
		return e.opCtx.Stores.Lists.LLen(string(args[0])), nil
	case "sismember":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "sismember requires key and member")
		}
		return e.opCtx.Stores.Sets.SIsMember(string(args[0]), args[1]), nil
	case "scard":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "scard requires key")
		}
		return e.opCtx.Stores.Sets.SCard(string(args[0])), nil
	case "zcard":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "zcard requires key")
		}
		return e.opCtx.Stores.ZSets.ZCard(string(args[0])), nil
	case "zincrby":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zincrby requires key, delta, member")
		}
		delta, err := strconv.ParseFloat(string(args[1]), 64)
		if err != nil {
			return nil, errs.New(errs.InvalidValue, "delta must be numeric: %s", args[1])
		}
		return e.Apply(&ops.ZAdd{Key: string(args[0]), Score: delta, Member: args[2], Opts: ops.ZAddOpts{INCR: true}})
	case "zcount":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zcount requires key, min, max")
		}
		min, max, err := parseScoreRange(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return e.opCtx.Stores.ZSets.ZCount(string(args[0]), min, max), nil
	case "zrange":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zrange requires key, start, stop")
		}
		start, stop, err := parseRank(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return flattenMembers(e.opCtx.Stores.ZSets.ZRange(string(args[0]), start, stop)), nil
	case "zrevrange":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zrevrange requires key, start, stop")
		}
		start, stop, err := parseRank(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return flattenMembers(e.opCtx.Stores.ZSets.ZRevRange(string(args[0]), start, stop)), nil
	case "zrangebyscore":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zrangebyscore requires key, min, max")
		}
		min, max, err := parseScoreRange(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return flattenMembers(e.opCtx.Stores.ZSets.ZRangeByScore(string(args[0]), min, max)), nil
	case "zrank":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "zrank requires key and member")
		}
		rank, err := e.opCtx.Stores.ZSets.ZRank(string(args[0]), args[1])
		if err != nil {
			return nil, err
		}
		return rank, nil
	case "zrevrank":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "zrevrank requires key and member")
		}
		rank, err := e.opCtx.Stores.ZSets.ZRevRank(string(args[0]), args[1])
		if err != nil {
			return nil, err
		}
		return rank, nil
	case "zmscore":
		if len(args) < 2 {
			return nil, errs.New(errs.InvalidRequest, "zmscore requires key and at least one member")
		}
		scores := e.opCtx.Stores.ZSets.ZMScore(string(args[0]), args[1:])
		out := make([]interface{}, len(scores))
		for i, sc := range scores {
			if sc == nil {
				out[i] = nil
			} else {
				out[i] = *sc
			}
		}
		return out, nil
	case "zpopmin":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "zpopmin requires key")
		}
		return zPopViaZRem(e, string(args[0]), true, popCount(args))
	case "zpopmax":
		if len(args) < 1 {
			return nil, errs.New(errs.InvalidRequest, "zpopmax requires key")
		}
		return zPopViaZRem(e, string(args[0]), false, popCount(args))
	case "zremrangebyrank":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zremrangebyrank requires key, start, stop")
		}
		start, stop, err := parseRank(args[1], args[2])
		if err != nil {
			return nil, err
		}
		key := string(args[0])
		removed := e.opCtx.Stores.ZSets.ZRange(key, start, stop)
		n := e.opCtx.Stores.ZSets.ZRemRangeByRank(key, start, stop)
		persistZRem(e, key, removed)
		return n, nil
	case "zremrangebyscore":
		if len(args) < 3 {
			return nil, errs.New(errs.InvalidRequest, "zremrangebyscore requires key, min, max")
		}
		min, max, err := parseScoreRange(args[1], args[2])
		if err != nil {
			return nil, err
		}
		key := string(args[0])
		removed := e.opCtx.Stores.ZSets.ZRangeByScore(key, min, max)
		n := e.opCtx.Stores.ZSets.ZRemRangeByScore(key, min, max)
		persistZRem(e, key, removed)
		return n, nil
	default:
		return nil, errs.New(errs.InvalidRequest, "unsupported bridge command %q", command)
	}
}

func parseRank(a, b []byte) (int, int, error) {
	start, err1 := strconv.Atoi(string(a))
	stop, err2 := strconv.Atoi(string(b))
	if err1 != nil || err2 != nil {
		return 0, 0, errs.New(errs.InvalidValue, "start/stop must be integers")
	}
	return start, stop, nil
}

func parseScoreRange(a, b []byte) (float64, float64, error) {
	min, err1 := strconv.ParseFloat(string(a), 64)
	max, err2 := strconv.ParseFloat(string(b), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, errs.New(errs.InvalidValue, "min/max must be numeric")
	}
	return min, max, nil
}

func popCount(args [][]byte) int {
	if len(args) < 2 {
		return 1
	}
	n, err := strconv.Atoi(string(args[1]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func flattenMembers(members []zsets.Member) []interface{} {
	out := make([]interface{}, 0, len(members)*2)
	for _, m := range members {
		out = append(out, m.Value, m.Score)
	}
	return out
}

// expireViaKV mutates the string store's TTL directly, then persists the
// current value with the new relative TTL as a KVSet so replay reconstructs
// the same expiry without needing a dedicated Expire entry in the closed
// operation vocabulary.
func expireViaKV(e *Engine, key string, seconds int64) (interface{}, error) {
	if !e.opCtx.Stores.Strings.Expire(key, seconds) {
		return false, nil
	}
	persistTTL(e, key, seconds)
	return true, nil
}

// persistViaKV mirrors expireViaKV for PERSIST (TTLSeconds of 0 means none).
func persistViaKV(e *Engine, key string) (interface{}, error) {
	if !e.opCtx.Stores.Strings.Persist(key) {
		return false, nil
	}
	persistTTL(e, key, 0)
	return true, nil
}

func persistTTL(e *Engine, key string, seconds int64) {
	val, err := e.opCtx.Stores.Strings.Get(key)
	if err != nil {
		return
	}
	if perr := e.persist(&ops.KVSet{Key: key, Value: val, TTLSeconds: seconds}); perr != nil {
		logger.Error().Err(perr).Str("key", key).Msg("failed to persist ttl change as KVSet")
	}
	e.Txn.UpdateKeyVersion(key)
}

// zPopViaZRem pops count members from the low (ZPOPMIN) or high (ZPOPMAX)
// end directly against the store, then persists the popped members as a
// ZRem so replay reconstructs the same removal without needing dedicated
// ZPopMin/ZPopMax entries in the closed operation vocabulary.
func zPopViaZRem(e *Engine, key string, low bool, count int) (interface{}, error) {
	var popped []zsets.Member
	if low {
		popped = e.opCtx.Stores.ZSets.ZPopMin(key, count)
	} else {
		popped = e.opCtx.Stores.ZSets.ZPopMax(key, count)
	}
	persistZRem(e, key, popped)
	return flattenMembers(popped), nil
}

func persistZRem(e *Engine, key string, removed []zsets.Member) {
	if len(removed) == 0 {
		return
	}
	members := make([][]byte, len(removed))
	for i, m := range removed {
		members[i] = m.Value
	}
	if perr := e.persist(&ops.ZRem{Key: key, Members: members}); perr != nil {
		logger.Error().Err(perr).Str("key", key).Msg("failed to persist zset removal")
	}
	e.Txn.UpdateKeyVersion(key)
}

// incrViaKV implements INCR/INCRBY on top of the string store's own Incr,
// then persists the equivalent KVSet so replay reconstructs the same value
// without needing an IncrBy entry in the closed operation vocabulary.
func incrViaKV(e *Engine, key string, delta int64) (interface{}, error) {
	newVal, err := e.opCtx.Stores.Strings.Incr(key, delta)
	if err != nil {
		return nil, err
	}
	if perr := e.persist(&ops.KVSet{Key: key, Value: []byte(strconv.FormatInt(newVal, 10))}); perr != nil {
		logger.Error().Err(perr).Str("key", key).Msg("failed to persist incr as KVSet")
	}
	e.Txn.UpdateKeyVersion(key)
	return newVal, nil
}
