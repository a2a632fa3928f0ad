// Package engine wires every Synap component (the five typed stores, the
// key manager, the queue engine, the partitioned log, the consumer-group
// coordinator, the pub/sub router, the transaction manager and the script
// engine) into one process-wide facade, and drives it against the
// append-only persistence sink. Grounded on pkg/manager/manager.go's
// top-level wiring-struct shape: there it bolted Raft, BoltDB, DNS and
// ingress together behind one Manager; here it bolts the data-plane
// components together behind one Engine, with a sink replacing Raft/BoltDB
// as the durability story.
package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/hivellm/synap/internal/group"
	"github.com/hivellm/synap/internal/keymanager"
	"github.com/hivellm/synap/internal/ops"
	"github.com/hivellm/synap/internal/plog"
	"github.com/hivellm/synap/internal/pubsub"
	"github.com/hivellm/synap/internal/queue"
	"github.com/hivellm/synap/internal/script"
	"github.com/hivellm/synap/internal/sink"
	"github.com/hivellm/synap/internal/store/hashes"
	"github.com/hivellm/synap/internal/store/lists"
	"github.com/hivellm/synap/internal/store/sets"
	"github.com/hivellm/synap/internal/store/strings"
	"github.com/hivellm/synap/internal/store/zsets"
	"github.com/hivellm/synap/internal/txn"
	"github.com/hivellm/synap/pkg/config"
	"github.com/hivellm/synap/pkg/log"
)

var logger = log.WithComponent("engine")

// Engine is the single process-wide instance every transport-level handler
// (out of scope here) dispatches against.
type Engine struct {
	cfg *config.Config

	KeyManager *keymanager.Manager
	Queue      *queue.Manager
	PLog       *plog.Manager
	Group      *group.Manager
	PubSub     *pubsub.Router
	Txn        *txn.Manager
	Script     *script.Engine

	sink  sink.Sink
	opCtx *ops.Context
}

// New builds an Engine from cfg, opens the configured persistence sink, and
// replays every recovered record before returning — recovery always runs to
// completion before the engine is handed to any caller. dataDir is used
// only when cfg.Sink.Kind is "bolt".
func New(cfg *config.Config, dataDir string) (*Engine, error) {
	stores := keymanager.Stores{
		Strings: strings.New(cfg.Shards),
		Hashes:  hashes.New(cfg.Shards),
		Lists:   lists.New(cfg.Shards),
		Sets:    sets.New(cfg.Shards),
		ZSets:   zsets.New(cfg.Shards),
	}

	e := &Engine{
		cfg:        cfg,
		KeyManager: keymanager.New(stores),
		Queue: queue.New(queue.Config{
			MaxDepth:          cfg.Queue.MaxDepth,
			AckDeadline:       cfg.Queue.AckDeadline,
			DefaultMaxRetries: int(cfg.Queue.DefaultMaxRetries),
			DefaultPriority:   int(cfg.Queue.DefaultPriority),
		}),
		PLog:   plog.New(),
		Group:  group.New(),
		PubSub: pubsub.New(),
		Txn:    txn.New(),
	}
	e.opCtx = &ops.Context{Stores: stores, Queue: e.Queue, PLog: e.PLog, Group: e.Group}
	e.Script = script.New(e, cfg.Script.DefaultTimeout)

	var err error
	e.sink, err = openSink(cfg.Sink, dataDir)
	if err != nil {
		return nil, fmt.Errorf("open persistence sink: %w", err)
	}

	if err := e.recover(); err != nil {
		return nil, fmt.Errorf("recover from persistence sink: %w", err)
	}

	return e, nil
}

func openSink(cfg config.SinkConfig, dataDir string) (sink.Sink, error) {
	switch cfg.Kind {
	case "", "memory":
		return sink.NewMemorySink(), nil
	case "bolt":
		path := cfg.Path
		if path == "" {
			path = dataDir
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		return sink.NewBoltSink(path)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}

// recover replays every persisted record through the freshly built stores,
// in sequence order, before the engine is handed to any caller.
func (e *Engine) recover() error {
	records, err := e.sink.Recover()
	if err != nil {
		return err
	}
	for _, rec := range records {
		op, err := ops.Decode(rec.Kind, rec.Payload)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", rec.Seq, err)
		}
		if _, err := op.Apply(e.opCtx); err != nil {
			return fmt.Errorf("replay seq %d (%s): %w", rec.Seq, rec.Kind, err)
		}
	}
	logger.Info().Int("records", len(records)).Msg("recovery complete")
	return nil
}

// Apply commits op against the live stores, persists it, and bumps the
// transaction manager's key versions for every key it touched — the path
// every non-transactional mutating API call takes.
func (e *Engine) Apply(op ops.Op) (interface{}, error) {
	result, err := op.Apply(e.opCtx)
	if err != nil {
		return nil, err
	}
	if perr := e.persist(op); perr != nil {
		logger.Error().Err(perr).Str("kind", op.Kind()).Msg("failed to persist operation after commit")
	}
	for _, k := range op.Keys() {
		e.Txn.UpdateKeyVersion(k)
	}
	return result, nil
}

func (e *Engine) persist(op ops.Op) error {
	kind, payload, err := ops.Encode(op)
	if err != nil {
		return err
	}
	return e.sink.Append(kind, payload)
}

// Command adapts op into a txn.Command, for MULTI/EXEC queuing. Applying it
// through EXEC persists it to the sink like a direct Apply, but does not
// bump key versions itself: txn.Manager.Exec bumps each touched key once,
// after every queued command has run.
func (e *Engine) Command(op ops.Op) txn.Command {
	return opCommand{op: op, eng: e}
}

type opCommand struct {
	op  ops.Op
	eng *Engine
}

func (c opCommand) Keys() []string { return c.op.Keys() }

func (c opCommand) Apply() (interface{}, error) {
	result, err := c.op.Apply(c.eng.opCtx)
	if err != nil {
		return nil, err
	}
	if perr := c.eng.persist(c.op); perr != nil {
		logger.Error().Err(perr).Str("kind", c.op.Kind()).Msg("failed to persist queued operation")
	}
	return result, nil
}

// Call implements script.Bridge: redis.call(command, ...args) dispatches
// here, translating the sandboxed script's command name into the matching
// operation record, applying it the same way any direct API call would.
func (e *Engine) Call(command string, args [][]byte) (interface{}, error) {
	return dispatchBridgeCall(e, command, args)
}

// Shutdown stops background loops and closes the persistence sink.
func (e *Engine) Shutdown() error {
	e.Queue.StopSweeper()
	e.PLog.StopCompactor()
	e.Group.StopRebalancer()
	e.Script.Kill()
	return e.sink.Close()
}

// StartBackgroundLoops starts the deadline sweeper, compactor and
// rebalancer tickers, using the configured intervals (pkg/scheduler's
// ticker+stopCh shape, one instance per subsystem).
func (e *Engine) StartBackgroundLoops() {
	sweep := e.cfg.Queue.SweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	compact := e.cfg.Plog.CompactInterval
	if compact <= 0 {
		compact = time.Minute
	}
	rebalance := e.cfg.Group.RebalanceInterval
	if rebalance <= 0 {
		rebalance = 10 * time.Second
	}
	e.Queue.StartSweeper(sweep)
	e.PLog.StartCompactor(compact)
	e.Group.StartRebalancer(rebalance)
}
