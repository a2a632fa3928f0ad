// Package queue implements Synap's durable priority work queue: a
// priority-ordered ready deque, a pending map guarded by ack deadlines, and
// a dead-letter deque, with a background sweeper that requeues timed-out
// messages. Grounded on pkg/scheduler's ticker+stopCh background-loop shape.
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Message is one queue entry. Payload is shared by reference: Consume
// returns the same backing slice rather than copying it.
type Message struct {
	ID         string
	Payload    []byte
	Priority   int
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
	Headers    map[string]string
}

// Config holds per-queue tunables.
type Config struct {
	MaxDepth          int
	AckDeadline       time.Duration
	DefaultMaxRetries int
	DefaultPriority   int
}

type pendingEntry struct {
	msg      *Message
	consumer string
	deadline time.Time
}

// Stats mirrors the per-queue counters tracked internally.
type Stats struct {
	Published    uint64
	Consumed     uint64
	Acked        uint64
	Nacked       uint64
	DeadLettered uint64
	ReadyDepth   int
	PendingDepth int
	DLQDepth     int
}

// queueState is one named queue's state.
type queueState struct {
	mu      sync.Mutex
	cfg     Config
	ready   *list.List // of *Message, priority-ordered
	pending map[string]*pendingEntry
	dlq     *list.List // of *Message

	published, consumed, acked, nacked, deadLettered uint64
}

// Manager owns every named queue.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*queueState
	defCfg Config

	stopCh chan struct{}
}

var logger = log.WithComponent("queue")

// New builds a Manager with defCfg applied to queues created implicitly on
// first publish.
func New(defCfg Config) *Manager {
	return &Manager{
		queues: make(map[string]*queueState),
		defCfg: defCfg,
		stopCh: make(chan struct{}),
	}
}

func (m *Manager) queue(name string) *queueState {
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok = m.queues[name]; ok {
		return q
	}
	q = &queueState{
		cfg:     m.defCfg,
		ready:   list.New(),
		pending: make(map[string]*pendingEntry),
		dlq:     list.New(),
	}
	m.queues[name] = q
	return q
}

// Publish inserts a new message, ordered before the first existing message
// of strictly lower priority (stable within priority). Fails with
// errs.QueueFull at max-depth.
func (m *Manager) Publish(queueName string, payload []byte, priority, maxRetries int, headers map[string]string) (*Message, error) {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() >= q.cfg.MaxDepth {
		return nil, errs.New(errs.QueueFull, "queue %q is at max depth %d", queueName, q.cfg.MaxDepth)
	}
	if maxRetries <= 0 {
		maxRetries = q.cfg.DefaultMaxRetries
	}

	msg := &Message{
		ID:         uuid.NewString(),
		Payload:    payload,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
		Headers:    headers,
	}

	inserted := false
	for e := q.ready.Front(); e != nil; e = e.Next() {
		if e.Value.(*Message).Priority < priority {
			q.ready.InsertBefore(msg, e)
			inserted = true
			break
		}
	}
	if !inserted {
		q.ready.PushBack(msg)
	}
	q.published++
	return msg, nil
}

// Consume pops the ready head into pending with a fresh ack deadline.
// Returns (nil, nil) if the queue is empty.
func (m *Manager) Consume(queueName, consumerID string) (*Message, error) {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.ready.Front()
	if front == nil {
		return nil, nil
	}
	msg := q.ready.Remove(front).(*Message)
	q.pending[msg.ID] = &pendingEntry{
		msg:      msg,
		consumer: consumerID,
		deadline: time.Now().Add(q.cfg.AckDeadline),
	}
	q.consumed++
	return msg, nil
}

// Ack removes id from pending.
func (m *Manager) Ack(queueName, id string) error {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; !ok {
		return errs.New(errs.MessageNotFound, "message %q not pending in queue %q", id, queueName)
	}
	delete(q.pending, id)
	q.acked++
	return nil
}

// Nack removes id from pending, increments its retry count, and either
// dead-letters it (retry count exceeds max-retries), requeues it at the
// ready tail without re-sorting (so retries don't starve fresh work), or
// drops it.
func (m *Manager) Nack(queueName, id string, requeue bool) error {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nackLocked(id, requeue)
}

func (q *queueState) nackLocked(id string, requeue bool) error {
	pe, ok := q.pending[id]
	if !ok {
		return errs.New(errs.MessageNotFound, "message %q not pending", id)
	}
	delete(q.pending, id)
	pe.msg.RetryCount++
	q.nacked++

	if pe.msg.RetryCount > pe.msg.MaxRetries {
		q.dlq.PushBack(pe.msg)
		q.deadLettered++
		return nil
	}
	if requeue {
		q.ready.PushBack(pe.msg)
	}
	return nil
}

// Peek returns up to limit ready messages without consuming them.
func (m *Manager) Peek(queueName string, limit int) []*Message {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Message
	for e := q.ready.Front(); e != nil && len(out) < limit; e = e.Next() {
		out = append(out, e.Value.(*Message))
	}
	return out
}

// DLQPeek returns up to limit dead-lettered messages.
func (m *Manager) DLQPeek(queueName string, limit int) []*Message {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Message
	for e := q.dlq.Front(); e != nil && len(out) < limit; e = e.Next() {
		out = append(out, e.Value.(*Message))
	}
	return out
}

// DLQRequeue moves one dead-lettered message back to the ready tail with a
// reset retry count. Returns errs.MessageNotFound if id is not in the DLQ.
func (m *Manager) DLQRequeue(queueName, id string) error {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.dlq.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*Message)
		if msg.ID == id {
			q.dlq.Remove(e)
			msg.RetryCount = 0
			q.ready.PushBack(msg)
			return nil
		}
	}
	return errs.New(errs.MessageNotFound, "message %q not in dlq for queue %q", id, queueName)
}

// Stats returns a point-in-time snapshot.
func (m *Manager) Stats(queueName string) Stats {
	q := m.queue(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Published:    q.published,
		Consumed:     q.consumed,
		Acked:        q.acked,
		Nacked:       q.nacked,
		DeadLettered: q.deadLettered,
		ReadyDepth:   q.ready.Len(),
		PendingDepth: len(q.pending),
		DLQDepth:     q.dlq.Len(),
	}
}

// StartSweeper launches the deadline sweeper: every interval, for each queue
// it collects pending entries whose deadline has passed and nacks them with
// requeue=true. Never holds a queue lock across a suspension point.
func (m *Manager) StartSweeper(interval time.Duration) {
	go m.sweepLoop(interval)
}

// StopSweeper halts the sweeper loop.
func (m *Manager) StopSweeper() {
	close(m.stopCh)
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.RLock()
	names := make([]string, 0, len(m.queues))
	queues := make([]*queueState, 0, len(m.queues))
	for name, q := range m.queues {
		names = append(names, name)
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	now := time.Now()
	for i, q := range queues {
		q.mu.Lock()
		var expired []string
		for id, pe := range q.pending {
			if !pe.deadline.After(now) {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			if err := q.nackLocked(id, true); err != nil {
				logger.Warn().Err(err).Str("queue", names[i]).Str("message_id", id).Msg("sweeper nack failed")
			}
		}
		q.mu.Unlock()
	}
}
