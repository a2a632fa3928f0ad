// Package plog implements Synap's partitioned log: fixed-partition-count
// topics with pluggable retention and key-hash or round-robin partition
// selection, plus a background compaction loop. Grounded on
// pkg/reconciler's background-loop shape and the franz-go producer's
// key-hash partitioner idiom.
package plog

import (
	"hash/crc32"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Event is one partitioned-log record.
type Event struct {
	ID        string
	Topic     string
	Partition int
	Offset    int64
	Key       string
	EventType string
	Data      []byte
	Timestamp time.Time
	SizeBytes int
}

// RetentionKind selects which retention rule a partition enforces.
type RetentionKind string

const (
	RetentionTime      RetentionKind = "time"
	RetentionSize      RetentionKind = "size"
	RetentionMessages  RetentionKind = "messages"
	RetentionCombined  RetentionKind = "combined"
	RetentionInfinite  RetentionKind = "infinite"
)

// Retention configures one or more bounds; zero value in a bound means
// "not enforced" even under Combined.
type Retention struct {
	Kind         RetentionKind
	TimeSeconds  int64
	SizeBytes    int64
	MaxMessages  int64
}

// TopicConfig configures a topic at creation.
type TopicConfig struct {
	NumPartitions int
	Retention     Retention
	SegmentBytes  int64
	MaxBatchSize  int
	FlushInterval time.Duration
}

type partition struct {
	events     []*Event // ring buffer, offset-ordered
	nextOffset int64
	minOffset  int64
	totalBytes int64
}

// topic holds a fixed set of partitions plus its retention/compaction
// bookkeeping.
type topic struct {
	mu              sync.Mutex
	cfg             TopicConfig
	partitions      []*partition
	lastCompaction  time.Time
}

// Manager owns every topic.
type Manager struct {
	mu     sync.RWMutex
	topics map[string]*topic

	stopCh chan struct{}
}

var logger = log.WithComponent("plog")

// New builds an empty Manager.
func New() *Manager {
	return &Manager{topics: make(map[string]*topic), stopCh: make(chan struct{})}
}

// CreateTopic registers a topic with a fixed partition count. A second call
// for the same name is a no-op (idempotent creation).
func (m *Manager) CreateTopic(name string, cfg TopicConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[name]; ok {
		return
	}
	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = 1
	}
	t := &topic{cfg: cfg, partitions: make([]*partition, cfg.NumPartitions), lastCompaction: time.Now()}
	for i := range t.partitions {
		t.partitions[i] = &partition{}
	}
	m.topics[name] = t
}

func (m *Manager) topicOrNil(name string) *topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topics[name]
}

// Append publishes data under topic, selecting a partition by key-hash (if
// key is non-empty) or round-robin-by-shortest-length otherwise. Stamps
// partition id and the next offset, and opportunistically compacts the
// topic if flush-interval has elapsed.
func (m *Manager) Append(topicName, eventType, key string, data []byte) (*Event, error) {
	t := m.topicOrNil(topicName)
	if t == nil {
		return nil, errs.New(errs.NotFound, "topic %q not found", topicName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pIdx := selectPartition(t.partitions, key)
	p := t.partitions[pIdx]

	ev := &Event{
		ID:        uuid.NewString(),
		Topic:     topicName,
		Partition: pIdx,
		Offset:    p.nextOffset,
		Key:       key,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
		SizeBytes: len(data),
	}
	p.events = append(p.events, ev)
	p.nextOffset++
	p.totalBytes += int64(ev.SizeBytes)

	if time.Since(t.lastCompaction) >= t.cfg.FlushInterval {
		t.compactLocked()
	}
	return ev, nil
}

// selectPartition routes a keyed publish to crc32(key) mod N, and an
// unkeyed one to whichever partition currently holds the fewest events.
func selectPartition(partitions []*partition, key string) int {
	n := len(partitions)
	if key != "" {
		return int(crc32.ChecksumIEEE([]byte(key)) % uint32(n))
	}
	best := 0
	for i := range partitions {
		if len(partitions[i].events) < len(partitions[best].events) {
			best = i
		}
	}
	return best
}

// Read returns up to limit events from partition with offset >= fromOffset,
// in offset order.
func (m *Manager) Read(topicName string, partitionIdx int, fromOffset int64, limit int) ([]*Event, error) {
	t := m.topicOrNil(topicName)
	if t == nil {
		return nil, errs.New(errs.NotFound, "topic %q not found", topicName)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if partitionIdx < 0 || partitionIdx >= len(t.partitions) {
		return nil, errs.New(errs.InvalidRequest, "partition %d out of range", partitionIdx)
	}
	p := t.partitions[partitionIdx]
	var out []*Event
	for _, ev := range p.events {
		if ev.Offset >= fromOffset {
			out = append(out, ev)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

// ConsumeAll merges every partition and sorts by timestamp before
// truncating to limit. Ties are broken by (partition, offset) for a fully
// deterministic order across replays.
func (m *Manager) ConsumeAll(topicName string, limit int) ([]*Event, error) {
	t := m.topicOrNil(topicName)
	if t == nil {
		return nil, errs.New(errs.NotFound, "topic %q not found", topicName)
	}
	t.mu.Lock()
	var all []*Event
	for _, p := range t.partitions {
		all = append(all, p.events...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		if all[i].Partition != all[j].Partition {
			return all[i].Partition < all[j].Partition
		}
		return all[i].Offset < all[j].Offset
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// compactLocked applies the topic's retention rule to every partition. The
// caller must hold t.mu.
func (t *topic) compactLocked() {
	t.lastCompaction = time.Now()
	for _, p := range t.partitions {
		applyRetention(p, t.cfg.Retention)
	}
}

func applyRetention(p *partition, r Retention) {
	switch r.Kind {
	case RetentionTime:
		dropOlderThan(p, r.TimeSeconds)
	case RetentionSize:
		dropOverSize(p, r.SizeBytes)
	case RetentionMessages:
		dropOverCount(p, r.MaxMessages)
	case RetentionCombined:
		if r.TimeSeconds > 0 {
			dropOlderThan(p, r.TimeSeconds)
		}
		if r.SizeBytes > 0 {
			dropOverSize(p, r.SizeBytes)
		}
		if r.MaxMessages > 0 {
			dropOverCount(p, r.MaxMessages)
		}
	case RetentionInfinite:
		// never compact
	}
}

func dropOlderThan(p *partition, seconds int64) {
	if seconds <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(seconds) * time.Second)
	i := 0
	for i < len(p.events) && !p.events[i].Timestamp.After(cutoff) {
		p.totalBytes -= int64(p.events[i].SizeBytes)
		i++
	}
	if i > 0 {
		p.events = p.events[i:]
		p.minOffset = p.events[0].Offset
	}
}

func dropOverSize(p *partition, maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	for p.totalBytes > maxBytes && len(p.events) > 0 {
		p.totalBytes -= int64(p.events[0].SizeBytes)
		p.events = p.events[1:]
	}
	if len(p.events) > 0 {
		p.minOffset = p.events[0].Offset
	}
}

func dropOverCount(p *partition, maxMessages int64) {
	if maxMessages <= 0 {
		return
	}
	for int64(len(p.events)) > maxMessages {
		p.totalBytes -= int64(p.events[0].SizeBytes)
		p.events = p.events[1:]
	}
	if len(p.events) > 0 {
		p.minOffset = p.events[0].Offset
	}
}

// CompactNow forces immediate compaction of one topic, for operator-triggered
// compaction outside the background tick.
func (m *Manager) CompactNow(topicName string) error {
	t := m.topicOrNil(topicName)
	if t == nil {
		return errs.New(errs.NotFound, "topic %q not found", topicName)
	}
	t.mu.Lock()
	t.compactLocked()
	t.mu.Unlock()
	return nil
}

// TopicStats is a point-in-time snapshot returned by Stats.
type TopicStats struct {
	NumPartitions int
	PartitionLens []int
	TotalBytes    int64
}

func (m *Manager) Stats(topicName string) (TopicStats, error) {
	t := m.topicOrNil(topicName)
	if t == nil {
		return TopicStats{}, errs.New(errs.NotFound, "topic %q not found", topicName)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TopicStats{NumPartitions: len(t.partitions), PartitionLens: make([]int, len(t.partitions))}
	for i, p := range t.partitions {
		st.PartitionLens[i] = len(p.events)
		st.TotalBytes += p.totalBytes
	}
	return st, nil
}

// StartCompactor launches the background compaction loop: every interval it
// calls compact on every topic.
func (m *Manager) StartCompactor(interval time.Duration) {
	go m.compactLoop(interval)
}

func (m *Manager) StopCompactor() {
	close(m.stopCh)
}

func (m *Manager) compactLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.compactAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) compactAll() {
	m.mu.RLock()
	topics := make([]*topic, 0, len(m.topics))
	for _, t := range m.topics {
		topics = append(topics, t)
	}
	m.mu.RUnlock()

	for _, t := range topics {
		t.mu.Lock()
		t.compactLocked()
		t.mu.Unlock()
	}
	logger.Debug().Int("topics", len(topics)).Msg("background compaction tick")
}
