// Package sink implements Synap's append-only persistence sink: the single
// external collaborator the core hands every mutating operation to after
// an in-memory commit, plus a bbolt-backed reference implementation for
// recovery replay. Grounded on pkg/storage/boltdb.go's bucket CRUD shape,
// adapted from per-entity-type buckets to one monotonic append log.
package sink

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/hivellm/synap/pkg/log"
)

// Record is one persisted operation: Kind names the operation-vocabulary
// record type (e.g. "KVSet"); Payload is its serialized form (opaque to the
// sink).
type Record struct {
	Seq     uint64
	Kind    string
	Payload []byte
}

// Sink is the append-only persistence collaborator. Recovery must run to
// completion before any API is served.
type Sink interface {
	Append(kind string, payload []byte) error
	Recover() ([]Record, error)
	Close() error
}

var logger = log.WithComponent("sink")

// NullSink discards every record. Used when no durability is configured.
type NullSink struct{}

func (NullSink) Append(string, []byte) error   { return nil }
func (NullSink) Recover() ([]Record, error)    { return nil, nil }
func (NullSink) Close() error                  { return nil }

// MemorySink keeps every record in a slice, for tests and in-process-only
// deployments.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	nextSeq uint64
}

// NewMemorySink builds an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(kind string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.records = append(s.records, Record{Seq: s.nextSeq, Kind: kind, Payload: append([]byte(nil), payload...)})
	return nil
}

func (s *MemorySink) Recover() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemorySink) Close() error { return nil }

var opsBucket = []byte("ops")

// BoltSink is the durable reference implementation: each record is
// gob-encoded and stored under a big-endian sequence key, giving bbolt's
// ordered iteration a free replay order.
type BoltSink struct {
	mu      sync.Mutex
	db      *bolt.DB
	nextSeq uint64
}

// NewBoltSink opens (creating if absent) a bbolt database under dataDir.
func NewBoltSink(dataDir string) (*BoltSink, error) {
	path := filepath.Join(dataDir, "synap-wal.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	var maxSeq uint64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(opsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			seq := binary.BigEndian.Uint64(k)
			if seq > maxSeq {
				maxSeq = seq
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("path", path).Uint64("recovered_max_seq", maxSeq).Msg("opened persistence sink")
	return &BoltSink{db: db, nextSeq: maxSeq}, nil
}

func (s *BoltSink) Append(kind string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	seq := s.nextSeq

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(Record{Seq: seq, Kind: kind, Payload: payload}); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(opsBucket)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, buf.Bytes())
	})
}

// Recover returns every record in sequence order.
func (s *BoltSink) Recover() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(opsBucket)
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}
