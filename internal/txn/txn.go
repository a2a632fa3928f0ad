// Package txn implements Synap's optimistic MULTI/WATCH/EXEC transaction
// manager: per-client queued commands and a process-wide key-version map
// used to detect conflicting writers. Grounded on pkg/manager/fsm.go's
// apply-command-in-order shape, generalized from a single Raft FSM to a
// per-client queue of closures over the data stores.
package txn

import (
	"sort"
	"sync"
	"time"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Command is one queued mutation. Keys reports every key it will touch (for
// the version bump after EXEC); Apply performs the mutation against its
// store and returns a JSON-representable result.
type Command interface {
	Keys() []string
	Apply() (interface{}, error)
}

// Transaction is one client's in-flight MULTI block.
type Transaction struct {
	ClientID    string
	Commands    []Command
	WatchedKeys map[string]int64
	StartedAt   time.Time
}

type keyVersion struct {
	version    int64
	modifiedAt time.Time
}

// Manager owns every in-flight transaction and the key-version map.
type Manager struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
	versions     map[string]keyVersion
}

var logger = log.WithComponent("txn")

// New builds an empty Manager.
func New() *Manager {
	return &Manager{
		transactions: make(map[string]*Transaction),
		versions:     make(map[string]keyVersion),
	}
}

// Multi starts a transaction for client, failing if one is already open.
func (m *Manager) Multi(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[clientID]; ok {
		return errs.New(errs.InvalidRequest, "transaction already in progress")
	}
	m.transactions[clientID] = &Transaction{
		ClientID:    clientID,
		WatchedKeys: make(map[string]int64),
		StartedAt:   time.Now(),
	}
	return nil
}

// Watch snapshots the current version of each key into client's
// transaction, implicitly creating one if absent (matches real-world client
// behaviour).
func (m *Manager) Watch(clientID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[clientID]
	if !ok {
		tx = &Transaction{ClientID: clientID, WatchedKeys: make(map[string]int64), StartedAt: time.Now()}
		m.transactions[clientID] = tx
	}
	for _, k := range keys {
		tx.WatchedKeys[k] = m.versions[k].version
	}
	return nil
}

// QueueCommand appends cmd to client's open transaction, returning true if
// it was queued. false means no transaction is open and the caller should
// execute cmd directly.
func (m *Manager) QueueCommand(clientID string, cmd Command) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[clientID]
	if !ok {
		return false
	}
	tx.Commands = append(tx.Commands, cmd)
	return true
}

// Discard drops client's transaction entirely.
func (m *Manager) Discard(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, clientID)
}

// Unwatch clears the watched-key set but keeps any already-queued commands.
func (m *Manager) Unwatch(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.transactions[clientID]; ok {
		tx.WatchedKeys = make(map[string]int64)
	}
}

// Result is one queued command's outcome.
type Result struct {
	Value interface{}
	Err   error
}

// Exec atomically removes client's transaction. If any watched key's
// version has changed since WATCH, it returns aborted=true with no results.
// Otherwise it applies every queued command in order, collects results, and
// bumps the version of every key touched by any command.
func (m *Manager) Exec(clientID string) (results []Result, aborted bool, err error) {
	m.mu.Lock()
	tx, ok := m.transactions[clientID]
	if !ok {
		m.mu.Unlock()
		return nil, false, errs.New(errs.InvalidRequest, "no transaction in progress")
	}
	delete(m.transactions, clientID)

	for key, watchedVersion := range tx.WatchedKeys {
		if m.versions[key].version != watchedVersion {
			m.mu.Unlock()
			logger.Debug().Str("client", clientID).Str("key", key).Msg("exec aborted: watched key changed")
			return nil, true, nil
		}
	}
	m.mu.Unlock()

	touched := make(map[string]struct{})
	results = make([]Result, 0, len(tx.Commands))
	for _, cmd := range tx.Commands {
		v, cerr := cmd.Apply()
		results = append(results, Result{Value: v, Err: cerr})
		for _, k := range cmd.Keys() {
			touched[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.mu.Lock()
	for _, k := range keys {
		m.bumpLocked(k)
	}
	m.mu.Unlock()

	return results, false, nil
}

// UpdateKeyVersion bumps key's version. Called by every non-transactional
// mutation so concurrent WATCHers observe the change.
func (m *Manager) UpdateKeyVersion(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumpLocked(key)
}

func (m *Manager) bumpLocked(key string) {
	kv := m.versions[key]
	kv.version++
	kv.modifiedAt = time.Now()
	m.versions[key] = kv
}

// Status reports whether a transaction is open and how many commands are
// queued, without consuming it.
type Status struct {
	Open        bool
	QueuedCount int
	WatchedKeys int
}

func (m *Manager) Status(clientID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[clientID]
	if !ok {
		return Status{}
	}
	return Status{Open: true, QueuedCount: len(tx.Commands), WatchedKeys: len(tx.WatchedKeys)}
}
