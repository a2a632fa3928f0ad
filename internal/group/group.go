// Package group implements Synap's consumer-group coordinator: membership,
// heartbeats, cooperative rebalancing across round-robin/range/sticky
// strategies, and committed offsets. Grounded on pkg/manager's
// membership-bookkeeping shape and pkg/scheduler's background-loop pattern
// for the periodic rebalancer.
package group

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Strategy selects a partition-assignment algorithm.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRange      Strategy = "range"
	StrategySticky     Strategy = "sticky"
)

// State is a group's lifecycle state.
type State string

const (
	StateEmpty       State = "empty"
	StateStable      State = "stable"
	StateRebalancing State = "rebalancing"
	StateDead        State = "dead"
)

// Config holds the per-group tunables.
type Config struct {
	Strategy         Strategy
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
	AutoCommit       bool
}

// Member is one group member's bookkeeping record.
type Member struct {
	ID                 string
	GroupID            string
	AssignedPartitions []int
	LastHeartbeat      time.Time
	SessionTimeout     time.Duration
}

type groupState struct {
	mu         sync.Mutex
	cfg        Config
	numParts   int
	state      State
	generation int
	members    map[string]*Member
	offsets    map[int]int64 // partition -> committed offset
}

// Manager owns every named group.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*groupState

	stopCh chan struct{}
}

var logger = log.WithComponent("group")

// New builds an empty Manager.
func New() *Manager {
	return &Manager{groups: make(map[string]*groupState), stopCh: make(chan struct{})}
}

// EnsureGroup registers a group with numPartitions and cfg if it does not
// already exist; otherwise it is a no-op.
func (m *Manager) EnsureGroup(groupID string, numPartitions int, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return
	}
	m.groups[groupID] = &groupState{
		cfg:      cfg,
		numParts: numPartitions,
		state:    StateEmpty,
		members:  make(map[string]*Member),
		offsets:  make(map[int]int64),
	}
}

func (m *Manager) groupOrNil(groupID string) *groupState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[groupID]
}

// Join creates a fresh member and transitions the group to Rebalancing.
func (m *Manager) Join(groupID string) (*Member, error) {
	g := m.groupOrNil(groupID)
	if g == nil {
		return nil, errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	mem := &Member{
		ID:             uuid.NewString(),
		GroupID:        groupID,
		LastHeartbeat:  time.Now(),
		SessionTimeout: g.cfg.SessionTimeout,
	}
	g.members[mem.ID] = mem
	g.state = StateRebalancing
	return mem, nil
}

// Heartbeat touches a member's last-heartbeat instant. Fails if the member
// is unknown.
func (m *Manager) Heartbeat(groupID, memberID string) error {
	g := m.groupOrNil(groupID)
	if g == nil {
		return errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	mem, ok := g.members[memberID]
	if !ok {
		return errs.New(errs.NotFound, "member %q not found in group %q", memberID, groupID)
	}
	mem.LastHeartbeat = time.Now()
	return nil
}

// Leave removes a member and transitions the group to Rebalancing.
func (m *Manager) Leave(groupID, memberID string) error {
	g := m.groupOrNil(groupID)
	if g == nil {
		return errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[memberID]; !ok {
		return errs.New(errs.NotFound, "member %q not found in group %q", memberID, groupID)
	}
	delete(g.members, memberID)
	g.state = StateRebalancing
	return nil
}

// Rebalance purges members whose heartbeat has gone stale, then assigns
// partitions to the surviving members per the group's strategy, bumps the
// generation counter, and transitions to Stable (or Empty if no members
// survive).
func (m *Manager) Rebalance(groupID string) error {
	g := m.groupOrNil(groupID)
	if g == nil {
		return errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebalanceLocked()
}

func (g *groupState) rebalanceLocked() error {
	now := time.Now()
	for id, mem := range g.members {
		if now.Sub(mem.LastHeartbeat) > g.cfg.SessionTimeout {
			delete(g.members, id)
		}
	}
	if len(g.members) == 0 {
		g.state = StateEmpty
		return nil
	}

	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var assignment map[string][]int
	switch g.cfg.Strategy {
	case StrategyRange:
		assignment = assignRange(ids, g.numParts)
	case StrategySticky:
		assignment = assignSticky(ids, g.numParts, g.members)
	default:
		assignment = assignRoundRobin(ids, g.numParts)
	}

	for id, parts := range assignment {
		g.members[id].AssignedPartitions = parts
	}

	g.generation++
	g.state = StateStable
	logger.Debug().Int("generation", g.generation).Int("members", len(ids)).Msg("rebalanced")
	return nil
}

// assignRoundRobin assigns partition p to the member at position p mod M in
// sorted-member-id order.
func assignRoundRobin(ids []string, numParts int) map[string][]int {
	out := make(map[string][]int, len(ids))
	for _, id := range ids {
		out[id] = nil
	}
	for p := 0; p < numParts; p++ {
		id := ids[p%len(ids)]
		out[id] = append(out[id], p)
	}
	return out
}

// assignRange gives each member floor(P/M) contiguous partitions; the first
// P mod M members receive one extra.
func assignRange(ids []string, numParts int) map[string][]int {
	out := make(map[string][]int, len(ids))
	m := len(ids)
	base := numParts / m
	extra := numParts % m
	next := 0
	for i, id := range ids {
		count := base
		if i < extra {
			count++
		}
		parts := make([]int, 0, count)
		for j := 0; j < count; j++ {
			parts = append(parts, next)
			next++
		}
		out[id] = parts
	}
	return out
}

// assignSticky keeps each member's existing assignments where the member
// still lives, distributes newly-unassigned partitions round-robin among
// members, and moves surplus from over-loaded members (more than
// floor(P/M)+1) to under-average members. Ties in "which member receives a
// newly freed partition" break on the lowest member-id, matching DESIGN.md's
// documented decision for this otherwise-unspecified case.
func assignSticky(ids []string, numParts int, members map[string]*Member) map[string][]int {
	out := make(map[string][]int, len(ids))
	claimed := make([]bool, numParts)
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	for _, id := range ids {
		var kept []int
		for _, p := range members[id].AssignedPartitions {
			if p >= 0 && p < numParts && !claimed[p] {
				kept = append(kept, p)
				claimed[p] = true
			}
		}
		out[id] = kept
	}

	target := numParts / len(ids)
	if numParts%len(ids) != 0 {
		target++
	}

	var unassigned []int
	for p := 0; p < numParts; p++ {
		if !claimed[p] {
			unassigned = append(unassigned, p)
		}
	}
	sort.Strings(ids)
	i := 0
	for _, p := range unassigned {
		for len(out[ids[i%len(ids)]]) >= target {
			i++
		}
		id := ids[i%len(ids)]
		out[id] = append(out[id], p)
		i++
	}

	floor := numParts / len(ids)
	for {
		donor, surplus := "", 0
		for _, id := range ids {
			if len(out[id]) > floor+1 && len(out[id]) > surplus {
				donor, surplus = id, len(out[id])
			}
		}
		if donor == "" {
			break
		}
		receiver := ""
		for _, id := range ids {
			if id == donor {
				continue
			}
			if receiver == "" || len(out[id]) < len(out[receiver]) {
				receiver = id
			}
		}
		if receiver == "" || len(out[receiver]) >= floor {
			break
		}
		moved := out[donor][len(out[donor])-1]
		out[donor] = out[donor][:len(out[donor])-1]
		out[receiver] = append(out[receiver], moved)
	}

	for id := range out {
		sort.Ints(out[id])
	}
	return out
}

// CommitOffset overwrites the committed offset for partition.
func (m *Manager) CommitOffset(groupID string, partition int, offset int64) error {
	g := m.groupOrNil(groupID)
	if g == nil {
		return errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offsets[partition] = offset
	return nil
}

// GetOffset reads the committed offset for partition, 0 if never committed.
func (m *Manager) GetOffset(groupID string, partition int) (int64, error) {
	g := m.groupOrNil(groupID)
	if g == nil {
		return 0, errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offsets[partition], nil
}

// Description is a point-in-time snapshot of a group's membership and state.
type Description struct {
	State      State
	Generation int
	Strategy   Strategy
	Members    []Member
}

func (m *Manager) Describe(groupID string) (Description, error) {
	g := m.groupOrNil(groupID)
	if g == nil {
		return Description{}, errs.New(errs.NotFound, "group %q not found", groupID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	desc := Description{State: g.state, Generation: g.generation, Strategy: g.cfg.Strategy}
	for _, mem := range g.members {
		desc.Members = append(desc.Members, *mem)
	}
	return desc, nil
}

// ListGroups returns every known group id, sorted.
func (m *Manager) ListGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.groups))
	for id := range m.groups {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StartRebalancer launches the background rebalance loop: every interval,
// for each group whose state is Rebalancing or that has a stale heartbeat,
// it calls Rebalance.
func (m *Manager) StartRebalancer(interval time.Duration) {
	go m.rebalanceLoop(interval)
}

func (m *Manager) StopRebalancer() {
	close(m.stopCh)
}

func (m *Manager) rebalanceLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.rebalanceDue()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) rebalanceDue() {
	m.mu.RLock()
	groups := make(map[string]*groupState, len(m.groups))
	for id, g := range m.groups {
		groups[id] = g
	}
	m.mu.RUnlock()

	now := time.Now()
	for id, g := range groups {
		g.mu.Lock()
		needsRebalance := g.state == StateRebalancing
		if !needsRebalance {
			for _, mem := range g.members {
				if now.Sub(mem.LastHeartbeat) > g.cfg.SessionTimeout {
					needsRebalance = true
					break
				}
			}
		}
		if needsRebalance {
			if err := g.rebalanceLocked(); err != nil {
				logger.Warn().Err(err).Str("group", id).Msg("background rebalance failed")
			}
		}
		g.mu.Unlock()
	}
}
