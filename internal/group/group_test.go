package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg(strategy Strategy) Config {
	return Config{Strategy: strategy, SessionTimeout: 50 * time.Millisecond, RebalanceTimeout: time.Second}
}

func TestJoinLeaveRebalanceRoundRobin(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 4, cfg(StrategyRoundRobin))

	m1, err := m.Join("g")
	require.NoError(t, err)
	m2, err := m.Join("g")
	require.NoError(t, err)

	require.NoError(t, m.Rebalance("g"))

	desc, err := m.Describe("g")
	require.NoError(t, err)
	assert.Equal(t, StateStable, desc.State)
	assert.Equal(t, 1, desc.Generation)

	total := 0
	for _, mem := range desc.Members {
		total += len(mem.AssignedPartitions)
	}
	assert.Equal(t, 4, total)

	require.NoError(t, m.Leave("g", m2.ID))
	require.NoError(t, m.Rebalance("g"))
	desc, _ = m.Describe("g")
	assert.Len(t, desc.Members, 1)
	assert.Equal(t, m1.ID, desc.Members[0].ID)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, desc.Members[0].AssignedPartitions)
}

func TestHeartbeatUnknownMember(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 2, cfg(StrategyRoundRobin))
	err := m.Heartbeat("g", "ghost")
	assert.Error(t, err)
}

func TestRebalancePurgesStaleMembers(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 2, cfg(StrategyRoundRobin))
	_, err := m.Join("g")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, m.Rebalance("g"))

	desc, err := m.Describe("g")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, desc.State)
	assert.Empty(t, desc.Members)
}

func TestRangeStrategyContiguous(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 5, cfg(StrategyRange))
	m.Join("g")
	m.Join("g")
	require.NoError(t, m.Rebalance("g"))

	desc, _ := m.Describe("g")
	counts := make([]int, len(desc.Members))
	for i, mem := range desc.Members {
		counts[i] = len(mem.AssignedPartitions)
	}
	assert.ElementsMatch(t, []int{3, 2}, counts)
}

func TestStickyKeepsAssignmentsAcrossRebalances(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 4, cfg(StrategySticky))
	m1, _ := m.Join("g")
	m2, _ := m.Join("g")
	require.NoError(t, m.Rebalance("g"))

	desc, _ := m.Describe("g")
	before := map[string][]int{}
	for _, mem := range desc.Members {
		before[mem.ID] = append([]int(nil), mem.AssignedPartitions...)
	}

	m3, _ := m.Join("g")
	require.NoError(t, m.Rebalance("g"))

	desc, _ = m.Describe("g")
	after := map[string][]int{}
	for _, mem := range desc.Members {
		after[mem.ID] = mem.AssignedPartitions
	}

	assert.Len(t, after, 3)
	total := 0
	for _, parts := range after {
		total += len(parts)
	}
	assert.Equal(t, 4, total)
	_ = m1
	_ = m2
	_ = m3
	for id, parts := range before {
		assert.Equal(t, parts, after[id], "member %s lost or changed its partitions", id)
	}
}

func TestCommitAndGetOffset(t *testing.T) {
	m := New()
	m.EnsureGroup("g", 2, cfg(StrategyRoundRobin))
	off, err := m.GetOffset("g", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), off)

	require.NoError(t, m.CommitOffset("g", 0, 42))
	off, err = m.GetOffset("g", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), off)
}

func TestListGroups(t *testing.T) {
	m := New()
	m.EnsureGroup("b", 1, cfg(StrategyRoundRobin))
	m.EnsureGroup("a", 1, cfg(StrategyRoundRobin))
	assert.Equal(t, []string{"a", "b"}, m.ListGroups())
}
