package swarm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/journal/journaltest"
	"github.com/agentmesh/core/runtime/swarm"
)

func newTable(cfg swarm.PeerTableConfig) *swarm.PeerTable {
	return swarm.NewPeerTable("self-node", cfg, journaltest.New(), nil)
}

func TestPeerTableRejectsSelfJoin(t *testing.T) {
	tbl := newTable(swarm.DefaultPeerTableConfig())
	err := tbl.Join(swarm.PeerIdentity{NodeID: "self-node"})
	assert.ErrorIs(t, err, swarm.ErrSelfJoin)
}

func TestPeerTableRejectsOverCapacity(t *testing.T) {
	cfg := swarm.DefaultPeerTableConfig()
	cfg.MaxPeers = 1
	tbl := newTable(cfg)

	require.NoError(t, tbl.Join(swarm.PeerIdentity{NodeID: "peer-a"}))
	err := tbl.Join(swarm.PeerIdentity{NodeID: "peer-b"})
	assert.ErrorIs(t, err, swarm.ErrPeerTableFull)
}

func TestPeerTableHeartbeatPromotesToActive(t *testing.T) {
	tbl := newTable(swarm.DefaultPeerTableConfig())
	require.NoError(t, tbl.Join(swarm.PeerIdentity{NodeID: "peer-a"}))

	tbl.RecordHeartbeat("peer-a", 5*time.Millisecond, time.Now())

	entry, ok := tbl.Get("peer-a")
	require.True(t, ok)
	assert.Equal(t, swarm.PeerActive, entry.Status)
	assert.Equal(t, 0, entry.ConsecutiveFailures)
}

func TestPeerTableSweepTransitionsThroughLifecycle(t *testing.T) {
	cfg := swarm.DefaultPeerTableConfig()
	cfg.SuspectedAfter = 10 * time.Millisecond
	cfg.UnreachableAfter = 20 * time.Millisecond
	cfg.EvictAfter = 30 * time.Millisecond
	tbl := newTable(cfg)

	require.NoError(t, tbl.Join(swarm.PeerIdentity{NodeID: "peer-a"}))
	base := time.Now()
	tbl.RecordHeartbeat("peer-a", time.Millisecond, base)

	degraded := tbl.Sweep(context.Background(), base.Add(15*time.Millisecond))
	assert.Contains(t, degraded, "peer-a")
	entry, _ := tbl.Get("peer-a")
	assert.Equal(t, swarm.PeerSuspected, entry.Status)

	degraded = tbl.Sweep(context.Background(), base.Add(40*time.Millisecond))
	assert.Contains(t, degraded, "peer-a")
	entry, _ = tbl.Get("peer-a")
	assert.Equal(t, swarm.PeerUnreachable, entry.Status)

	tbl.Sweep(context.Background(), base.Add(80*time.Millisecond))
	_, ok := tbl.Get("peer-a")
	assert.False(t, ok, "peer should have been evicted and removed from the table")
}
