package swarm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/swarm"
)

func joinThreeActivePeers(t *testing.T, mgr *swarm.Manager) {
	t.Helper()
	for _, id := range []string{"peer-a", "peer-b", "peer-c"} {
		require.NoError(t, mgr.Peers().Join(swarm.PeerIdentity{NodeID: id}))
		mgr.Peers().RecordHeartbeat(id, time.Millisecond, time.Now())
	}
}

func TestGossipRoundResetsStreamOnSuccess(t *testing.T) {
	transport := newFakeTransport()
	mgr := newTestManager(t, transport)
	joinThreeActivePeers(t, mgr)

	require.NoError(t, mgr.GossipRound(context.Background()))
	assert.Equal(t, 0, mgr.GossipStream().ReconnectAttempts)
	assert.NotEmpty(t, mgr.GossipStream().LastEventID, "a successful round should record the peer it last synced against")
}

func TestGossipRoundGrowsReconnectCounterOnFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.gossipErr = errors.New("peer unreachable")
	mgr := newTestManager(t, transport)
	joinThreeActivePeers(t, mgr)

	require.Error(t, mgr.GossipRound(context.Background()))
	assert.Equal(t, 1, mgr.GossipStream().ReconnectAttempts)

	require.Error(t, mgr.GossipRound(context.Background()))
	assert.Equal(t, 2, mgr.GossipStream().ReconnectAttempts)
}

func TestGossipRoundSkipsBelowThreePeers(t *testing.T) {
	transport := newFakeTransport()
	mgr := newTestManager(t, transport)
	require.NoError(t, mgr.Peers().Join(swarm.PeerIdentity{NodeID: "peer-a"}))
	mgr.Peers().RecordHeartbeat("peer-a", time.Millisecond, time.Now())

	require.NoError(t, mgr.GossipRound(context.Background()))
	assert.Equal(t, 0, mgr.GossipStream().ReconnectAttempts)
	assert.Empty(t, mgr.GossipStream().LastEventID)
}
