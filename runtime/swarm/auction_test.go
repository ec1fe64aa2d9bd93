package swarm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/swarm"
)

func TestCommitBidThenVerifyRevealSucceeds(t *testing.T) {
	commitment := swarm.CommitBid("rfq-1", "node-a", 1.5, 200*time.Millisecond, "nonce-1")
	reveal := swarm.RevealedBid{RFQID: "rfq-1", BidderNodeID: "node-a", EstimatedCostUSD: 1.5, EstimatedDuration: 200 * time.Millisecond, Nonce: "nonce-1"}

	assert.NoError(t, swarm.VerifyReveal(commitment, reveal))
}

func TestVerifyRevealRejectsMismatchedReveal(t *testing.T) {
	commitment := swarm.CommitBid("rfq-1", "node-a", 1.5, 200*time.Millisecond, "nonce-1")
	reveal := swarm.RevealedBid{RFQID: "rfq-1", BidderNodeID: "node-a", EstimatedCostUSD: 9.9, EstimatedDuration: 200 * time.Millisecond, Nonce: "nonce-1"}

	assert.Error(t, swarm.VerifyReveal(commitment, reveal))
}

func TestAuctionGuardEnforcesBidRateLimit(t *testing.T) {
	guard := swarm.NewAuctionGuard(swarm.AuctionGuardConfig{MaxBidsPerNodePerMinute: 2, FrontRunWindow: 500 * time.Millisecond})
	now := time.Now()

	assert.True(t, guard.AllowCommit(swarm.SealedBid{BidderNodeID: "node-a", CommittedAt: now}))
	assert.True(t, guard.AllowCommit(swarm.SealedBid{BidderNodeID: "node-a", CommittedAt: now.Add(time.Millisecond)}))
	assert.False(t, guard.AllowCommit(swarm.SealedBid{BidderNodeID: "node-a", CommittedAt: now.Add(2 * time.Millisecond)}), "third commit within the burst should be rejected")
}

func TestAuctionGuardFlagsFrontRunning(t *testing.T) {
	guard := swarm.NewAuctionGuard(swarm.AuctionGuardConfig{MaxBidsPerNodePerMinute: 100, FrontRunWindow: 500 * time.Millisecond})
	now := time.Now()

	require.True(t, guard.AllowCommit(swarm.SealedBid{BidderNodeID: "node-a", CommittedAt: now}))
	require.True(t, guard.AllowCommit(swarm.SealedBid{BidderNodeID: "node-b", CommittedAt: now.Add(100 * time.Millisecond)}))

	assert.True(t, guard.IsFlagged("node-b"))
	assert.False(t, guard.IsFlagged("node-a"))
}

func TestSelectWinnerReturnsSoleParetoFrontMember(t *testing.T) {
	candidates := []swarm.BidCandidate{
		{Bid: swarm.RevealedBid{BidderNodeID: "node-a", EstimatedCostUSD: 1.0}, Trust: 0.9, Latency: 100 * time.Millisecond, Capability: 0.9},
		{Bid: swarm.RevealedBid{BidderNodeID: "node-b", EstimatedCostUSD: 2.0}, Trust: 0.5, Latency: 300 * time.Millisecond, Capability: 0.5},
	}

	winner, err := swarm.SelectWinner(candidates, swarm.DefaultParetoWeights())
	require.NoError(t, err)
	assert.Equal(t, "node-a", winner.Bid.BidderNodeID, "node-a dominates on every dimension")
}

func TestSelectWinnerBreaksTiesAmongNonDominatedBids(t *testing.T) {
	candidates := []swarm.BidCandidate{
		{Bid: swarm.RevealedBid{BidderNodeID: "cheap", EstimatedCostUSD: 1.0}, Trust: 0.6, Latency: 400 * time.Millisecond, Capability: 0.6},
		{Bid: swarm.RevealedBid{BidderNodeID: "fast", EstimatedCostUSD: 4.0}, Trust: 0.6, Latency: 50 * time.Millisecond, Capability: 0.6},
		{Bid: swarm.RevealedBid{BidderNodeID: "trusted", EstimatedCostUSD: 3.0}, Trust: 0.95, Latency: 200 * time.Millisecond, Capability: 0.6},
	}

	winner, err := swarm.SelectWinner(candidates, swarm.DefaultParetoWeights())
	require.NoError(t, err)
	assert.NotEmpty(t, winner.Bid.BidderNodeID)
}

func TestSelectWinnerRejectsEmptyCandidates(t *testing.T) {
	_, err := swarm.SelectWinner(nil, swarm.DefaultParetoWeights())
	assert.Error(t, err)
}

func TestSelectWinnerIgnoresDiversityWhenFrontHasASoleMember(t *testing.T) {
	// node-a still dominates outright, so its zero Diversity must not cost it
	// the win: the multiplier only applies to the crowded tie-break sum.
	candidates := []swarm.BidCandidate{
		{Bid: swarm.RevealedBid{BidderNodeID: "node-a", EstimatedCostUSD: 1.0}, Trust: 0.9, Latency: 100 * time.Millisecond, Capability: 0.9, Diversity: 0},
		{Bid: swarm.RevealedBid{BidderNodeID: "node-b", EstimatedCostUSD: 2.0}, Trust: 0.5, Latency: 300 * time.Millisecond, Capability: 0.5, Diversity: 1},
	}

	winner, err := swarm.SelectWinner(candidates, swarm.DefaultParetoWeights())
	require.NoError(t, err)
	assert.Equal(t, "node-a", winner.Bid.BidderNodeID)
}
