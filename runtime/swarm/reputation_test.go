package swarm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/core/runtime/swarm"
)

func TestReputationStartsNeutral(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	r := ledger.Get("peer-a")
	assert.Equal(t, 0.5, r.TrustScore)
}

func TestReputationSuccessRaisesTrust(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	now := time.Now()

	ledger.RecordOutcome("peer-a", true, false, 1000, 500, 0.01, 50*time.Millisecond, "low", now)

	r := ledger.Get("peer-a")
	assert.InDelta(t, 0.5+(1-0.5)/8, r.TrustScore, 1e-9)
	assert.Equal(t, 1, r.TasksCompleted)
	assert.Equal(t, 1, r.ConsecutiveSuccesses)
}

func TestReputationFailureLowersTrust(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	now := time.Now()

	ledger.RecordOutcome("peer-a", false, false, 1000, 500, 0.01, 50*time.Millisecond, "medium", now)

	r := ledger.Get("peer-a")
	assert.InDelta(t, 0.5-(1-0.5)/4, r.TrustScore, 1e-9)
	assert.Equal(t, 1, r.TasksFailed)
	assert.Equal(t, 1, r.ConsecutiveFailures)
}

func TestReputationDecayPullsTowardNeutral(t *testing.T) {
	ledger := swarm.NewReputationLedger(time.Hour)
	now := time.Now()

	ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "low", now)
	before := ledger.Get("peer-a").TrustScore
	assert.Greater(t, before, 0.5)

	ledger.Decay(now.Add(2 * time.Hour))
	after := ledger.Get("peer-a").TrustScore
	assert.InDelta(t, 0.5, after, 0.01)
}

func TestIsGamingFlagsLowComplexitySkew(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	now := time.Now()
	for i := 0; i < 9; i++ {
		ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "low", now)
	}
	ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "high", now)

	assert.True(t, ledger.IsGaming("peer-a"))
}

func TestIsGamingFlagsHighComplexityRejectionRate(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	ledger.RecordHighComplexityOffer("peer-a")
	ledger.RecordHighComplexityRejection("peer-a")

	assert.True(t, ledger.IsGaming("peer-a"))
}

func TestDiversityEntropyIsZeroForSingleTier(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	now := time.Now()
	for i := 0; i < 5; i++ {
		ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "low", now)
	}
	assert.Equal(t, 0.0, ledger.DiversityEntropy("peer-a"))
}

func TestDiversityEntropyIsHighForEvenSpread(t *testing.T) {
	ledger := swarm.NewReputationLedger(24 * time.Hour)
	now := time.Now()
	ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "low", now)
	ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "medium", now)
	ledger.RecordOutcome("peer-a", true, false, 0, 0, 0, 0, "high", now)

	assert.InDelta(t, 1.0, ledger.DiversityEntropy("peer-a"), 1e-9)
}
