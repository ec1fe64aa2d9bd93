package swarm

import (
	"context"
	"time"

	"github.com/agentmesh/core/runtime/journal"
)

// DelegationOutcomeStatus is the closed set of terminal states a delegated
// task can resolve to, as reported back to the originator.
type DelegationOutcomeStatus string

const (
	DelegationSucceeded DelegationOutcomeStatus = "succeeded"
	DelegationFailed    DelegationOutcomeStatus = "failed"
	DelegationAborted   DelegationOutcomeStatus = "aborted"
	DelegationRejected  DelegationOutcomeStatus = "rejected"
)

// DelegationOutcome is what the originator learns once a delegated task
// resolves, whether by completion or by the delegatee declining it outright.
type DelegationOutcome struct {
	Status     DelegationOutcomeStatus
	DurationMS int64
	Tokens     int64
	CostUSD    float64
	Latency    time.Duration
	Complexity string // low, medium, high; mirrors TaskAttributes.Complexity
	At         time.Time
}

// RecordDelegationOutcome updates peerID's reputation with the result of a
// delegated task and emits swarm.reputation_updated with the peer's new
// trust score. A rejected high-complexity offer feeds the anti-gaming
// rejection ratio instead of RecordOutcome, since the task never ran.
func (m *Manager) RecordDelegationOutcome(ctx context.Context, peerID string, outcome DelegationOutcome) {
	if outcome.Complexity == "high" {
		m.reputations.RecordHighComplexityOffer(peerID)
		if outcome.Status == DelegationRejected {
			m.reputations.RecordHighComplexityRejection(peerID)
		}
	}

	if outcome.Status != DelegationRejected {
		m.reputations.RecordOutcome(peerID,
			outcome.Status == DelegationSucceeded,
			outcome.Status == DelegationAborted,
			outcome.DurationMS, outcome.Tokens, outcome.CostUSD, outcome.Latency,
			outcome.Complexity, outcome.At)
	}

	rep := m.reputations.Get(peerID)
	m.emit(ctx, journal.EventSwarmReputationUpdated, map[string]any{
		"node_id":     peerID,
		"status":      string(outcome.Status),
		"trust_score": rep.TrustScore,
		"is_gaming":   m.reputations.IsGaming(peerID),
	})

	if outcome.Status == DelegationFailed || outcome.Status == DelegationAborted {
		m.DiagnoseDelegationFailure(ctx, peerID, TaskAttributes{Complexity: outcome.Complexity}, false, false, false)
	}
}
