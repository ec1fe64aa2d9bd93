package swarm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/swarm"
)

func TestDiagnoseMaliciousBehaviorTakesPriority(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{
		SuspiciousFindings: true,
		PeerStatus:         swarm.PeerUnreachable,
		MissedCheckpoints:  5,
	})
	assert.Equal(t, swarm.CauseMaliciousBehavior, d.Cause)
	assert.Equal(t, swarm.ResponseAbort, d.Response)
}

func TestDiagnoseNetworkPartition(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{
		PeerStatus:        swarm.PeerSuspected,
		MissedCheckpoints: 3,
	})
	assert.Equal(t, swarm.CauseNetworkPartition, d.Cause)
}

func TestDiagnosePeerOverload(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{
		CurrentLatency: 900,
		AverageLatency: 300,
	})
	assert.Equal(t, swarm.CausePeerOverload, d.Cause)
}

func TestDiagnoseTaskComplexityMismatch(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{
		ConsecutiveFailures: 2,
		Attributes:          swarm.TaskAttributes{Complexity: "high"},
	})
	assert.Equal(t, swarm.CauseTaskComplexityMismatch, d.Cause)
}

func TestDiagnoseResourceExhaustion(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{CostSpikeAnomaly: true})
	assert.Equal(t, swarm.CauseResourceExhaustion, d.Cause)
}

func TestDiagnoseTransientFailure(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{ConsecutiveFailures: 1})
	assert.Equal(t, swarm.CauseTransientFailure, d.Cause)
}

func TestDiagnoseUnknownWhenNoEvidenceMatches(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{})
	assert.Equal(t, swarm.CauseUnknown, d.Cause)
}

func TestDiagnoseLowReversibilityEscalatesToHuman(t *testing.T) {
	d := swarm.Diagnose(swarm.DiagnosisEvidence{
		ConsecutiveFailures: 1,
		Attributes:          swarm.TaskAttributes{Reversibility: "low"},
	})
	assert.Equal(t, swarm.ResponseEscalateToHuman, d.Response)
}

func TestRecordDelegationOutcomeFailureEmitsRootCauseDiagnosed(t *testing.T) {
	mgr := newTestManager(t, newFakeTransport())
	ctx := context.Background()

	mgr.RecordDelegationOutcome(ctx, "peer-a", swarm.DelegationOutcome{
		Status: swarm.DelegationFailed, Complexity: "high", At: time.Now(),
	})

	events, err := mgr.Journal().ReadAll(ctx)
	require.NoError(t, err)
	assert.True(t, containsEventType(events, "swarm.root_cause_diagnosed"))
}

func TestRecordDelegationOutcomeSuccessDoesNotTriggerDiagnosis(t *testing.T) {
	mgr := newTestManager(t, newFakeTransport())
	ctx := context.Background()

	mgr.RecordDelegationOutcome(ctx, "peer-a", swarm.DelegationOutcome{
		Status: swarm.DelegationSucceeded, Complexity: "low", At: time.Now(),
	})

	events, err := mgr.Journal().ReadAll(ctx)
	require.NoError(t, err)
	assert.False(t, containsEventType(events, "swarm.root_cause_diagnosed"))
}
