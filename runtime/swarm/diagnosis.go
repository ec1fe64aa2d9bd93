package swarm

import (
	"context"

	"github.com/agentmesh/core/runtime/journal"
)

// RootCause is the diagnosed reason a delegated task failed or missed
// checkpoints.
type RootCause string

const (
	CauseMaliciousBehavior      RootCause = "malicious_behavior"
	CauseNetworkPartition       RootCause = "network_partition"
	CausePeerOverload           RootCause = "peer_overload"
	CauseTaskComplexityMismatch RootCause = "task_complexity_mismatch"
	CauseResourceExhaustion     RootCause = "resource_exhaustion"
	CauseTransientFailure       RootCause = "transient_failure"
	CauseUnknown                RootCause = "unknown"
)

// Response is the action root-cause diagnosis recommends taking for a
// failed delegation.
type Response string

const (
	ResponseRetry             Response = "retry"
	ResponseEscalateToHuman   Response = "escalate_to_human"
	ResponseAbort             Response = "abort"
)

// DiagnosisEvidence is everything diagnosis needs about a failed or
// stalled delegated task: the peer's current health, the task's own
// attributes, and observed anomalies.
type DiagnosisEvidence struct {
	SuspiciousFindings  bool
	DataAccessViolation bool
	PeerStatus          PeerStatus
	MissedCheckpoints   int
	CurrentLatency      float64 // ms
	AverageLatency      float64 // ms
	ConsecutiveFailures int
	CostSpikeAnomaly    bool
	Attributes          TaskAttributes
}

// Diagnosis is the combined root cause and recommended response.
type Diagnosis struct {
	Cause    RootCause
	Response Response
}

// Diagnose combines evidence in priority order per the mesh's diagnosis
// chain, then refines the response using the task's own attributes.
func Diagnose(e DiagnosisEvidence) Diagnosis {
	cause := diagnoseCause(e)
	return Diagnosis{Cause: cause, Response: refineResponse(cause, e.Attributes)}
}

func diagnoseCause(e DiagnosisEvidence) RootCause {
	switch {
	case e.SuspiciousFindings || e.DataAccessViolation:
		return CauseMaliciousBehavior
	case (e.PeerStatus == PeerSuspected || e.PeerStatus == PeerUnreachable) && e.MissedCheckpoints >= 3:
		return CauseNetworkPartition
	case e.AverageLatency > 0 && e.CurrentLatency >= 3*e.AverageLatency:
		return CausePeerOverload
	case e.Attributes.Complexity == "high" && e.ConsecutiveFailures >= 2:
		return CauseTaskComplexityMismatch
	case e.CostSpikeAnomaly:
		return CauseResourceExhaustion
	case e.ConsecutiveFailures == 1:
		return CauseTransientFailure
	default:
		return CauseUnknown
	}
}

func refineResponse(cause RootCause, attrs TaskAttributes) Response {
	if cause == CauseMaliciousBehavior {
		return ResponseAbort
	}
	if attrs.Reversibility == "low" {
		return ResponseEscalateToHuman
	}
	return ResponseRetry
}

// DiagnoseDelegationFailure assembles DiagnosisEvidence from the mesh's own
// peer health and reputation bookkeeping plus whatever anomaly signals the
// caller observed directly (suspicious findings, a data access violation, a
// cost spike), runs root-cause diagnosis, and journals the verdict.
func (m *Manager) DiagnoseDelegationFailure(ctx context.Context, peerID string, attrs TaskAttributes, suspiciousFindings, dataAccessViolation, costSpikeAnomaly bool) Diagnosis {
	peer, _ := m.peers.Get(peerID)
	rep := m.reputations.Get(peerID)

	diagnosis := Diagnose(DiagnosisEvidence{
		SuspiciousFindings:  suspiciousFindings,
		DataAccessViolation: dataAccessViolation,
		PeerStatus:          peer.Status,
		MissedCheckpoints:   peer.MissedCheckpoints,
		CurrentLatency:      float64(peer.LastLatency.Milliseconds()),
		AverageLatency:      rep.AvgLatencyMS,
		ConsecutiveFailures: peer.ConsecutiveFailures,
		CostSpikeAnomaly:    costSpikeAnomaly,
		Attributes:          attrs,
	})

	m.emit(ctx, journal.EventSwarmRootCauseDiagnosed, map[string]any{
		"node_id": peerID, "cause": string(diagnosis.Cause), "response": string(diagnosis.Response),
	})
	return diagnosis
}
