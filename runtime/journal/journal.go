// Package journal provides the append-only, hash-chained event log that
// records every decision the Kernel, Permission Engine, Plugin Host, and
// Swarm Mesh make: a file-backed, globally seq-numbered, canonical-JSON log
// with per-session hash chaining and selective compaction.
package journal

import (
	"context"
	"time"
)

// EventType is a closed enum of journal event kinds. Unknown strings are
// rejected by the schema validator before Emit is called.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventSessionFailed    EventType = "session.failed"
	EventSessionAborted   EventType = "session.aborted"
	EventSessionCheckpoint EventType = "session.checkpoint"

	EventPlanGenerated EventType = "plan.generated"
	EventPlanAccepted  EventType = "plan.accepted"
	EventPlanRejected  EventType = "plan.rejected"

	EventStepStarted   EventType = "step.started"
	EventStepSucceeded EventType = "step.succeeded"
	EventStepFailed    EventType = "step.failed"

	EventPermissionRequested EventType = "permission.requested"
	EventPermissionGranted   EventType = "permission.granted"
	EventPermissionDenied    EventType = "permission.denied"

	EventLimitExceeded  EventType = "limit.exceeded"
	EventPolicyViolated EventType = "policy.violated"

	EventFutilityWarn EventType = "futility.warn"
	EventFutilityHalt EventType = "futility.halt"

	EventPluginDiscovered      EventType = "plugin.discovered"
	EventPluginLoading         EventType = "plugin.loading"
	EventPluginLoaded          EventType = "plugin.loaded"
	EventPluginFailed          EventType = "plugin.failed"
	EventPluginHookFired       EventType = "plugin.hook_fired"
	EventPluginHookCircuitOpen EventType = "plugin.hook_circuit_open"
	EventPluginServiceStarted  EventType = "plugin.service_started"
	EventPluginServiceFailed   EventType = "plugin.service_failed"
	EventPluginServiceStopped  EventType = "plugin.service_stopped"
	EventPluginUnloaded        EventType = "plugin.unloaded"
	EventPluginReloaded        EventType = "plugin.reloaded"

	EventSwarmPeerSuspected              EventType = "swarm.peer_suspected"
	EventSwarmPeerUnreachable            EventType = "swarm.peer_unreachable"
	EventSwarmPeerEvicted                EventType = "swarm.peer_evicted"
	EventSwarmTaskDelegated              EventType = "swarm.task_delegated"
	EventSwarmTaskAccepted               EventType = "swarm.task_accepted"
	EventSwarmTaskRejected               EventType = "swarm.task_rejected"
	EventSwarmAttestationChainInvalid    EventType = "swarm.attestation_chain_invalid"
	EventSwarmAuctionCreated             EventType = "swarm.auction_created"
	EventSwarmAuctionSettled             EventType = "swarm.auction_settled"
	EventSwarmReputationUpdated          EventType = "swarm.reputation_updated"
	EventSwarmRootCauseDiagnosed         EventType = "swarm.root_cause_diagnosed"
	EventSwarmConsensusChecked           EventType = "swarm.consensus_checked"
	EventSwarmConsensusDissent           EventType = "swarm.consensus_dissent"
)

// Event is a single immutable, hash-chained journal entry.
//
// Store implementations assign Seq, Timestamp, HashPrev, and HashSelf when
// persisting the event; callers supply everything else. Seq is gap-free
// across the whole journal; events belonging to the same SessionID appear
// in strictly increasing Seq order and form their own hash chain, which any
// reader can re-verify independently.
type Event struct {
	// EventID is a caller-opaque unique identifier (typically a uuid).
	EventID string `json:"event_id"`
	// Seq is globally monotonic across all sessions in one journal file.
	Seq int64 `json:"seq"`
	// Timestamp is RFC-3339 formatted wall-clock time of the emit call.
	Timestamp time.Time `json:"timestamp"`
	// SessionID groups events belonging to one Kernel session.
	SessionID string `json:"session_id"`
	// Type is the closed event-kind enum.
	Type EventType `json:"type"`
	// Payload is arbitrary event-specific data, redacted before write when
	// the journal is configured with Redact enabled.
	Payload map[string]any `json:"payload"`
	// HashPrev is the hex-encoded hash of the previous event in this
	// session's chain, or empty for the session's first event.
	HashPrev string `json:"hash_prev,omitempty"`
	// HashSelf is SHA-256 over the canonical bytes of this event (with
	// HashSelf itself excluded), prefixed by HashPrev.
	HashSelf string `json:"hash_self,omitempty"`
}

// Journal is the append-only event log contract consumed by the Kernel,
// Permission Engine, Plugin Host, and Swarm Mesh.
type Journal interface {
	// Init opens (creating if absent) the backing log and recovers the
	// maximum Seq and last HashSelf per session, discarding a trailing
	// truncated line if the previous process crashed mid-write.
	Init(ctx context.Context) error

	// Emit appends an event with the next global Seq, links it into its
	// session's hash chain, and returns the fully populated Event.
	//
	// Emit fails with a CoreError{Code: IOError} on write failure. The
	// Kernel logs such a failure and carries on; it does not fail the
	// session because of it.
	// A session that has already reached a terminal state (completed,
	// failed, or aborted) never leaves it: further Emit calls for that
	// session_id are rejected with ErrSessionTerminal.
	Emit(ctx context.Context, sessionID string, typ EventType, payload map[string]any) (Event, error)

	// ReadAll yields every event in append (global Seq) order.
	ReadAll(ctx context.Context) ([]Event, error)

	// ReadSession yields events for one session in Seq order.
	ReadSession(ctx context.Context, sessionID string) ([]Event, error)

	// Compact rewrites the log keeping only events whose session is in
	// retainSessions, preserving relative order and recomputing each
	// retained session's hash chain from scratch. Returns the event counts
	// before and after.
	Compact(ctx context.Context, retainSessions []string) (before, after int, err error)

	// Close releases any resources (file handles) held by the journal.
	Close() error
}
