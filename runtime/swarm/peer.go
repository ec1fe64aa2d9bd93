package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/telemetry"
)

// PeerStatus is a peer entry's position in the health lifecycle.
type PeerStatus string

const (
	PeerNew         PeerStatus = "new"
	PeerActive      PeerStatus = "active"
	PeerSuspected   PeerStatus = "suspected"
	PeerUnreachable PeerStatus = "unreachable"
	PeerLeft        PeerStatus = "left"
)

// PeerIdentity is the durable identity a peer announces on join.
type PeerIdentity struct {
	NodeID       string
	DisplayName  string
	APIURL       string
	Capabilities []string
	Version      string
}

// PeerEntry is a row in the peer table: identity plus the health state the
// mesh tracks locally.
type PeerEntry struct {
	PeerIdentity
	Status              PeerStatus
	LastHeartbeatAt     time.Time
	LastLatency         time.Duration
	JoinedAt            time.Time
	ConsecutiveFailures int
	MissedCheckpoints   int
}

// PeerTableConfig bounds the table size and the timers that drive the
// status-transition sweep.
type PeerTableConfig struct {
	MaxPeers         int
	SuspectedAfter   time.Duration
	UnreachableAfter time.Duration
	EvictAfter       time.Duration
}

// DefaultPeerTableConfig mirrors the defaults a freshly joined node boots
// with.
func DefaultPeerTableConfig() PeerTableConfig {
	return PeerTableConfig{
		MaxPeers:         256,
		SuspectedAfter:   15 * time.Second,
		UnreachableAfter: 60 * time.Second,
		EvictAfter:       10 * time.Minute,
	}
}

// ErrPeerTableFull is returned when adding a peer would exceed MaxPeers.
var ErrPeerTableFull = newErr("peer table is at capacity")

// ErrSelfJoin is returned when a node attempts to join the mesh under its
// own node_id.
var ErrSelfJoin = newErr("a node cannot join the mesh as its own peer")

type simpleErr string

func newErr(s string) error       { return simpleErr(s) }
func (e simpleErr) Error() string { return string(e) }

// PeerTable is the mesh's bounded, critical-section-guarded view of known
// peers. Sweep passes hold the lock for the duration of the pass; heartbeat
// RPCs run outside the lock and reacquire only to record the outcome.
type PeerTable struct {
	mu      sync.Mutex
	self    string
	cfg     PeerTableConfig
	journal journal.Journal
	logger  telemetry.Logger
	peers   map[string]*PeerEntry
}

// NewPeerTable constructs an empty table for the node identified by selfID.
func NewPeerTable(selfID string, cfg PeerTableConfig, j journal.Journal, logger telemetry.Logger) *PeerTable {
	return &PeerTable{
		self:    selfID,
		cfg:     cfg,
		journal: j,
		logger:  logger,
		peers:   make(map[string]*PeerEntry),
	}
}

// Join admits a new peer in status new, rejecting a self-join or a table at
// capacity.
func (t *PeerTable) Join(identity PeerIdentity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if identity.NodeID == t.self {
		return ErrSelfJoin
	}
	if _, exists := t.peers[identity.NodeID]; exists {
		return nil
	}
	if len(t.peers) >= t.cfg.MaxPeers {
		return ErrPeerTableFull
	}

	t.peers[identity.NodeID] = &PeerEntry{
		PeerIdentity: identity,
		Status:       PeerNew,
		JoinedAt:     nowFunc(),
	}
	return nil
}

// Get returns a copy of the peer entry for nodeID.
func (t *PeerTable) Get(nodeID string) (PeerEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return PeerEntry{}, false
	}
	return *p, true
}

// Active returns a snapshot of every peer currently in active status.
func (t *PeerTable) Active() []PeerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PeerEntry
	for _, p := range t.peers {
		if p.Status == PeerActive {
			out = append(out, *p)
		}
	}
	return out
}

// All returns a snapshot of every peer in the table regardless of status.
func (t *PeerTable) All() []PeerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerEntry, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// RecordHeartbeat marks a successful heartbeat: resets the failure streak,
// records latency, and promotes new/suspected/unreachable peers back to
// active.
func (t *PeerTable) RecordHeartbeat(nodeID string, latency time.Duration, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return
	}
	p.LastHeartbeatAt = at
	p.LastLatency = latency
	p.ConsecutiveFailures = 0
	p.MissedCheckpoints = 0
	p.Status = PeerActive
}

// RecordHeartbeatFailure increments the failure streak for a peer without
// running the full sweep's time-based transitions.
func (t *PeerTable) RecordHeartbeatFailure(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return
	}
	p.ConsecutiveFailures++
}

// RecordMissedCheckpoint increments the missed-checkpoint counter used by
// root-cause diagnosis to distinguish a network partition from a single
// transient failure.
func (t *PeerTable) RecordMissedCheckpoint(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[nodeID]; ok {
		p.MissedCheckpoints++
	}
}

// Sweep runs the status-transition rules against every peer's time since
// last heartbeat, emitting swarm.peer_suspected|unreachable|evicted for each
// transition and returning the node_ids that were re-delegated away from
// (suspected, unreachable, or evicted this pass).
func (t *PeerTable) Sweep(ctx context.Context, now time.Time) []string {
	t.mu.Lock()
	type transition struct {
		nodeID string
		from   PeerStatus
		to     PeerStatus
	}
	var transitions []transition
	var degraded []string

	for id, p := range t.peers {
		if p.Status == PeerNew || p.Status == PeerLeft {
			continue
		}
		idle := now.Sub(p.LastHeartbeatAt)
		switch p.Status {
		case PeerActive:
			if idle >= t.cfg.SuspectedAfter {
				p.Status = PeerSuspected
				transitions = append(transitions, transition{id, PeerActive, PeerSuspected})
				degraded = append(degraded, id)
			}
		case PeerSuspected:
			if idle >= t.cfg.UnreachableAfter {
				p.Status = PeerUnreachable
				transitions = append(transitions, transition{id, PeerSuspected, PeerUnreachable})
				degraded = append(degraded, id)
			}
		case PeerUnreachable:
			if idle >= t.cfg.EvictAfter {
				p.Status = PeerLeft
				transitions = append(transitions, transition{id, PeerUnreachable, PeerLeft})
				degraded = append(degraded, id)
				delete(t.peers, id)
			}
		}
	}
	t.mu.Unlock()

	for _, tr := range transitions {
		var evt journal.EventType
		switch tr.to {
		case PeerSuspected:
			evt = journal.EventSwarmPeerSuspected
		case PeerUnreachable:
			evt = journal.EventSwarmPeerUnreachable
		case PeerLeft:
			evt = journal.EventSwarmPeerEvicted
		}
		t.emit(ctx, evt, map[string]any{"node_id": tr.nodeID, "from": string(tr.from), "to": string(tr.to)})
	}
	return degraded
}

func (t *PeerTable) emit(ctx context.Context, typ journal.EventType, payload map[string]any) {
	if t.journal == nil {
		return
	}
	if _, err := t.journal.Emit(ctx, "", typ, payload); err != nil && t.logger != nil {
		// Swarm correctness must not depend on journal success: log and move on.
		t.logger.Warn(ctx, "swarm journal emit failed", "error", err, "type", string(typ))
	}
}

// nowFunc is indirected so tests can control JoinedAt without depending on
// wall-clock timing.
var nowFunc = time.Now
