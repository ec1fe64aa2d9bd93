// Package journaltest provides an in-memory journal.Journal for use in unit
// tests that exercise the Kernel, Permission Engine, Plugin Host, or Swarm
// Mesh without touching the filesystem.
package journaltest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/core/runtime/journal"
)

// InMemory is a Journal backed by a slice held in process memory. It applies
// the same hash-chaining and terminal-state rules as the file-backed
// implementation, so properties verified against it hold for the real thing.
type InMemory struct {
	mu       sync.Mutex
	events   []journal.Event
	nextSeq  int64
	lastHash map[string]string
	terminal map[string]bool
}

var terminalTypes = map[journal.EventType]bool{
	journal.EventSessionCompleted: true,
	journal.EventSessionFailed:    true,
	journal.EventSessionAborted:   true,
}

// New constructs an empty InMemory journal, ready for use without Init.
func New() *InMemory {
	return &InMemory{
		lastHash: make(map[string]string),
		terminal: make(map[string]bool),
	}
}

// Init is a no-op; InMemory has no backing store to recover.
func (m *InMemory) Init(ctx context.Context) error { return nil }

// Emit appends an event, mirroring FileJournal's sequencing and chaining.
func (m *InMemory) Emit(ctx context.Context, sessionID string, typ journal.EventType, payload map[string]any) (journal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal[sessionID] {
		return journal.Event{}, journal.ErrSessionTerminal
	}

	seq := m.nextSeq
	hashPrev := m.lastHash[sessionID]
	ev := journal.Event{
		EventID:   uuid.NewString(),
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		HashPrev:  hashPrev,
	}
	hash, err := journal.HashEvent(ev)
	if err != nil {
		return journal.Event{}, err
	}
	ev.HashSelf = hash

	m.events = append(m.events, ev)
	m.lastHash[sessionID] = ev.HashSelf
	m.nextSeq = seq + 1
	if terminalTypes[typ] {
		m.terminal[sessionID] = true
	}
	return ev, nil
}

// ReadAll returns every event in append order.
func (m *InMemory) ReadAll(ctx context.Context) ([]journal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

// ReadSession returns one session's events in Seq order.
func (m *InMemory) ReadSession(ctx context.Context, sessionID string) ([]journal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Event
	for _, ev := range m.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Compact keeps only events for retainSessions, recomputing hash chains.
func (m *InMemory) Compact(ctx context.Context, retainSessions []string) (before, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(retainSessions))
	for _, s := range retainSessions {
		keep[s] = true
	}

	before = len(m.events)
	retained := make([]journal.Event, 0, before)
	for _, ev := range m.events {
		if keep[ev.SessionID] {
			retained = append(retained, ev)
		}
	}

	lastHash := make(map[string]string)
	terminal := make(map[string]bool)
	for i, ev := range retained {
		retained[i].HashPrev = lastHash[ev.SessionID]
		hash, hErr := journal.HashEvent(retained[i])
		if hErr != nil {
			return before, 0, hErr
		}
		retained[i].HashSelf = hash
		lastHash[ev.SessionID] = retained[i].HashSelf
		if terminalTypes[ev.Type] {
			terminal[ev.SessionID] = true
		}
	}

	m.events = retained
	m.lastHash = lastHash
	m.terminal = terminal
	return before, len(retained), nil
}

// Close is a no-op.
func (m *InMemory) Close() error { return nil }

var _ journal.Journal = (*InMemory)(nil)
