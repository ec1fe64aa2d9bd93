package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/telemetry"
)

// ErrSessionTerminal is returned by Emit when the session has already
// reached a terminal state (completed, failed, or aborted).
var ErrSessionTerminal = errors.New("journal: session already in terminal state")

var terminalTypes = map[EventType]bool{
	EventSessionCompleted: true,
	EventSessionFailed:    true,
	EventSessionAborted:   true,
}

// Options configures a FileJournal.
type Options struct {
	// Path is the JSON-Lines log file. Its parent directory is created if
	// missing.
	Path string
	// Redact, when true, scrubs credential-shaped payload fields before
	// they are hashed and written.
	Redact bool
	// Fsync, when true, calls File.Sync after every Emit. Durable but
	// slower; tests typically leave this false.
	Fsync bool
	// Logger receives best-effort diagnostics (e.g. a recovered truncated
	// tail). A nil Logger is replaced by telemetry.NoopLogger{}.
	Logger telemetry.Logger
}

// FileJournal is the file-backed Journal implementation. One global,
// monotonic Seq counter spans every session in the file; each session's
// events additionally form their own hash chain via HashPrev/HashSelf.
type FileJournal struct {
	mu     sync.Mutex
	opts   Options
	logger telemetry.Logger

	file *os.File

	nextSeq      int64
	lastHash     map[string]string
	terminal     map[string]EventType
	sessionOrder []string // preserves first-seen order for deterministic Compact
}

// NewFileJournal constructs a FileJournal. Call Init before use.
func NewFileJournal(opts Options) *FileJournal {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &FileJournal{
		opts:     opts,
		logger:   logger,
		lastHash: make(map[string]string),
		terminal: make(map[string]EventType),
	}
}

// Init opens the log file, replaying it to recover in-memory chain state and
// discarding a trailing truncated line left by a crash mid-write.
func (j *FileJournal) Init(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.opts.Path), 0o755); err != nil {
		return corerr.Wrap(corerr.IOError, "create journal directory", err)
	}

	raw, err := os.ReadFile(j.opts.Path)
	if err != nil && !os.IsNotExist(err) {
		return corerr.Wrap(corerr.IOError, "read journal file", err)
	}

	validLen, events, truncated := j.scanValidPrefix(raw)
	if truncated {
		j.logger.Warn(ctx, "journal: discarding truncated trailing line", "path", j.opts.Path)
		if err := os.WriteFile(j.opts.Path, raw[:validLen], 0o644); err != nil {
			return corerr.Wrap(corerr.IOError, "truncate corrupted journal tail", err)
		}
	}

	for _, ev := range events {
		if ev.Seq >= j.nextSeq {
			j.nextSeq = ev.Seq + 1
		}
		if _, seen := j.lastHash[ev.SessionID]; !seen {
			j.sessionOrder = append(j.sessionOrder, ev.SessionID)
		}
		j.lastHash[ev.SessionID] = ev.HashSelf
		if terminalTypes[ev.Type] {
			j.terminal[ev.SessionID] = ev.Type
		}
	}

	f, err := os.OpenFile(j.opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return corerr.Wrap(corerr.IOError, "open journal file", err)
	}
	j.file = f
	return nil
}

// scanValidPrefix parses raw as JSON-Lines, returning the events decoded and
// the byte length of the longest valid line-aligned prefix. truncated is
// true when the final non-empty line failed to parse, which is treated as a
// crash mid-write rather than corruption, since it can only ever be the
// last line of an append-only file. validLen then ends just after the last
// line that parsed.
func (j *FileJournal) scanValidPrefix(raw []byte) (validLen int, events []Event, truncated bool) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	offset := 0
	lastBad := false
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := len(line) + 1 // + newline
		offset += lineLen
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A malformed line in the middle of the file is skipped; only a
			// malformed final line is reported as a truncated tail.
			lastBad = true
			continue
		}
		events = append(events, ev)
		validLen = offset
		lastBad = false
	}
	if lastBad {
		return validLen, events, true
	}
	return offset, events, false
}

// Emit appends an event with the next global Seq, links it into its
// session's hash chain, and returns the fully populated Event.
func (j *FileJournal) Emit(ctx context.Context, sessionID string, typ EventType, payload map[string]any) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, done := j.terminal[sessionID]; done {
		return Event{}, ErrSessionTerminal
	}

	if j.opts.Redact {
		payload = redactPayload(payload)
	}

	seq := j.nextSeq
	hashPrev := j.lastHash[sessionID]

	ev := Event{
		EventID:   uuid.NewString(),
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		HashPrev:  hashPrev,
	}
	hash, err := HashEvent(ev)
	if err != nil {
		return Event{}, corerr.Wrap(corerr.IOError, "canonicalize journal event", err)
	}
	ev.HashSelf = hash

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, corerr.Wrap(corerr.IOError, "marshal journal event", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return Event{}, corerr.Wrap(corerr.IOError, "write journal event", err)
	}
	if j.opts.Fsync {
		if err := j.file.Sync(); err != nil {
			return Event{}, corerr.Wrap(corerr.IOError, "fsync journal event", err)
		}
	}

	if _, seen := j.lastHash[sessionID]; !seen {
		j.sessionOrder = append(j.sessionOrder, sessionID)
	}
	j.lastHash[sessionID] = hash
	j.nextSeq = seq + 1
	if terminalTypes[typ] {
		j.terminal[sessionID] = typ
	}

	return ev, nil
}

// ReadAll yields every event in append (global Seq) order.
func (j *FileJournal) ReadAll(ctx context.Context) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readAllLocked()
}

func (j *FileJournal) readAllLocked() ([]Event, error) {
	raw, err := os.ReadFile(j.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, corerr.Wrap(corerr.IOError, "read journal file", err)
	}
	_, events, _ := j.scanValidPrefix(raw)
	return events, nil
}

// ReadSession yields events for one session in Seq order.
func (j *FileJournal) ReadSession(ctx context.Context, sessionID string) ([]Event, error) {
	all, err := j.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Compact rewrites the log keeping only events whose session is in
// retainSessions, preserving relative order and recomputing each retained
// session's hash chain from scratch. The in-process mutex held for the
// duration of the rewrite serves as Compact's advisory lock: no concurrent
// Emit can interleave with the temp-file swap.
func (j *FileJournal) Compact(ctx context.Context, retainSessions []string) (before, after int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	keep := make(map[string]bool, len(retainSessions))
	for _, s := range retainSessions {
		keep[s] = true
	}

	all, err := j.readAllLocked()
	if err != nil {
		return 0, 0, err
	}
	before = len(all)

	retained := make([]Event, 0, len(all))
	for _, ev := range all {
		if keep[ev.SessionID] {
			retained = append(retained, ev)
		}
	}

	rebuilt := make([]Event, 0, len(retained))
	lastHash := make(map[string]string)
	for _, ev := range retained {
		ev.HashPrev = lastHash[ev.SessionID]
		hash, hErr := HashEvent(ev)
		if hErr != nil {
			return before, 0, corerr.Wrap(corerr.IOError, "canonicalize during compaction", hErr)
		}
		ev.HashSelf = hash
		lastHash[ev.SessionID] = ev.HashSelf
		rebuilt = append(rebuilt, ev)
	}

	dir := filepath.Dir(j.opts.Path)
	tmp, err := os.CreateTemp(dir, ".journal-compact-*")
	if err != nil {
		return before, 0, corerr.Wrap(corerr.IOError, "create compaction temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	for _, ev := range rebuilt {
		line, mErr := json.Marshal(ev)
		if mErr != nil {
			tmp.Close()
			return before, 0, corerr.Wrap(corerr.IOError, "marshal event during compaction", mErr)
		}
		if _, wErr := w.Write(append(line, '\n')); wErr != nil {
			tmp.Close()
			return before, 0, corerr.Wrap(corerr.IOError, "write compaction temp file", wErr)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return before, 0, corerr.Wrap(corerr.IOError, "flush compaction temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return before, 0, corerr.Wrap(corerr.IOError, "fsync compaction temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return before, 0, corerr.Wrap(corerr.IOError, "close compaction temp file", err)
	}

	if j.file != nil {
		j.file.Close()
	}
	if err := os.Rename(tmpPath, j.opts.Path); err != nil {
		return before, 0, corerr.Wrap(corerr.IOError, "swap compacted journal into place", err)
	}

	f, err := os.OpenFile(j.opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return before, 0, corerr.Wrap(corerr.IOError, "reopen journal after compaction", err)
	}
	j.file = f

	j.nextSeq = 0
	j.lastHash = make(map[string]string)
	j.terminal = make(map[string]EventType)
	j.sessionOrder = nil
	for _, ev := range rebuilt {
		if ev.Seq >= j.nextSeq {
			j.nextSeq = ev.Seq + 1
		}
		if _, seen := j.lastHash[ev.SessionID]; !seen {
			j.sessionOrder = append(j.sessionOrder, ev.SessionID)
		}
		j.lastHash[ev.SessionID] = ev.HashSelf
		if terminalTypes[ev.Type] {
			j.terminal[ev.SessionID] = ev.Type
		}
	}

	return before, len(rebuilt), nil
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	if err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}

var _ Journal = (*FileJournal)(nil)
