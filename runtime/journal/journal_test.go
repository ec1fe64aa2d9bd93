package journal_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/journal"
)

func newTestJournal(t *testing.T) *journal.FileJournal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j := journal.NewFileJournal(journal.Options{Path: path})
	require.NoError(t, j.Init(context.Background()))
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestEmitAssignsContiguousSeqAndValidChain(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	for i := 0; i < 5; i++ {
		_, err := j.Emit(ctx, "sess-1", journal.EventStepStarted, map[string]any{"i": float64(i)})
		require.NoError(t, err)
	}

	events, err := j.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 5)

	seen := map[int64]bool{}
	for i, ev := range events {
		assert.False(t, seen[ev.Seq], "duplicate seq %d", ev.Seq)
		seen[ev.Seq] = true
		if i > 0 {
			assert.Equal(t, events[i-1].Seq+1, ev.Seq, "gap in seq sequence")
		}
	}

	idx, ok := journal.VerifyChain(events)
	assert.True(t, ok, "chain should verify, broke at index %d", idx)
}

func TestTerminalSessionRejectsFurtherEmits(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	_, err := j.Emit(ctx, "sess-1", journal.EventSessionStarted, nil)
	require.NoError(t, err)
	_, err = j.Emit(ctx, "sess-1", journal.EventSessionCompleted, nil)
	require.NoError(t, err)

	_, err = j.Emit(ctx, "sess-1", journal.EventStepStarted, nil)
	assert.ErrorIs(t, err, journal.ErrSessionTerminal)
}

func TestMultipleSessionsChainIndependently(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	_, err := j.Emit(ctx, "sess-a", journal.EventSessionStarted, nil)
	require.NoError(t, err)
	_, err = j.Emit(ctx, "sess-b", journal.EventSessionStarted, nil)
	require.NoError(t, err)
	_, err = j.Emit(ctx, "sess-a", journal.EventStepStarted, nil)
	require.NoError(t, err)

	a, err := j.ReadSession(ctx, "sess-a")
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, "", a[0].HashPrev)
	assert.Equal(t, a[0].HashSelf, a[1].HashPrev)

	b, err := j.ReadSession(ctx, "sess-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "", b[0].HashPrev)

	all, err := j.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].Seq+1, all[i].Seq, "global seq must be contiguous across sessions")
	}
}

func TestCompactRetainsOnlyListedSessionsAndPreservesChainValidity(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	for i := 0; i < 3; i++ {
		_, err := j.Emit(ctx, "keep", journal.EventStepStarted, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := j.Emit(ctx, "drop", journal.EventStepStarted, nil)
		require.NoError(t, err)
	}

	before, after, err := j.Compact(ctx, []string{"keep"})
	require.NoError(t, err)
	assert.Equal(t, 6, before)
	assert.Equal(t, 3, after)

	all, err := j.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, ev := range all {
		assert.Equal(t, "keep", ev.SessionID)
	}

	idx, ok := journal.VerifyChain(all)
	assert.True(t, ok, "chain should verify after compaction, broke at index %d", idx)

	dropped, err := j.ReadSession(ctx, "drop")
	require.NoError(t, err)
	assert.Empty(t, dropped)
}

func TestRecoverAfterReopenContinuesSeqAndChain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	j1 := journal.NewFileJournal(journal.Options{Path: path})
	require.NoError(t, j1.Init(ctx))
	first, err := j1.Emit(ctx, "sess-1", journal.EventSessionStarted, nil)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2 := journal.NewFileJournal(journal.Options{Path: path})
	require.NoError(t, j2.Init(ctx))
	defer j2.Close()

	second, err := j2.Emit(ctx, "sess-1", journal.EventStepStarted, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Seq+1, second.Seq)
	assert.Equal(t, first.HashSelf, second.HashPrev)
}

func TestRedactScrubsCredentialShapedPayloadFields(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j := journal.NewFileJournal(journal.Options{Path: path, Redact: true})
	require.NoError(t, j.Init(ctx))
	defer j.Close()

	ev, err := j.Emit(ctx, "sess-1", journal.EventPermissionGranted, map[string]any{
		"api_key": "sk-abcdef",
		"note":    "authorization: Bearer sk-abcdef and more",
	})
	require.NoError(t, err)

	assert.Equal(t, "[redacted]", ev.Payload["api_key"])
	assert.NotContains(t, ev.Payload["note"], "sk-abcdef")
}
