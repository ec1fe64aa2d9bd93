package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/journal/journaltest"
)

func newTestHost() *Host {
	return New(Options{Journal: journaltest.New()})
}

func TestDispatchRunsHooksInPriorityOrder(t *testing.T) {
	h := newTestHost()
	var order []string

	h.registerHook("plugin-b", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		order = append(order, "b")
		return HookResult{Action: ActionContinue}, nil
	}, 10)
	h.registerHook("plugin-a", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		order = append(order, "a")
		return HookResult{Action: ActionContinue}, nil
	}, 1)

	_, err := h.Dispatch(context.Background(), "before_step", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDispatchModifyMergesDataForDownstreamHooks(t *testing.T) {
	h := newTestHost()
	var seenByDownstream map[string]any

	h.registerHook("plugin-a", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		return HookResult{Action: ActionModify, Data: map[string]any{"injected": true}}, nil
	}, 1)
	h.registerHook("plugin-b", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		seenByDownstream = data
		return HookResult{Action: ActionContinue}, nil
	}, 2)

	_, err := h.Dispatch(context.Background(), "before_step", map[string]any{"original": 1})
	require.NoError(t, err)
	assert.Equal(t, true, seenByDownstream["injected"])
	assert.Equal(t, 1, seenByDownstream["original"])
}

func TestDispatchBlockStopsChain(t *testing.T) {
	h := newTestHost()
	calledB := false

	h.registerHook("plugin-a", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		return HookResult{Action: ActionBlock, Reason: "no"}, nil
	}, 1)
	h.registerHook("plugin-b", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		calledB = true
		return HookResult{Action: ActionContinue}, nil
	}, 2)

	result, err := h.Dispatch(context.Background(), "before_step", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
	assert.False(t, calledB)
}

func TestDispatchCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	h := newTestHost()
	calls := 0

	h.registerHook("flaky-plugin", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		calls++
		return HookResult{}, errors.New("boom")
	}, 1)

	for i := 0; i < circuitFailureLimit; i++ {
		_, err := h.Dispatch(context.Background(), "before_step", map[string]any{})
		require.NoError(t, err)
	}
	assert.Equal(t, circuitFailureLimit, calls)

	// Circuit now open: further dispatches must not invoke the hook.
	_, err := h.Dispatch(context.Background(), "before_step", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, circuitFailureLimit, calls, "hook should be short-circuited once breaker opens")

	events, err := h.journal.ReadAll(context.Background())
	require.NoError(t, err)
	opens := 0
	for _, ev := range events {
		if ev.Type == "plugin.hook_circuit_open" {
			opens++
		}
	}
	assert.Equal(t, 1, opens, "hook_circuit_open should fire exactly once per opening")
}

func TestUnloadRemovesRegistrations(t *testing.T) {
	h := newTestHost()
	h.plugins["plugin-a"] = &loadedPlugin{manifest: Manifest{ID: "plugin-a"}, state: StateActive}
	h.registerTool("plugin-a", "echo", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	})
	h.registerHook("plugin-a", "before_step", func(ctx context.Context, data map[string]any) (HookResult, error) {
		return HookResult{Action: ActionContinue}, nil
	}, 1)
	h.registerRoute("plugin-a", "GET", "/status", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, nil
	})

	require.NoError(t, h.Unload(context.Background(), "plugin-a"))

	_, ok := h.Tool("plugin-a", "echo")
	assert.False(t, ok)
	_, ok = h.Route("plugin-a", "GET", "/status")
	assert.False(t, ok)
	_, stillLoaded := h.State("plugin-a")
	assert.False(t, stillLoaded)

	result, err := h.Dispatch(context.Background(), "before_step", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, result.Action)
}
