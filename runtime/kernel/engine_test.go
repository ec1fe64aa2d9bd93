package kernel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/journal/journaltest"
	"github.com/agentmesh/core/runtime/kernel"
	"github.com/agentmesh/core/runtime/tool"
)

type onePlanPlanner struct {
	plan  kernel.Plan
	calls int
}

func (p *onePlanPlanner) Plan(ctx context.Context, req kernel.PlanRequest) (kernel.Plan, error) {
	p.calls++
	return p.plan, nil
}

type fakeTools struct {
	outputs map[string]map[string]any
}

func (f *fakeTools) Execute(ctx context.Context, inv tool.Invoke) (tool.Result, error) {
	out, ok := f.outputs[inv.ToolName]
	if !ok {
		return tool.Result{Error: corerr.New(corerr.BadInput, "unknown tool "+inv.ToolName)}, nil
	}
	return tool.Result{Output: out}, nil
}

func echoPlan() kernel.Plan {
	return kernel.Plan{
		Goal: "echo hello",
		Steps: []kernel.Step{
			{
				StepID:  "s1",
				Title:   "echo",
				ToolRef: kernel.ToolRef{Name: "echo-tool"},
				Input:   map[string]any{"text": "hello"},
			},
		},
	}
}

func TestRunHappyPathEchoCompletesSession(t *testing.T) {
	j := journaltest.New()
	planner := &onePlanPlanner{plan: echoPlan()}
	tools := &fakeTools{outputs: map[string]map[string]any{
		"echo-tool": {"msg": "hello"},
	}}

	eng := kernel.New(kernel.Options{
		Planner: planner,
		Tools:   tools,
		Journal: j,
	})

	sess, err := eng.CreateSession(context.Background(), "echo hello", kernel.ModeMock, kernel.Limits{}, kernel.Policy{})
	require.NoError(t, err)

	err = eng.Run(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, kernel.StatusCompleted, sess.Status)
	require.Len(t, sess.StepResults, 1)
	assert.Equal(t, kernel.StepSucceeded, sess.StepResults[0].Status)
	assert.Equal(t, "hello", sess.StepResults[0].Output["msg"])
	assert.Equal(t, 1, planner.calls)

	events, err := j.ReadSession(context.Background(), sess.SessionID)
	require.NoError(t, err)

	var types []journal.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []journal.EventType{
		journal.EventSessionCreated,
		journal.EventSessionStarted,
		journal.EventPlanGenerated,
		journal.EventPlanAccepted,
		journal.EventStepStarted,
		journal.EventStepSucceeded,
		journal.EventSessionCompleted,
	}, types)

	stepSucceeded := 0
	for _, typ := range types {
		if typ == journal.EventStepSucceeded {
			stepSucceeded++
		}
	}
	assert.Equal(t, 1, stepSucceeded)
}

func TestRunAbortsBeforeNextStep(t *testing.T) {
	j := journaltest.New()
	planner := &onePlanPlanner{plan: echoPlan()}
	tools := &fakeTools{outputs: map[string]map[string]any{
		"echo-tool": {"msg": "hello"},
	}}
	eng := kernel.New(kernel.Options{Planner: planner, Tools: tools, Journal: j})

	sess, err := eng.CreateSession(context.Background(), "echo hello", kernel.ModeMock, kernel.Limits{}, kernel.Policy{})
	require.NoError(t, err)

	eng.Abort(sess.SessionID)
	err = eng.Run(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, kernel.StatusAborted, sess.Status)
}

func TestRunFailurePolicyAbortFailsSession(t *testing.T) {
	j := journaltest.New()
	plan := echoPlan()
	plan.Steps[0].ToolRef.Name = "missing-tool"
	plan.Steps[0].FailurePolicy = kernel.FailureAbort
	planner := &onePlanPlanner{plan: plan}
	tools := &fakeTools{outputs: map[string]map[string]any{}}
	eng := kernel.New(kernel.Options{Planner: planner, Tools: tools, Journal: j})

	sess, err := eng.CreateSession(context.Background(), "echo hello", kernel.ModeMock, kernel.Limits{}, kernel.Policy{})
	require.NoError(t, err)

	err = eng.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusFailed, sess.Status)
}

func TestRunEnforcesMaxSteps(t *testing.T) {
	j := journaltest.New()
	planner := &onePlanPlanner{plan: echoPlan()}
	tools := &fakeTools{outputs: map[string]map[string]any{
		"echo-tool": {"msg": "hello"},
	}}
	eng := kernel.New(kernel.Options{Planner: planner, Tools: tools, Journal: j})

	sess, err := eng.CreateSession(context.Background(), "echo hello", kernel.ModeMock, kernel.Limits{MaxSteps: 0}, kernel.Policy{})
	require.NoError(t, err)
	sess.Limits.MaxSteps = 1

	err = eng.Run(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusFailed, sess.Status)

	events, err := j.ReadSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Type == journal.EventLimitExceeded {
			found = true
		}
	}
	assert.True(t, found, "expected limit.exceeded event")
}

func TestCreateSessionRejectsOverCapacity(t *testing.T) {
	j := journaltest.New()
	eng := kernel.New(kernel.Options{
		Planner:               &onePlanPlanner{plan: echoPlan()},
		Tools:                 &fakeTools{},
		Journal:               j,
		MaxConcurrentSessions: 1,
	})

	_, err := eng.CreateSession(context.Background(), "t1", kernel.ModeMock, kernel.Limits{}, kernel.Policy{})
	require.NoError(t, err)

	_, err = eng.CreateSession(context.Background(), "t2", kernel.ModeMock, kernel.Limits{}, kernel.Policy{})
	assert.ErrorIs(t, err, kernel.ErrTooManySessions)
}
