package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmesh/core/runtime/journal"
)

// ErrSessionNotRecoverable is returned by Recover when the session never
// reached session.started, or already reached a terminal event.
var ErrSessionNotRecoverable = errors.New("kernel: session is not recoverable")

// Recover reads sessionID's journal history, reconstructs the latest
// accepted plan and the step results recorded so far, and re-admits the
// session into the Engine so Run can resume it. Plan reconstruction is
// limited to what plan.generated/plan.accepted record (plan_id and goal);
// step output is not replayed since step.succeeded does not journal it, only
// status and error detail.
func (e *Engine) Recover(ctx context.Context, sessionID string) (*Session, error) {
	if e.journal == nil {
		return nil, fmt.Errorf("kernel: no journal configured")
	}
	events, err := e.journal.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("kernel: read session journal: %w", err)
	}

	sess := &Session{SessionID: sessionID, Status: StatusCreated}
	started := false
	var pendingPlan *Plan

	for _, ev := range events {
		switch ev.Type {
		case journal.EventSessionCreated:
			if task, ok := ev.Payload["task"].(string); ok {
				sess.Task = task
			}
			if mode, ok := ev.Payload["mode"].(string); ok {
				sess.Mode = Mode(mode)
			}
			sess.CreatedAt = ev.Timestamp

		case journal.EventSessionStarted:
			started = true
			sess.Status = StatusPlanning

		case journal.EventPlanGenerated:
			planID, _ := ev.Payload["plan_id"].(string)
			goal, _ := ev.Payload["goal"].(string)
			pendingPlan = &Plan{PlanID: planID, Goal: goal, CreatedAt: ev.Timestamp}

		case journal.EventPlanAccepted:
			if pendingPlan != nil {
				sess.PlanHistory = append(sess.PlanHistory, *pendingPlan)
				sess.Status = StatusRunning
				pendingPlan = nil
			}

		case journal.EventStepSucceeded:
			stepID, _ := ev.Payload["step_id"].(string)
			sess.StepResults = append(sess.StepResults, StepResult{
				StepID: stepID, Status: StepSucceeded, FinishedAt: ev.Timestamp,
			})
			sess.UsageSummary.Steps++

		case journal.EventStepFailed:
			stepID, _ := ev.Payload["step_id"].(string)
			code, _ := ev.Payload["code"].(string)
			message, _ := ev.Payload["message"].(string)
			sess.StepResults = append(sess.StepResults, StepResult{
				StepID: stepID, Status: StepFailed,
				Error: &StepError{Code: code, Message: message}, FinishedAt: ev.Timestamp,
			})
			sess.UsageSummary.Steps++

		case journal.EventSessionCheckpoint:
			sess.LastCheckpoint = checkpointFromPayload(ev.Payload, sess.UsageSummary)

		case journal.EventSessionCompleted:
			sess.Status = StatusCompleted
		case journal.EventSessionFailed, journal.EventLimitExceeded, journal.EventFutilityHalt:
			sess.Status = StatusFailed
		case journal.EventSessionAborted:
			sess.Status = StatusAborted
		}
	}

	if !started || isTerminal(sess.Status) {
		return nil, ErrSessionNotRecoverable
	}

	e.mu.Lock()
	e.sessions[sessionID] = sess
	e.running[sessionID] = true
	e.abortSig[sessionID] = make(chan struct{})
	e.mu.Unlock()

	return sess, nil
}

func checkpointFromPayload(payload map[string]any, usage UsageSummary) *Checkpoint {
	cp := &Checkpoint{Usage: usage}
	cp.Findings = stringSliceFromAny(payload["findings"])
	cp.RemainingStepTitles = stringSliceFromAny(payload["remaining_step_titles"])
	if goal, ok := payload["last_goal"].(string); ok {
		cp.LastGoal = goal
	}
	return cp
}

// stringSliceFromAny accepts both the []string a process emits in-memory
// and the []interface{} the same payload decodes to after a round trip
// through the file journal's JSON encoding.
func stringSliceFromAny(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DiscoverRecoverable returns the session_ids with a session.started event
// but no terminal event (session.completed, session.failed,
// session.aborted, or the limit.exceeded/futility.halt events that Recover
// also treats as ending a session), in the order they started.
func (e *Engine) DiscoverRecoverable(ctx context.Context) ([]string, error) {
	if e.journal == nil {
		return nil, fmt.Errorf("kernel: no journal configured")
	}
	events, err := e.journal.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("kernel: read journal: %w", err)
	}

	started := make(map[string]bool)
	terminal := make(map[string]bool)
	var order []string
	for _, ev := range events {
		if ev.SessionID == "" {
			continue
		}
		switch ev.Type {
		case journal.EventSessionStarted:
			if !started[ev.SessionID] {
				order = append(order, ev.SessionID)
			}
			started[ev.SessionID] = true
		case journal.EventSessionCompleted, journal.EventSessionFailed, journal.EventSessionAborted,
			journal.EventLimitExceeded, journal.EventFutilityHalt:
			terminal[ev.SessionID] = true
		}
	}

	var recoverable []string
	for _, id := range order {
		if !terminal[id] {
			recoverable = append(recoverable, id)
		}
	}
	return recoverable, nil
}
