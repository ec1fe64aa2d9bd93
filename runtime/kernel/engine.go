package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/monitor"
	"github.com/agentmesh/core/runtime/telemetry"
	"github.com/agentmesh/core/runtime/tool"
)

// ErrTooManySessions is returned by CreateSession when the concurrency cap
// is already saturated.
var ErrTooManySessions = errors.New("kernel: too many concurrent sessions")

// ToolExecutor is the narrow surface the Kernel needs from the Tool
// Runtime.
type ToolExecutor interface {
	Execute(ctx context.Context, inv tool.Invoke) (tool.Result, error)
}

// Options configures an Engine.
type Options struct {
	Planner               Planner
	Tools                 ToolExecutor
	Journal               journal.Journal
	Logger                telemetry.Logger
	MaxConcurrentSessions int
	Futility              monitor.FutilityConfig
	ContextBudget         monitor.ContextBudgetConfig
	DefaultConcurrencyCap int // per-session step concurrency, default 1
}

// Engine runs the plan/execute/replan loop for every session it is asked
// to drive.
type Engine struct {
	planner Planner
	tools   ToolExecutor
	journal journal.Journal
	logger  telemetry.Logger

	maxConcurrentSessions int
	stepConcurrencyCap    int
	futilityCfg           monitor.FutilityConfig
	budgetCfg             monitor.ContextBudgetConfig

	mu       sync.Mutex
	sessions map[string]*Session
	running  map[string]bool // session_id -> currently in running|planning|awaiting_approval
	abortSig map[string]chan struct{}
}

// New constructs an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	cap := opts.DefaultConcurrencyCap
	if cap <= 0 {
		cap = 1
	}
	return &Engine{
		planner:               opts.Planner,
		tools:                 opts.Tools,
		journal:               opts.Journal,
		logger:                logger,
		maxConcurrentSessions: opts.MaxConcurrentSessions,
		stepConcurrencyCap:    cap,
		futilityCfg:           opts.Futility,
		budgetCfg:             opts.ContextBudget,
		sessions:              make(map[string]*Session),
		running:               make(map[string]bool),
		abortSig:              make(map[string]chan struct{}),
	}
}

// CreateSession admits a new session if under the concurrency cap, emits
// session.created, and returns it in status "created".
func (e *Engine) CreateSession(ctx context.Context, task string, mode Mode, limits Limits, policy Policy) (*Session, error) {
	e.mu.Lock()
	if e.maxConcurrentSessions > 0 && len(e.running) >= e.maxConcurrentSessions {
		e.mu.Unlock()
		return nil, ErrTooManySessions
	}
	sess := &Session{
		SessionID: uuid.NewString(),
		Task:      task,
		Status:    StatusCreated,
		Mode:      mode,
		Limits:    limits,
		Policy:    policy,
		CreatedAt: time.Now().UTC(),
	}
	e.sessions[sess.SessionID] = sess
	e.running[sess.SessionID] = true
	e.abortSig[sess.SessionID] = make(chan struct{})
	e.mu.Unlock()

	e.emit(ctx, sess.SessionID, journal.EventSessionCreated, map[string]any{"task": task, "mode": string(mode)})
	return sess, nil
}

// Get returns the in-memory Session by id.
func (e *Engine) Get(sessionID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// Abort requests that sessionID stop before its next step; it is
// idempotent.
func (e *Engine) Abort(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[sessionID]
	if !ok || isTerminal(sess.Status) {
		return
	}
	sig, ok := e.abortSig[sessionID]
	if !ok {
		return
	}
	select {
	case <-sig:
		// already signaled
	default:
		close(sig)
	}
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

func (e *Engine) abortRequested(sessionID string) bool {
	e.mu.Lock()
	sig := e.abortSig[sessionID]
	e.mu.Unlock()
	if sig == nil {
		return false
	}
	select {
	case <-sig:
		return true
	default:
		return false
	}
}

func (e *Engine) finish(sessionID string, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, sessionID)
	if sess, ok := e.sessions[sessionID]; ok {
		sess.Status = status
	}
}

// Run drives sess through plan/execute/replan iterations until it reaches
// a terminal state. It blocks until the session completes, fails, or is
// aborted.
func (e *Engine) Run(ctx context.Context, sess *Session) error {
	sess.Status = StatusPlanning
	e.emit(ctx, sess.SessionID, journal.EventSessionStarted, nil)

	futility := monitor.NewFutilityMonitor(e.futilityCfg)
	budget := monitor.NewContextBudgetMonitor(e.budgetCfg)
	start := time.Now()

	for {
		if e.abortRequested(sess.SessionID) {
			sess.Status = StatusAborted
			e.emit(ctx, sess.SessionID, journal.EventSessionAborted, nil)
			e.finish(sess.SessionID, StatusAborted)
			return nil
		}

		plan, err := e.planAndAccept(ctx, sess)
		if err != nil {
			sess.Status = StatusFailed
			e.emit(ctx, sess.SessionID, journal.EventSessionFailed, map[string]any{"reason": err.Error()})
			e.finish(sess.SessionID, StatusFailed)
			return err
		}

		sess.Status = StatusRunning
		iterOutcome, err := e.runIteration(ctx, sess, plan)
		if err != nil {
			sess.Status = StatusFailed
			e.emit(ctx, sess.SessionID, journal.EventSessionFailed, map[string]any{"reason": err.Error()})
			e.finish(sess.SessionID, StatusFailed)
			return err
		}
		if e.abortRequested(sess.SessionID) {
			continue // the check at the top of the loop ends the session as aborted
		}

		if limitReason := e.checkLimits(sess, start); limitReason != "" {
			e.emit(ctx, sess.SessionID, journal.EventLimitExceeded, map[string]any{"reason": limitReason})
			sess.Status = StatusFailed
			e.finish(sess.SessionID, StatusFailed)
			return nil
		}

		switch iterOutcome {
		case outcomeAbortPlan:
			sess.Status = StatusFailed
			e.emit(ctx, sess.SessionID, journal.EventSessionFailed, map[string]any{"reason": "step failure_policy=abort"})
			e.finish(sess.SessionID, StatusFailed)
			return nil
		case outcomeReplan:
			sess.Status = StatusPlanning
		case outcomeDone:
			// fall through to monitor evaluation below before declaring done
		}

		fVerdict, fReason := futility.Evaluate(toFutilityIteration(sess, plan))
		if fVerdict == monitor.FutilityHalt {
			e.emit(ctx, sess.SessionID, journal.EventFutilityHalt, map[string]any{"reason": fReason})
			sess.Status = StatusFailed
			e.finish(sess.SessionID, StatusFailed)
			return nil
		}
		if fVerdict == monitor.FutilityWarn {
			e.emit(ctx, sess.SessionID, journal.EventFutilityWarn, map[string]any{"reason": fReason})
		}

		bVerdict := budget.Evaluate(toBudgetIteration(sess))
		if bVerdict == monitor.BudgetCheckpoint || bVerdict == monitor.BudgetSummarize {
			e.checkpoint(ctx, sess, plan)
		}

		if iterOutcome == outcomeDone {
			sess.Status = StatusCompleted
			e.emit(ctx, sess.SessionID, journal.EventSessionCompleted, nil)
			e.finish(sess.SessionID, StatusCompleted)
			return nil
		}
	}
}

func (e *Engine) planAndAccept(ctx context.Context, sess *Session) (Plan, error) {
	if e.planner == nil {
		return Plan{}, fmt.Errorf("kernel: no planner configured")
	}
	req := PlanRequest{
		Task: sess.Task,
		State: StateSnapshot{
			PriorSteps: sess.StepResults,
			Checkpoint: sess.LastCheckpoint,
		},
		Constraints: sess.Policy,
	}
	plan, err := e.planner.Plan(ctx, req)
	if err != nil {
		return Plan{}, fmt.Errorf("planner failed: %w", err)
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	e.emit(ctx, sess.SessionID, journal.EventPlanGenerated, map[string]any{"plan_id": plan.PlanID, "goal": plan.Goal})

	if len(plan.Steps) == 0 {
		e.emit(ctx, sess.SessionID, journal.EventPlanRejected, map[string]any{"plan_id": plan.PlanID, "reason": "empty steps"})
		return Plan{}, fmt.Errorf("plan %q has no steps", plan.PlanID)
	}

	sess.PlanHistory = append(sess.PlanHistory, plan)
	e.emit(ctx, sess.SessionID, journal.EventPlanAccepted, map[string]any{"plan_id": plan.PlanID})
	return plan, nil
}

type iterationOutcome int

const (
	outcomeDone iterationOutcome = iota
	outcomeReplan
	outcomeAbortPlan
)

// runIteration executes every step of plan in dependency order, honoring
// each step's failure_policy, and reports whether the session is done,
// should replan, or must abort.
func (e *Engine) runIteration(ctx context.Context, sess *Session, plan Plan) (iterationOutcome, error) {
	waves, err := topoOrder(plan.Steps)
	if err != nil {
		return outcomeAbortPlan, err
	}

	for _, wave := range waves {
		if e.abortRequested(sess.SessionID) {
			return outcomeDone, nil
		}
		results := e.executeWave(ctx, sess, wave)
		for i, step := range wave {
			result := results[i]
			sess.StepResults = append(sess.StepResults, result)
			sess.UsageSummary.Steps++

			if result.Status == StepSucceeded {
				continue
			}

			switch step.FailurePolicy {
			case FailureAbort:
				return outcomeAbortPlan, nil
			case FailureReplan:
				return outcomeReplan, nil
			case FailureContinue:
				continue
			default:
				return outcomeAbortPlan, nil
			}
		}
	}
	return outcomeDone, nil
}

// executeWave runs every step in a wave concurrently, bounded by the
// per-session concurrency cap, and returns results aligned to wave's order.
func (e *Engine) executeWave(ctx context.Context, sess *Session, wave []Step) []StepResult {
	results := make([]StepResult, len(wave))
	sem := make(chan struct{}, e.stepConcurrencyCap)
	var wg sync.WaitGroup

	for i, step := range wave {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, step Step) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeStep(ctx, sess, step)
		}(i, step)
	}
	wg.Wait()
	return results
}

func (e *Engine) executeStep(ctx context.Context, sess *Session, step Step) StepResult {
	start := time.Now().UTC()
	e.emit(ctx, sess.SessionID, journal.EventStepStarted, map[string]any{"step_id": step.StepID, "title": step.Title})

	input, err := resolveInputFrom(step, sess.StepResults)
	if err != nil {
		return e.failStep(ctx, sess, step, start, corerr.BadInput, err.Error())
	}

	if e.tools == nil {
		return e.failStep(ctx, sess, step, start, corerr.Unknown, "kernel: no tool runtime configured")
	}

	result, err := e.tools.Execute(ctx, tool.Invoke{
		SessionID:    sess.SessionID,
		StepID:       step.StepID,
		ToolName:     step.ToolRef.Name,
		VersionRange: step.ToolRef.VersionRange,
		Input:        input,
		Mode:         tool.Mode(sess.Mode),
		Policy: tool.Policy{
			AllowedPaths:          sess.Policy.AllowedPaths,
			AllowedEndpoints:      sess.Policy.AllowedEndpoints,
			AllowedCommands:       sess.Policy.AllowedCommands,
			RequireApprovalWrites: sess.Policy.RequireApprovalWrites,
		},
	})
	if err != nil {
		return e.failStep(ctx, sess, step, start, corerr.Unknown, err.Error())
	}
	if result.Error != nil {
		return e.failStep(ctx, sess, step, start, result.Error.Code, result.Error.Message)
	}

	sess.UsageSummary.CostUSD += result.CostUSD
	sess.UsageSummary.Tokens += result.Tokens
	sess.UsageSummary.DurationMS += result.DurationMS

	finished := time.Now().UTC()
	e.emit(ctx, sess.SessionID, journal.EventStepSucceeded, map[string]any{"step_id": step.StepID})
	return StepResult{
		StepID:     step.StepID,
		Status:     StepSucceeded,
		Output:     result.Output,
		StartedAt:  start,
		FinishedAt: finished,
		Attempts:   1,
	}
}

func (e *Engine) failStep(ctx context.Context, sess *Session, step Step, start time.Time, code corerr.Code, message string) StepResult {
	finished := time.Now().UTC()
	e.emit(ctx, sess.SessionID, journal.EventStepFailed, map[string]any{
		"step_id": step.StepID, "code": string(code), "message": message,
	})
	return StepResult{
		StepID:     step.StepID,
		Status:     StepFailed,
		Error:      &StepError{Code: string(code), Message: message},
		StartedAt:  start,
		FinishedAt: finished,
		Attempts:   1,
	}
}

// checkLimits enforces max_steps/max_duration_ms/max_cost_usd/max_tokens,
// returning a non-empty reason if sess has breached any of them.
func (e *Engine) checkLimits(sess *Session, start time.Time) string {
	l := sess.Limits
	if l.MaxSteps > 0 && sess.UsageSummary.Steps >= l.MaxSteps {
		return "max_steps exceeded"
	}
	if l.MaxDurationMS > 0 && time.Since(start).Milliseconds() >= l.MaxDurationMS {
		return "max_duration_ms exceeded"
	}
	if l.MaxCostUSD > 0 && sess.UsageSummary.CostUSD >= l.MaxCostUSD {
		return "max_cost_usd exceeded"
	}
	if l.MaxTokens > 0 && sess.UsageSummary.Tokens >= l.MaxTokens {
		return "max_tokens exceeded"
	}
	return ""
}

func (e *Engine) checkpoint(ctx context.Context, sess *Session, plan Plan) {
	var findings []string
	for _, r := range sess.StepResults {
		if r.Status == StepFailed && r.Error != nil {
			findings = append(findings, truncateFinding(r.Error.Message))
		}
	}
	done := make(map[string]bool, len(sess.StepResults))
	for _, r := range sess.StepResults {
		done[r.StepID] = true
	}
	var remaining []string
	for _, s := range plan.Steps {
		if !done[s.StepID] {
			remaining = append(remaining, s.Title)
		}
	}
	cp := Checkpoint{
		Findings:            findings,
		RemainingStepTitles: remaining,
		LastGoal:            plan.Goal,
		Usage:               sess.UsageSummary,
	}
	sess.LastCheckpoint = &cp
	e.emit(ctx, sess.SessionID, journal.EventSessionCheckpoint, map[string]any{
		"findings":              cp.Findings,
		"remaining_step_titles": cp.RemainingStepTitles,
		"last_goal":             cp.LastGoal,
	})
}

func toFutilityIteration(sess *Session, plan Plan) monitor.Iteration {
	var stepResults []monitor.IterationStepResult
	successes := 0
	for _, r := range sess.StepResults {
		sr := monitor.IterationStepResult{Succeeded: r.Status == StepSucceeded}
		if !sr.Succeeded && r.Error != nil {
			sr.Error = r.Error.Message
		}
		if sr.Succeeded {
			successes++
		}
		stepResults = append(stepResults, sr)
	}
	return monitor.Iteration{
		PlanGoal:    plan.Goal,
		StepResults: stepResults,
		IterationUsage: &monitor.Usage{
			TokensUsed: sess.UsageSummary.Tokens,
		},
		CumulativeUsage: &monitor.Usage{
			CostUSD:             sess.UsageSummary.CostUSD,
			CumulativeSuccesses: successes,
		},
		MaxCostUSD: sess.Limits.MaxCostUSD,
	}
}

func toBudgetIteration(sess *Session) monitor.BudgetIteration {
	return monitor.BudgetIteration{
		CumulativeTokens: sess.UsageSummary.Tokens,
		MaxTokens:        sess.Limits.MaxTokens,
		TokensThisIter:   sess.UsageSummary.Tokens,
	}
}

func (e *Engine) emit(ctx context.Context, sessionID string, typ journal.EventType, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := e.journal.Emit(ctx, sessionID, typ, payload); err != nil {
		e.logger.Error(ctx, "kernel: journal emit failed", "session_id", sessionID, "error", err.Error())
	}
}
