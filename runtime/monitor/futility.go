// Package monitor implements the Futility Monitor and Context-Budget
// Monitor: per-session heuristics that watch iteration-by-iteration
// progress and recommend when the Kernel should warn, halt, checkpoint,
// summarize, or delegate.
package monitor

import (
	"strconv"
	"strings"
)

// FutilityVerdict is the closed outcome of one Futility Monitor evaluation.
type FutilityVerdict string

const (
	FutilityContinue FutilityVerdict = "continue"
	FutilityWarn     FutilityVerdict = "warn"
	FutilityHalt     FutilityVerdict = "halt"
)

// Iteration is the per-iteration input the Kernel reports to the Futility
// Monitor after each planning/execution cycle.
type Iteration struct {
	PlanGoal         string
	StepResults      []IterationStepResult
	IterationUsage   *Usage
	CumulativeUsage  *Usage
	MaxCostUSD       float64
}

// IterationStepResult is the minimal per-step signal the Futility Monitor
// needs: whether it succeeded and, if not, its dominant error message.
type IterationStepResult struct {
	Succeeded bool
	Error     string
}

// Usage is cost/token usage for one iteration or cumulatively.
type Usage struct {
	TokensUsed          int64
	CostUSD             float64
	CumulativeSuccesses int
}

// FutilityConfig holds the Futility Monitor's configurable thresholds, all
// defaulted per the runtime's design if left zero.
type FutilityConfig struct {
	MaxRepeatedErrors      int
	MaxStagnantIterations  int
	MaxIdenticalPlans      int
	MaxCostWithoutProgress int
	BudgetBurnThreshold    float64
}

// DefaultFutilityConfig returns the documented defaults.
func DefaultFutilityConfig() FutilityConfig {
	return FutilityConfig{
		MaxRepeatedErrors:      3,
		MaxStagnantIterations:  4,
		MaxIdenticalPlans:      2,
		MaxCostWithoutProgress: 3,
		BudgetBurnThreshold:    0.8,
	}
}

func (c FutilityConfig) withDefaults() FutilityConfig {
	d := DefaultFutilityConfig()
	if c.MaxRepeatedErrors <= 0 {
		c.MaxRepeatedErrors = d.MaxRepeatedErrors
	}
	if c.MaxStagnantIterations <= 0 {
		c.MaxStagnantIterations = d.MaxStagnantIterations
	}
	if c.MaxIdenticalPlans <= 0 {
		c.MaxIdenticalPlans = d.MaxIdenticalPlans
	}
	if c.MaxCostWithoutProgress <= 0 {
		c.MaxCostWithoutProgress = d.MaxCostWithoutProgress
	}
	if c.BudgetBurnThreshold <= 0 {
		c.BudgetBurnThreshold = d.BudgetBurnThreshold
	}
	return c
}

// record is what the FutilityMonitor retains per iteration in its bounded
// history.
type record struct {
	goal             string
	dominantError    string
	successCount     int
	cumulativeSucc   int
	tokensUsed       int64
	successRatio     float64
}

const maxHistory = 100

// FutilityMonitor tracks a single session's iteration history and decides
// whether the session is making progress.
type FutilityMonitor struct {
	cfg     FutilityConfig
	history []record
}

// NewFutilityMonitor constructs a monitor; zero-valued fields in cfg take
// their documented defaults.
func NewFutilityMonitor(cfg FutilityConfig) *FutilityMonitor {
	return &FutilityMonitor{cfg: cfg.withDefaults()}
}

// Evaluate records it and returns the verdict, evaluating the five halt
// rules in order; the first rule that fires wins. A rule firing anywhere
// below "continue" also returns a human-readable reason.
func (m *FutilityMonitor) Evaluate(it Iteration) (FutilityVerdict, string) {
	rec := m.toRecord(it)
	m.history = append(m.history, rec)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	if verdict, reason := m.ruleRepeatedErrors(); verdict != FutilityContinue {
		return verdict, reason
	}
	if verdict, reason := m.ruleStagnantSuccesses(); verdict != FutilityContinue {
		return verdict, reason
	}
	if verdict, reason := m.ruleIdenticalPlans(); verdict != FutilityContinue {
		return verdict, reason
	}
	if verdict, reason := m.ruleCostWithoutProgress(); verdict != FutilityContinue {
		return verdict, reason
	}
	if verdict, reason := m.ruleBudgetBurn(it); verdict != FutilityContinue {
		return verdict, reason
	}
	return FutilityContinue, ""
}

func (m *FutilityMonitor) toRecord(it Iteration) record {
	successes := 0
	var dominant string
	errCounts := map[string]int{}
	for _, sr := range it.StepResults {
		if sr.Succeeded {
			successes++
			continue
		}
		key := normalizeError(sr.Error)
		errCounts[key]++
		if dominant == "" || errCounts[key] > errCounts[dominant] {
			dominant = key
		}
	}
	cumulative := 0
	if it.CumulativeUsage != nil {
		cumulative = it.CumulativeUsage.CumulativeSuccesses
	}
	var tokens int64
	if it.IterationUsage != nil {
		tokens = it.IterationUsage.TokensUsed
	}
	ratio := 0.0
	if len(it.StepResults) > 0 {
		ratio = float64(successes) / float64(len(it.StepResults))
	}
	return record{
		goal:           it.PlanGoal,
		dominantError:  dominant,
		successCount:   successes,
		cumulativeSucc: cumulative,
		tokensUsed:     tokens,
		successRatio:   ratio,
	}
}

func normalizeError(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// rule 1: same dominant error repeated >= MaxRepeatedErrors consecutive
// iterations.
func (m *FutilityMonitor) ruleRepeatedErrors() (FutilityVerdict, string) {
	n := m.cfg.MaxRepeatedErrors
	if len(m.history) < n {
		return FutilityContinue, ""
	}
	tail := m.history[len(m.history)-n:]
	first := tail[0].dominantError
	if first == "" {
		return FutilityContinue, ""
	}
	for _, r := range tail {
		if r.dominantError != first {
			return FutilityContinue, ""
		}
	}
	return FutilityHalt, "Same error repeated " + strconv.Itoa(n) + " consecutive iterations: " + first
}

// rule 2: successful-step count non-increasing across a window of
// MaxStagnantIterations+1 iterations.
func (m *FutilityMonitor) ruleStagnantSuccesses() (FutilityVerdict, string) {
	window := m.cfg.MaxStagnantIterations + 1
	if len(m.history) < window {
		return FutilityContinue, ""
	}
	tail := m.history[len(m.history)-window:]
	for i := 1; i < len(tail); i++ {
		if tail[i].cumulativeSucc > tail[i-1].cumulativeSucc {
			return FutilityContinue, ""
		}
	}
	return FutilityHalt, "successful-step count has not increased across the last " + strconv.Itoa(window) + " iterations"
}

// rule 3: same plan_goal repeated >= MaxIdenticalPlans consecutive
// iterations.
func (m *FutilityMonitor) ruleIdenticalPlans() (FutilityVerdict, string) {
	n := m.cfg.MaxIdenticalPlans
	if len(m.history) < n {
		return FutilityContinue, ""
	}
	tail := m.history[len(m.history)-n:]
	first := tail[0].goal
	for _, r := range tail {
		if r.goal != first {
			return FutilityContinue, ""
		}
	}
	return FutilityHalt, "identical plan goal repeated " + strconv.Itoa(n) + " consecutive iterations"
}

// rule 4: >= MaxCostWithoutProgress consecutive iterations with positive
// token usage and no increase in cumulative successes.
func (m *FutilityMonitor) ruleCostWithoutProgress() (FutilityVerdict, string) {
	n := m.cfg.MaxCostWithoutProgress
	if len(m.history) < n+1 {
		return FutilityContinue, ""
	}
	tail := m.history[len(m.history)-(n+1):]
	for i := 1; i < len(tail); i++ {
		if tail[i].tokensUsed <= 0 || tail[i].cumulativeSucc > tail[i-1].cumulativeSucc {
			return FutilityContinue, ""
		}
	}
	return FutilityHalt, strconv.Itoa(n) + " consecutive iterations burned tokens with no new successes"
}

// rule 5: cumulative cost / max_cost_usd >= BudgetBurnThreshold and this
// iteration's success ratio < 0.5.
func (m *FutilityMonitor) ruleBudgetBurn(it Iteration) (FutilityVerdict, string) {
	if it.MaxCostUSD <= 0 || it.CumulativeUsage == nil {
		return FutilityContinue, ""
	}
	latest := m.history[len(m.history)-1]
	if it.CumulativeUsage.CostUSD/it.MaxCostUSD >= m.cfg.BudgetBurnThreshold && latest.successRatio < 0.5 {
		return FutilityHalt, "budget burn threshold reached with low success ratio this iteration"
	}
	return FutilityContinue, ""
}

