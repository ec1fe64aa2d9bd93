package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/core/runtime/monitor"
)

func TestContextBudgetDisabledWhenMaxTokensNonPositive(t *testing.T) {
	m := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	verdict := m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 1000, MaxTokens: 0})
	assert.Equal(t, monitor.BudgetContinue, verdict)
}

func TestContextBudgetNoVerdictBeforeMinIterations(t *testing.T) {
	m := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	verdict := m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 950, MaxTokens: 1000})
	assert.Equal(t, monitor.BudgetContinue, verdict)
}

func TestContextBudgetSummarizesPastThreshold(t *testing.T) {
	m := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 100, MaxTokens: 1000})
	verdict := m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 950, MaxTokens: 1000})
	assert.Equal(t, monitor.BudgetSummarize, verdict)
}

func TestContextBudgetCheckpointsBelowSummarize(t *testing.T) {
	m := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 100, MaxTokens: 1000})
	verdict := m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 860, MaxTokens: 1000})
	assert.Equal(t, monitor.BudgetCheckpoint, verdict)
}

func TestContextBudgetDelegateRequiresHighBurnTool(t *testing.T) {
	m := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 100, MaxTokens: 1000})
	verdictNoTool := m.Evaluate(monitor.BudgetIteration{CumulativeTokens: 720, MaxTokens: 1000})
	assert.Equal(t, monitor.BudgetContinue, verdictNoTool)

	m2 := monitor.NewContextBudgetMonitor(monitor.ContextBudgetConfig{})
	m2.Evaluate(monitor.BudgetIteration{CumulativeTokens: 100, MaxTokens: 1000})
	verdictWithTool := m2.Evaluate(monitor.BudgetIteration{
		CumulativeTokens: 720, MaxTokens: 1000, ToolsUsed: []string{"browser"},
	})
	assert.Equal(t, monitor.BudgetDelegate, verdictWithTool)
}
