// Command demo wires up a Kernel, Tool Runtime, Permission Engine, and
// file-backed Journal and runs one session end to end in mock mode.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentmesh/core/runtime/journal"
	"github.com/agentmesh/core/runtime/kernel"
	"github.com/agentmesh/core/runtime/monitor"
	"github.com/agentmesh/core/runtime/permission"
	"github.com/agentmesh/core/runtime/telemetry"
	"github.com/agentmesh/core/runtime/tool"
)

// echoPlanner returns a single-step plan that echoes the task text back
// through the "echo" tool, then a final empty plan once that step has run.
type echoPlanner struct{}

func (echoPlanner) Plan(ctx context.Context, req kernel.PlanRequest) (kernel.Plan, error) {
	if len(req.State.PriorSteps) > 0 {
		return kernel.Plan{PlanID: "plan-final", Goal: req.Task, Steps: nil}, nil
	}
	return kernel.Plan{
		PlanID: "plan-1",
		Goal:   req.Task,
		Steps: []kernel.Step{
			{
				StepID:          "echo-1",
				Title:           "echo the task text",
				ToolRef:         kernel.ToolRef{Name: "echo"},
				Input:           map[string]any{"text": req.Task},
				SuccessCriteria: []string{"tool returned output"},
				FailurePolicy:   kernel.FailureAbort,
				TimeoutMS:       5000,
				MaxRetries:      0,
			},
		},
	}, nil
}

func main() {
	ctx := context.Background()
	logger := telemetry.NewClueLogger()

	journalPath := filepath.Join(os.TempDir(), "agentmesh-demo-journal.jsonl")
	fileJournal := journal.NewFileJournal(journal.Options{Path: journalPath, Logger: logger})
	if err := fileJournal.Init(ctx); err != nil {
		panic(err)
	}
	defer fileJournal.Close()

	registry := tool.NewMemRegistry()
	if err := registry.Register(tool.Manifest{
		Name:      "echo",
		Version:   "1.0.0",
		Runner:    tool.RunnerInternal,
		TimeoutMS: 5000,
		Supports:  tool.Supports{Mock: true},
	}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}); err != nil {
		panic(err)
	}

	permEngine := permission.New(permission.Options{Journal: fileJournal, Logger: logger})

	toolRuntime := tool.New(tool.Options{
		Registry:   registry,
		Permission: permEngine,
		Journal:    fileJournal,
		Logger:     logger,
	})

	engine := kernel.New(kernel.Options{
		Planner:               echoPlanner{},
		Tools:                 toolRuntime,
		Journal:               fileJournal,
		Logger:                logger,
		MaxConcurrentSessions: 4,
		Futility:              monitor.DefaultFutilityConfig(),
		ContextBudget:         monitor.DefaultContextBudgetConfig(),
		DefaultConcurrencyCap: 1,
	})

	sess, err := engine.CreateSession(ctx, "say hi", kernel.ModeMock, kernel.Limits{MaxSteps: 10}, kernel.Policy{})
	if err != nil {
		panic(err)
	}

	if err := engine.Run(ctx, sess); err != nil {
		panic(err)
	}

	fmt.Println("session:", sess.SessionID)
	fmt.Println("status:", sess.Status)
	for _, sr := range sess.StepResults {
		fmt.Printf("step %s: %s output=%v\n", sr.StepID, sr.Status, sr.Output)
	}
}
