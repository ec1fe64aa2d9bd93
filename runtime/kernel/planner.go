package kernel

import "context"

// StateSnapshot is what the Kernel hands the Planner alongside the task: a
// compact view of progress so far.
type StateSnapshot struct {
	PriorSteps []StepResult
	Checkpoint *Checkpoint
}

// PlanRequest is everything a Planner needs to produce the next Plan.
type PlanRequest struct {
	Task          string
	ToolSchemas   map[string]map[string]any // tool name -> input schema
	State         StateSnapshot
	Constraints   Policy
}

// Planner is the external collaborator that turns a task (and current
// state) into a Plan. Planner implementations are never part of this
// module; the Kernel only consumes this interface.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (Plan, error)
}
