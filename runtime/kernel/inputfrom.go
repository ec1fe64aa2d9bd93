package kernel

import (
	"fmt"
	"strings"
)

// resolveInputFrom builds the effective input for a step by starting from
// step.Input and overlaying every input_from reference, each resolved
// against the prior StepResult outputs already recorded on the session. A
// reference to a step that did not succeed, or to a missing field, fails
// with BAD_INPUT (surfaced by the caller as a StepError).
func resolveInputFrom(step Step, results []StepResult) (map[string]any, error) {
	input := make(map[string]any, len(step.Input)+len(step.InputFrom))
	for k, v := range step.Input {
		input[k] = v
	}

	byID := make(map[string]StepResult, len(results))
	for _, r := range results {
		byID[r.StepID] = r
	}

	for field, ref := range step.InputFrom {
		stepID, path, err := splitRef(ref)
		if err != nil {
			return nil, err
		}
		source, ok := byID[stepID]
		if !ok {
			return nil, fmt.Errorf("kernel: input_from %q references unknown step %q", ref, stepID)
		}
		if source.Status != StepSucceeded {
			return nil, fmt.Errorf("kernel: input_from %q references step %q which did not succeed", ref, stepID)
		}
		val, ok := lookupPath(source.Output, path)
		if !ok {
			return nil, fmt.Errorf("kernel: input_from %q: field path %q not found in step %q output", ref, path, stepID)
		}
		input[field] = val
	}

	return input, nil
}

func splitRef(ref string) (stepID, path string, err error) {
	idx := strings.Index(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("kernel: malformed input_from reference %q, expected \"<step_id>.<field>\"", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

// lookupPath resolves a dotted path (e.g. "result.items.0" is NOT supported
// for array indices; only nested object fields) against a decoded JSON-like
// map.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
