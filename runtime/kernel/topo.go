package kernel

import "fmt"

// topoOrder returns steps grouped into waves: steps in the same wave have
// no dependency on each other and may run concurrently; wave N+1 steps all
// depend (directly or transitively) on at least one step in wave <= N.
func topoOrder(steps []Step) ([][]Step, error) {
	byID := make(map[string]Step, len(steps))
	remaining := make(map[string][]string, len(steps)) // step_id -> pending deps
	for _, s := range steps {
		byID[s.StepID] = s
		remaining[s.StepID] = append([]string(nil), s.DependsOn...)
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("kernel: step %q depends_on unknown step %q", s.StepID, dep)
			}
		}
	}

	done := make(map[string]bool, len(steps))
	var waves [][]Step

	for len(done) < len(steps) {
		var wave []Step
		for _, s := range steps {
			if done[s.StepID] {
				continue
			}
			ready := true
			for _, dep := range remaining[s.StepID] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("kernel: depends_on graph has a cycle or missing dependency")
		}
		for _, s := range wave {
			done[s.StepID] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
