package pipeline

import (
	"fmt"
	"os"
)

// ResetFromStep deletes the artifacts for step and everything after it in
// pipeline order, resets those step statuses to pending, and parks the run
// at awaiting_step so the next invocation re-executes from step.
func (s *Store) ResetFromStep(status *RunStatus, step Step) error {
	if stepIndex(step) < 0 {
		return fmt.Errorf("unknown step %q", step)
	}

	paths := NewPaths(s.dataDir, status.RunID)
	affected := From(step)
	for _, target := range affected {
		for _, path := range paths.CleanupTargets(target) {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
	}

	return s.Update(status, func(st *RunStatus) {
		st.Stage = StageAwaitingStep
		st.WaitingStep = step
		for _, target := range affected {
			st.Steps[target] = &StepStatus{State: StepPending}
		}
	})
}
