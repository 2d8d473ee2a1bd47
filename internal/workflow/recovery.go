package workflow

import (
	"context"
	"fmt"
)

// Recover runs the crash-recovery sweep (spec.md §4.6): on startup,
// before the engine accepts new triggers, every WorkflowRun left without
// a terminal record is marked aborted. It returns the number of runs
// recovered.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	aborted, err := e.store.MarkAbandonedRunsAborted(ctx)
	if err != nil {
		return 0, fmt.Errorf("workflow: crash recovery sweep: %w", err)
	}
	return len(aborted), nil
}
