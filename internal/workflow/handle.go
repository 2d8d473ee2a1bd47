package workflow

import (
	"context"
	"sync"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

// Handle lets a caller track or cancel a started run (grounded on the
// done-channel/result pattern the in-memory engine reference uses for
// its workflow handles).
type Handle struct {
	runID domain.RunID

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	done       chan struct{}
	resolution *domain.Resolution
	errorKind  string
}

func newHandle(runID domain.RunID) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{runID: runID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// RunID returns the run id this handle tracks.
func (h *Handle) RunID() domain.RunID { return h.runID }

// Cancel requests cancellation (spec.md §4.6): the run transitions to
// ABORTED at the next state boundary rather than mid-stage.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the run reaches a terminal state, returning the
// persisted Resolution on success or an empty string/non-empty errorKind
// on failure/abort.
func (h *Handle) Wait(ctx context.Context) (*domain.Resolution, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.resolution, h.errorKind, nil
	}
}

func (h *Handle) succeed(resolution *domain.Resolution) {
	h.mu.Lock()
	h.resolution = resolution
	h.mu.Unlock()
}

func (h *Handle) fail(errorKind string) {
	h.mu.Lock()
	h.errorKind = errorKind
	h.mu.Unlock()
}

func (h *Handle) finish() {
	close(h.done)
}
