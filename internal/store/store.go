// Package store defines the persistence port (spec.md §6): idempotent
// save operations for workflow runs, attempts, and resolutions, plus
// conversation lookup and the crash-recovery sweep. Concrete
// implementations live in store/memory and store/mongo.
package store

import (
	"context"
	"errors"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

// ErrNotFound is returned by LoadConversation when no conversation with
// the given id exists.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence port the Workflow Engine depends on. All
// Save* methods are idempotent by primary key: SaveRun and SaveAttempt
// may be called repeatedly for the same (conversation, run) or
// (run, attempt index) as the run progresses.
type Store interface {
	SaveRun(ctx context.Context, run *domain.WorkflowRun) error
	SaveAttempt(ctx context.Context, attempt *domain.RunAttempt) error
	SaveResolution(ctx context.Context, resolution *domain.Resolution) error
	LoadConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	SaveConversation(ctx context.Context, conversation *domain.Conversation) error

	// MarkAbandonedRunsAborted transitions every WorkflowRun left without a
	// terminal state (e.g. after a process crash) to RunAborted with error
	// kind "persistence_error", and returns the affected run ids. Called at
	// startup before the engine accepts new triggers.
	MarkAbandonedRunsAborted(ctx context.Context) ([]domain.RunID, error)
}
