// Package memory implements store.Store in-process with RWMutex-guarded
// maps. Suitable for tests and single-process deployments; state does
// not survive a restart, so MarkAbandonedRunsAborted only sees runs
// saved earlier in the same process.
package memory

import (
	"context"
	"sync"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/store"
)

type attemptKey struct {
	runID        domain.RunID
	attemptIndex int
}

// Store is an in-memory store.Store.
type Store struct {
	mu            sync.RWMutex
	runs          map[domain.RunID]*domain.WorkflowRun
	attempts      map[attemptKey]*domain.RunAttempt
	resolutions   map[domain.RunID]*domain.Resolution
	conversations map[domain.ConversationID]*domain.Conversation
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		runs:          make(map[domain.RunID]*domain.WorkflowRun),
		attempts:      make(map[attemptKey]*domain.RunAttempt),
		resolutions:   make(map[domain.RunID]*domain.Resolution),
		conversations: make(map[domain.ConversationID]*domain.Conversation),
	}
}

func (s *Store) SaveRun(ctx context.Context, run *domain.WorkflowRun) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *Store) SaveAttempt(ctx context.Context, attempt *domain.RunAttempt) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *attempt
	s.attempts[attemptKey{attempt.RunID, attempt.AttemptIndex}] = &cp
	return nil
}

func (s *Store) SaveResolution(ctx context.Context, resolution *domain.Resolution) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *resolution
	s.resolutions[resolution.RunID] = &cp
	return nil
}

func (s *Store) SaveConversation(ctx context.Context, conversation *domain.Conversation) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *conversation
	s.conversations[conversation.ID] = &cp
	return nil
}

func (s *Store) LoadConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// MarkAbandonedRunsAborted transitions every non-terminal run to
// RunAborted. In a single process this only matters if the engine is
// restarted without the map being rebuilt (e.g. tests simulating a
// crash-recovery sweep against a store that outlives the engine).
func (s *Store) MarkAbandonedRunsAborted(ctx context.Context) ([]domain.RunID, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var aborted []domain.RunID
	for id, run := range s.runs {
		if run.Terminal != "" {
			continue
		}
		run.Terminal = domain.RunAborted
		run.ErrorKind = "persistence_error"
		aborted = append(aborted, id)
	}
	return aborted, nil
}
