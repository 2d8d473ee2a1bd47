// Package workflow implements the Workflow Engine (C6): the bounded-retry
// state machine that drives trigger detection, query formulation,
// parallel source search, resolution generation, and evaluation,
// enforcing per-conversation single-flight, write-through persistence,
// and progress event emission.
package workflow

import (
	"context"
	"time"

	"github.com/repassist-ai/orchestrator/internal/config"
	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/query"
	"github.com/repassist-ai/orchestrator/internal/resolution"
	"github.com/repassist-ai/orchestrator/internal/source"
	"github.com/repassist-ai/orchestrator/internal/store"
	"github.com/repassist-ai/orchestrator/internal/stream"
	"github.com/repassist-ai/orchestrator/internal/workflow/singleflight"
)

type (
	// QueryFormulator abstracts C2 so the engine can be tested against a
	// fake; satisfied by *query.Formulator.
	QueryFormulator interface {
		Formulate(ctx context.Context, history []domain.Message, prior []query.PriorAttempt) (*query.Result, error)
	}

	// SourceSearcher abstracts C3 so the engine can be tested against a
	// fake; satisfied by *source.FanOut.
	SourceSearcher interface {
		Search(ctx context.Context, query string, k int, deadline time.Duration) *source.Result
	}

	// ResolutionGenerator abstracts C4 so the engine can be tested against
	// a fake; satisfied by *resolution.Generator.
	ResolutionGenerator interface {
		Generate(ctx context.Context, query string, sources []domain.SourceResult, priorFeedback []string) (*resolution.Result, error)
	}

	// Evaluator abstracts C5 so the engine can be tested against a fake;
	// satisfied by *evaluator.Evaluator.
	Evaluator interface {
		Evaluate(ctx context.Context, query, resolutionText string, sources []domain.SourceResult, citationCount int) (*domain.EvaluationVerdict, error)
	}
)

// Engine wires C1-C5 behind the state machine described in spec.md §4.6.
// It holds no per-run state itself: each Trigger call spawns an
// independent run tracked by its own *Handle.
type Engine struct {
	cfg *config.Config

	query    QueryFormulator
	search   SourceSearcher
	generate ResolutionGenerator
	evaluate Evaluator

	store    store.Store
	sink     stream.Sink
	guard    *singleflight.Registry
	observer Observer
}

// Dependencies bundles everything the engine needs beyond configuration.
type Dependencies struct {
	Query    QueryFormulator
	Search   SourceSearcher
	Generate ResolutionGenerator
	Evaluate Evaluator
	Store    store.Store
	Sink     stream.Sink
	Observer Observer // optional; defaults to NoopObserver
}

// New builds an Engine. A fresh singleflight.Registry is created per
// Engine; callers running multiple process instances against the same
// conversations should instead wire a distributed guard (see
// workflow/singleflight/redislock) at the HTTP-handler layer in front of
// Trigger, since the Engine itself only exposes the in-process guard.
func New(cfg *config.Config, deps Dependencies) *Engine {
	observer := deps.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Engine{
		cfg:      cfg,
		query:    deps.Query,
		search:   deps.Search,
		generate: deps.Generate,
		evaluate: deps.Evaluate,
		store:    deps.Store,
		sink:     deps.Sink,
		guard:    singleflight.New(),
		observer: observer,
	}
}
