package workflow

import "context"

// Observer is the pluggable middleware pair around every stage
// invocation (spec.md §9 "decorator-style observability hooks ->
// explicit middleware interface"), so tracing/metrics backends are
// swappable without coupling to the engine.
type Observer interface {
	StageStarted(ctx context.Context, runID, stage string)
	StageFinished(ctx context.Context, runID, stage, outcome string, err error)
}

// NoopObserver discards every call; the default when no Observer is
// supplied.
type NoopObserver struct{}

func (NoopObserver) StageStarted(context.Context, string, string)             {}
func (NoopObserver) StageFinished(context.Context, string, string, string, error) {}
