// Package telemetry defines the Logger/Metrics/Tracer abstractions used
// throughout the orchestrator, plus no-op, Clue/OpenTelemetry-backed, and
// Prometheus-backed implementations. The interfaces are intentionally
// small so tests can provide lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging used throughout the runtime.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter, timer, and gauge helpers for runtime
	// instrumentation.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so runtime code stays agnostic of the
	// underlying tracing provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span represents an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Observer is the decorator-style hook pair wrapping every stage
	// invocation (trigger, query, search, generation, evaluation) so
	// tracing/metrics backends are swappable without coupling to the
	// workflow core.
	Observer interface {
		// StageStart is called before a stage runs.
		StageStart(ctx context.Context, stage string, labels map[string]string)
		// StageFinish is called after a stage completes, successfully or not.
		StageFinish(ctx context.Context, stage string, dur time.Duration, err error)
	}
)

// NoopObserver discards all start/finish notifications.
type NoopObserver struct{}

func (NoopObserver) StageStart(context.Context, string, map[string]string)    {}
func (NoopObserver) StageFinish(context.Context, string, time.Duration, error) {}

// ObserverFunc adapts a pair of start/finish closures into an Observer.
type ObserverFunc struct {
	Start  func(ctx context.Context, stage string, labels map[string]string)
	Finish func(ctx context.Context, stage string, dur time.Duration, err error)
}

func (f ObserverFunc) StageStart(ctx context.Context, stage string, labels map[string]string) {
	if f.Start != nil {
		f.Start(ctx, stage, labels)
	}
}

func (f ObserverFunc) StageFinish(ctx context.Context, stage string, dur time.Duration, err error) {
	if f.Finish != nil {
		f.Finish(ctx, stage, dur, err)
	}
}
