// Package breaker wraps a source.Adapter with a per-adapter circuit
// breaker so a consistently failing source short-circuits to an immediate
// error instead of waiting out the full per-source deadline on every call.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/source"
)

// Adapter wraps a source.Adapter with a gobreaker.CircuitBreaker keyed by
// the adapter's tag.
type Adapter struct {
	inner source.Adapter
	cb    *gobreaker.CircuitBreaker
}

// Wrap constructs a circuit-breaking Adapter around inner. onStateChange
// may be nil; when non-nil it is invoked whenever the breaker trips or
// recovers, for telemetry.
func Wrap(inner source.Adapter, onStateChange func(name string, from, to gobreaker.State)) *Adapter {
	settings := gobreaker.Settings{
		Name:        inner.Tag(),
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = onStateChange
	}
	return &Adapter{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Tag returns the wrapped adapter's tag unchanged.
func (a *Adapter) Tag() string { return a.inner.Tag() }

// Search proxies to the wrapped adapter through the circuit breaker. When
// the breaker is open, gobreaker.ErrOpenState surfaces as a plain error;
// source.FanOut's classify treats any non-timeout error as "unavailable".
func (a *Adapter) Search(ctx context.Context, query string, k int) ([]domain.SourceResult, error) {
	out, err := a.cb.Execute(func() (interface{}, error) {
		return a.inner.Search(ctx, query, k)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.SourceResult), nil
}
