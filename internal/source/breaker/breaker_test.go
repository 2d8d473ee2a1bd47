package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

type stubAdapter struct {
	tag     string
	results []domain.SourceResult
	err     error
}

func (s *stubAdapter) Tag() string { return s.tag }

func (s *stubAdapter) Search(_ context.Context, _ string, _ int) ([]domain.SourceResult, error) {
	return s.results, s.err
}

func TestAdapter_PassesThroughOnSuccess(t *testing.T) {
	inner := &stubAdapter{tag: "fidelity", results: []domain.SourceResult{{Title: "ok"}}}
	a := Wrap(inner, nil)

	results, err := a.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, inner.results, results)
	assert.Equal(t, "fidelity", a.Tag())
}

func TestAdapter_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &stubAdapter{tag: "index", err: errors.New("boom")}
	var transitions []string
	a := Wrap(inner, func(name string, from, to gobreaker.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		_, err := a.Search(context.Background(), "q", 5)
		assert.Error(t, err)
	}
	// The fourth call should fail fast with the breaker open rather than
	// invoking the inner adapter again.
	_, err := a.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
