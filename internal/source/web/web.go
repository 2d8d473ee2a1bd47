// Package web implements the public web source adapter: a site-scoped web
// search as the primary strategy, falling back to the site's own native
// search when the primary search returns nothing. The primary/fallback
// split is an adapter-internal concern, invisible to source.FanOut.
package web

import (
	"context"
	"fmt"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

// Searcher performs one search strategy (site-scoped web search, or
// native site search) and returns ranked results.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SourceResult, error)
}

// Adapter implements source.Adapter over a primary and fallback Searcher.
type Adapter struct {
	tag      string
	primary  Searcher
	fallback Searcher
}

// New builds a web Adapter. fallback may be nil to disable the fallback
// strategy.
func New(tag string, primary, fallback Searcher) *Adapter {
	return &Adapter{tag: tag, primary: primary, fallback: fallback}
}

// Tag identifies this adapter for preference ordering and error reporting.
func (a *Adapter) Tag() string { return a.tag }

// Search tries the primary strategy first; if it returns zero results (not
// an error) and a fallback is configured, it tries the fallback.
func (a *Adapter) Search(ctx context.Context, query string, k int) ([]domain.SourceResult, error) {
	results, err := a.primary.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("web(%s): primary search: %w", a.tag, err)
	}
	if len(results) > 0 || a.fallback == nil {
		return results, nil
	}
	results, err = a.fallback.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("web(%s): fallback search: %w", a.tag, err)
	}
	return results, nil
}
