// Package source implements the Source Fan-Out (C3): it invokes every
// registered source adapter concurrently, merges and deduplicates their
// results, and bounds snippet size before returning to the caller. Fan-out
// never fails as a whole: a source timing out or erroring contributes zero
// results plus a recorded per-source error.
package source

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

// Adapter is the interface every source implementation (web, internal
// knowledge base, semantic index) satisfies.
type Adapter interface {
	// Tag identifies the adapter for error reporting and preference
	// ordering (e.g. "fidelity", "mygps", "index").
	Tag() string
	// Search returns up to k results for query, honoring ctx's deadline.
	Search(ctx context.Context, query string, k int) ([]domain.SourceResult, error)
}

const (
	// ErrorKindTimeout is recorded when an adapter is still running at the
	// overall fan-out deadline.
	ErrorKindTimeout = "timeout"
	// ErrorKindUnauthorized is recorded by adapters (the internal
	// knowledge source) when credentials are absent; not a workflow
	// failure.
	ErrorKindUnauthorized = "unauthorized"
	// ErrorKindUnavailable is recorded for any other adapter error.
	ErrorKindUnavailable = "unavailable"
)

// FanOut holds the registered adapters in a stable preference order
// (registration order), used to break relevance ties.
type FanOut struct {
	adapters          []Adapter
	snippetByteBudget int
}

// New builds a FanOut over adapters, in the given preference order.
// snippetByteBudget bounds each result's Snippet field (default 2 KiB per
// spec.md §4.3 when zero).
func New(snippetByteBudget int, adapters ...Adapter) *FanOut {
	if snippetByteBudget <= 0 {
		snippetByteBudget = 2048
	}
	return &FanOut{adapters: adapters, snippetByteBudget: snippetByteBudget}
}

// Result is the FanOut's merged output: a relevance-sorted, deduplicated
// result list plus any per-source errors encountered.
type Result struct {
	Results      []domain.SourceResult
	SourceErrors map[string]string
}

// Search invokes every adapter in parallel with k and deadline, then merges
// the results. It never returns a non-nil error: failures are recorded
// per-adapter in Result.SourceErrors.
func (f *FanOut) Search(ctx context.Context, query string, k int, deadline time.Duration) *Result {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		index     int
		results   []domain.SourceResult
		errorKind string
	}
	outcomes := make([]outcome, len(f.adapters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range f.adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			results, err := adapter.Search(gctx, query, k)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				kind := classify(gctx, err)
				outcomes[i] = outcome{index: i, errorKind: kind}
				return nil
			}
			outcomes[i] = outcome{index: i, results: results}
			return nil
		})
	}
	_ = g.Wait() // adapter errors never abort the group; see classify

	sourceErrors := map[string]string{}
	var merged []domain.SourceResult
	for i, o := range outcomes {
		tag := f.adapters[i].Tag()
		if o.errorKind != "" {
			sourceErrors[tag] = o.errorKind
			continue
		}
		for _, r := range o.results {
			merged = append(merged, bound(r, f.snippetByteBudget))
		}
	}

	return &Result{Results: dedupeAndSort(merged), SourceErrors: sourceErrors}
}

func classify(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrorKindTimeout
	}
	if ue, ok := err.(interface{ Unauthorized() bool }); ok && ue.Unauthorized() {
		return ErrorKindUnauthorized
	}
	return ErrorKindUnavailable
}

// bound truncates r's Snippet to budget bytes, grouping merged results are
// appended in adapter-registration then per-source-rank order so the
// subsequent stable relevance sort preserves that as its tiebreak.
func bound(r domain.SourceResult, budget int) domain.SourceResult {
	if len(r.Snippet) > budget {
		r.Snippet = truncateUTF8(r.Snippet, budget)
	}
	return r
}

func truncateUTF8(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	b := s[:budget]
	for len(b) > 0 {
		if r := []rune(b); len(string(r)) == len(b) {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

func canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	u.Fragment = ""
	return strings.ToLower(u.String())
}

// dedupeAndSort merges duplicate URLs (case-insensitive, fragment
// stripped), keeping the higher-relevance entry (ties broken by earlier
// preference order), then sorts the result by descending relevance with
// ties broken by preference order and original per-source rank.
func dedupeAndSort(merged []domain.SourceResult) []domain.SourceResult {
	best := map[string]domain.SourceResult{}
	order := []string{}
	for _, r := range merged {
		key := canonicalize(r.CanonicalURL)
		existing, ok := best[key]
		if !ok {
			best[key] = r
			order = append(order, key)
			continue
		}
		if r.Relevance > existing.Relevance {
			best[key] = r
		}
		// equal relevance: keep the earlier-seen (higher preference) entry
	}

	out := make([]domain.SourceResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}
