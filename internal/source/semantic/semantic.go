// Package semantic implements the optional semantic index adapter: a
// cosine-similarity search over previously-ingested content, embedded via
// a pluggable Embedder function so the index is not tied to a specific
// embedding provider.
package semantic

import (
	"context"
	"math"
	"sort"

	"github.com/repassist-ai/orchestrator/internal/domain"
)

// Embedder turns text into a fixed-dimension vector. Implementations wrap
// whichever model.Client the deployment uses for embeddings.
type Embedder func(ctx context.Context, text string) ([]float64, error)

// Document is a previously-ingested item available for semantic search.
type Document struct {
	Title        string
	CanonicalURL string
	Snippet      string
	Vector       []float64
}

// Index implements source.Adapter over an in-memory set of pre-embedded
// documents.
type Index struct {
	tag      string
	docs     []Document
	embedder Embedder
}

// New builds a semantic Index over docs, using embedder to vectorize
// incoming queries.
func New(tag string, docs []Document, embedder Embedder) *Index {
	return &Index{tag: tag, docs: docs, embedder: embedder}
}

// Tag identifies this adapter for preference ordering and error reporting.
func (idx *Index) Tag() string { return idx.tag }

// Search embeds query and ranks documents by cosine similarity, returning
// the top k.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]domain.SourceResult, error) {
	qv, err := idx.embedder(ctx, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		doc   Document
		score float64
	}
	scoredDocs := make([]scored, 0, len(idx.docs))
	for _, d := range idx.docs {
		scoredDocs = append(scoredDocs, scored{doc: d, score: cosineSimilarity(qv, d.Vector)})
	}
	sort.SliceStable(scoredDocs, func(i, j int) bool { return scoredDocs[i].score > scoredDocs[j].score })

	if k > len(scoredDocs) {
		k = len(scoredDocs)
	}
	out := make([]domain.SourceResult, 0, k)
	for _, s := range scoredDocs[:k] {
		out = append(out, domain.SourceResult{
			SourceTag:    idx.tag,
			Title:        s.doc.Title,
			CanonicalURL: s.doc.CanonicalURL,
			Snippet:      s.doc.Snippet,
			Relevance:    normalize(s.score),
		})
	}
	return out, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalize maps cosine similarity ([-1, 1]) onto the SourceResult
// relevance range [0, 1].
func normalize(cosine float64) float64 {
	v := (cosine + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
