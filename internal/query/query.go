// Package query implements the Query Formulator (C2): it turns a
// conversation's message history, plus any prior attempts' feedback within
// the current run, into an optimized search query and structured metadata.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/model"
)

const maxQueryLength = 256

const jsonSchema = `{
  "type": "object",
  "properties": {
    "optimized_query": {"type": "string"},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "entities": {"type": "array", "items": {"type": "string"}},
    "intent": {"type": "string"}
  },
  "required": ["optimized_query"]
}`

// PriorAttempt is the (query, feedback) pair the formulator must
// incorporate so later attempts narrow, broaden, or re-aim.
type PriorAttempt struct {
	AttemptIndex int
	Query        string
	Feedback     string
}

// Formulator produces optimized queries via an abstract model.Client.
type Formulator struct {
	client   model.Client
	modelTag model.ModelClass
}

// New builds a Formulator against the given model client. modelTag selects
// the logical model tier used for query formulation (spec.md §6
// model_tag_generator doubles as the query-formulation tag since both are
// "generation" tasks delegated to the same client).
func New(client model.Client, modelTag string) *Formulator {
	return &Formulator{client: client, modelTag: model.ModelClass(modelTag)}
}

// Result is the formulator's output: an optimized query plus optional
// structured metadata. Downstream components must treat missing metadata
// fields as empty.
type Result struct {
	OptimizedQuery string
	Metadata       domain.QueryMetadata
}

// Formulate builds the prompt from history and prior attempts and delegates
// to the model client. Returns a *model.ProviderError (wrapped) on failure,
// which the caller maps to the model_unavailable error kind.
func (f *Formulator) Formulate(ctx context.Context, history []domain.Message, prior []PriorAttempt) (*Result, error) {
	req := &model.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(history, prior),
		ModelClass:  f.modelTag,
		Temperature: 0.1,
		MaxTokens:   512,
		JSONSchema:  jsonSchema,
	}
	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: formulating query: %w", err)
	}
	return parseResponse(resp.Text)
}

const systemPrompt = "You are a search query formulator for a customer support assistant. " +
	"Given a conversation transcript and, when present, prior search attempts with evaluator " +
	"feedback, produce a single optimized search query (256 characters or fewer) plus structured " +
	"metadata. When prior feedback indicates the query was too broad, too narrow, or aimed at the " +
	"wrong topic, adjust accordingly rather than repeating it verbatim. Respond with JSON matching " +
	"the provided schema only."

func buildPrompt(history []domain.Message, prior []PriorAttempt) string {
	var b strings.Builder
	b.WriteString("Conversation transcript:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	if len(prior) > 0 {
		b.WriteString("\nPrior attempts in this run:\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "attempt %d query: %q\nfeedback: %s\n", p.AttemptIndex, p.Query, p.Feedback)
		}
	}
	return b.String()
}

type rawResponse struct {
	OptimizedQuery string   `json:"optimized_query"`
	Keywords       []string `json:"keywords"`
	Entities       []string `json:"entities"`
	Intent         string   `json:"intent"`
}

func parseResponse(text string) (*Result, error) {
	var raw rawResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("query: parsing model response: %w", err)
	}
	q := strings.TrimSpace(raw.OptimizedQuery)
	if q == "" {
		return nil, fmt.Errorf("query: model returned an empty optimized_query")
	}
	if len(q) > maxQueryLength {
		q = q[:maxQueryLength]
	}
	return &Result{
		OptimizedQuery: q,
		Metadata: domain.QueryMetadata{
			Keywords: raw.Keywords,
			Entities: raw.Entities,
			Intent:   raw.Intent,
		},
	}, nil
}
