// Package evaluator implements the Evaluator (C5): it scores a candidate
// resolution against a fixed set of criteria via an abstract model.Client,
// runs the bounded guardrail predicate set, and derives a pass/fail
// verdict plus textual feedback.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/evaluator/guardrails"
	"github.com/repassist-ai/orchestrator/internal/model"
)

const jsonSchema = `{
  "type": "object",
  "properties": {
    "scores": {
      "type": "object",
      "properties": {
        "accuracy": {"type": "integer"},
        "relevancy": {"type": "integer"},
        "factual_grounding": {"type": "integer"},
        "citation_quality": {"type": "integer"},
        "clarity": {"type": "integer"}
      },
      "required": ["accuracy", "relevancy", "factual_grounding", "citation_quality", "clarity"]
    },
    "feedback": {"type": "string"}
  },
  "required": ["scores"]
}`

// DefaultMinLength is the guardrail minimum-length threshold in
// characters when the caller does not override it.
const DefaultMinLength = 40

// GuardrailChecker evaluates the bounded guardrail predicate set;
// satisfied by *guardrails.Evaluator.
type GuardrailChecker interface {
	Evaluate(ctx context.Context, in guardrails.Input) (bool, error)
}

// Evaluator scores resolutions via an abstract model.Client, independent
// of (and typically at a lower temperature than) the generator's client,
// to reduce correlated bias between generation and evaluation.
type Evaluator struct {
	client            model.Client
	modelTag          model.ModelClass
	guardrails        GuardrailChecker
	minScore          int
	minLength         int
	disallowedPhrases []string
}

// Options configures an Evaluator.
type Options struct {
	ModelTag          string
	Guardrails        GuardrailChecker
	MinScore          int // default threshold T, spec.md §4.5 (default 3)
	MinLength         int
	DisallowedPhrases []string
}

// New builds an Evaluator.
func New(client model.Client, opts Options) *Evaluator {
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = 3
	}
	minLength := opts.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Evaluator{
		client:            client,
		modelTag:          model.ModelClass(opts.ModelTag),
		guardrails:        opts.Guardrails,
		minScore:          minScore,
		minLength:         minLength,
		disallowedPhrases: opts.DisallowedPhrases,
	}
}

// Evaluate scores resolutionText against query and sources, runs the
// guardrail predicates, and derives EvaluationVerdict.Passed as
// guardrails_passed && min(scores) >= T.
func (e *Evaluator) Evaluate(ctx context.Context, query, resolutionText string, sources []domain.SourceResult, citationCount int) (*domain.EvaluationVerdict, error) {
	req := &model.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(query, resolutionText, sources),
		ModelClass:  e.modelTag,
		Temperature: 0.0,
		MaxTokens:   512,
		JSONSchema:  jsonSchema,
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("evaluator: scoring resolution: %w", err)
	}
	scores, feedback, err := parseResponse(resp.Text)
	if err != nil {
		return nil, err
	}

	guardrailsPassed, err := e.checkGuardrails(ctx, resolutionText, citationCount)
	if err != nil {
		return nil, fmt.Errorf("evaluator: running guardrails: %w", err)
	}

	passed := guardrailsPassed && domain.MinScore(scores) >= e.minScore
	if !passed && feedback == "" {
		feedback = defaultFeedback(guardrailsPassed, scores, e.minScore)
	}

	return &domain.EvaluationVerdict{
		Scores:           scores,
		GuardrailsPassed: guardrailsPassed,
		Feedback:         feedback,
		Passed:           passed,
	}, nil
}

func (e *Evaluator) checkGuardrails(ctx context.Context, text string, citationCount int) (bool, error) {
	if e.guardrails == nil {
		return true, nil
	}
	return e.guardrails.Evaluate(ctx, guardrails.Input{
		Text:              text,
		CitationCount:     citationCount,
		MinLength:         e.minLength,
		DisallowedPhrases: e.disallowedPhrases,
	})
}

const systemPrompt = "You are evaluating a draft customer support answer for quality, independent of " +
	"whoever wrote it. Score each of accuracy, relevancy, factual_grounding, citation_quality, and " +
	"clarity as an integer from 1 (poor) to 5 (excellent), judged strictly against the provided source " +
	"snippets only -- do not reward claims the sources do not support. Do not rewrite the answer. " +
	"When any score is below 3, explain the specific deficiency in feedback. Respond with JSON matching " +
	"the provided schema only."

func buildPrompt(query, resolutionText string, sources []domain.SourceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search query: %s\n\nCandidate answer:\n%s\n\nSources used:\n", query, resolutionText)
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s: %s\n", s.CanonicalURL, s.Snippet)
	}
	return b.String()
}

type rawResponse struct {
	Scores   map[string]int `json:"scores"`
	Feedback string         `json:"feedback"`
}

func parseResponse(text string) (map[string]int, string, error) {
	var raw rawResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, "", fmt.Errorf("evaluator: parsing model response: %w", err)
	}
	for _, criterion := range domain.EvaluationCriteria {
		if _, ok := raw.Scores[criterion]; !ok {
			return nil, "", fmt.Errorf("evaluator: model response missing score for %q", criterion)
		}
	}
	return raw.Scores, raw.Feedback, nil
}

func defaultFeedback(guardrailsPassed bool, scores map[string]int, minScore int) string {
	if !guardrailsPassed {
		return "one or more guardrail checks failed"
	}
	var low []string
	for _, c := range domain.EvaluationCriteria {
		if scores[c] < minScore {
			low = append(low, c)
		}
	}
	if len(low) == 0 {
		return ""
	}
	return "scores below threshold: " + strings.Join(low, ", ")
}
