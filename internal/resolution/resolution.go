// Package resolution implements the Resolution Generator (C4): it produces
// a customer-ready answer with inline citations from the source snippets
// collected by C3, then post-validates every cited URL against the input
// source list before returning.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/model"
)

const jsonSchema = `{
  "type": "object",
  "properties": {
    "resolution_text": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"label": {"type": "string"}, "url": {"type": "string"}},
        "required": ["label", "url"]
      }
    }
  },
  "required": ["resolution_text", "citations"]
}`

var citationMarker = regexp.MustCompile(`\[Source:\s*([^\]]+)\]`)

// ErrNoSources is returned when the input SourceResult list is empty;
// generation is always grounded, so no model call is made in that case.
var ErrNoSources = fmt.Errorf("resolution: no sources available")

// Generator produces resolutions via an abstract model.Client.
type Generator struct {
	client   model.Client
	modelTag model.ModelClass
}

// New builds a Generator against the given model client and logical model
// tag (spec.md §6 model_tag_generator).
func New(client model.Client, modelTag string) *Generator {
	return &Generator{client: client, modelTag: model.ModelClass(modelTag)}
}

// Result is the generator's output prior to any citation post-validation
// the caller may layer on top via ValidateCitations.
type Result struct {
	Text      string
	Citations []domain.Citation
}

// Generate builds the prompt from query, sources, and prior feedback, then
// delegates to the model client. Returns ErrNoSources if sources is empty,
// or a wrapped *model.ProviderError on model failure.
func (g *Generator) Generate(ctx context.Context, query string, sources []domain.SourceResult, priorFeedback []string) (*Result, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	req := &model.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(query, sources, priorFeedback),
		ModelClass:  g.modelTag,
		Temperature: 0.3,
		MaxTokens:   1200,
		JSONSchema:  jsonSchema,
	}
	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolution: generating resolution: %w", err)
	}
	return parseResponse(resp.Text)
}

const systemPrompt = "You are writing a customer-ready support answer for a representative to review. " +
	"Ground every factual claim in the provided source snippets and cite each one inline using the " +
	"exact marker \"[Source: <url>]\" immediately after the claim it supports, where <url> is copied " +
	"verbatim from the sources given — never invent a URL. Write 2 to 4 short paragraphs, no more than " +
	"roughly 800 words. Respond with JSON matching the provided schema only."

func buildPrompt(query string, sources []domain.SourceResult, priorFeedback []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search query: %s\n\nSources:\n", query)
	for _, s := range sources {
		fmt.Fprintf(&b, "- title: %s\n  url: %s\n  snippet: %s\n", s.Title, s.CanonicalURL, s.Snippet)
	}
	if len(priorFeedback) > 0 {
		b.WriteString("\nPrior attempts in this run were rejected for:\n")
		for _, f := range priorFeedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

type rawResponse struct {
	ResolutionText string        `json:"resolution_text"`
	Citations      []rawCitation `json:"citations"`
}

type rawCitation struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

func parseResponse(text string) (*Result, error) {
	var raw rawResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("resolution: parsing model response: %w", err)
	}
	if strings.TrimSpace(raw.ResolutionText) == "" {
		return nil, fmt.Errorf("resolution: model returned empty resolution_text")
	}
	citations := make([]domain.Citation, 0, len(raw.Citations))
	for _, c := range raw.Citations {
		citations = append(citations, domain.Citation{Label: c.Label, URL: c.URL})
	}
	return &Result{Text: raw.ResolutionText, Citations: citations}, nil
}

// ValidateCitations post-validates a Result against the source list used
// to generate it (spec.md §4.4: "Every URL cited must come from the input
// SourceResult list"). It discards citations whose URL is not present in
// sources or whose inline marker is absent from the text, returning the
// filtered citation list and whether any citation was discarded (signaling
// the caller to record a citation_invalid verdict without re-invoking the
// model).
func ValidateCitations(result *Result, sources []domain.SourceResult) (valid []domain.Citation, anyDiscarded bool) {
	known := map[string]struct{}{}
	for _, s := range sources {
		known[s.CanonicalURL] = struct{}{}
	}
	cited := citedURLs(result.Text)

	for _, c := range result.Citations {
		_, fromSources := known[c.URL]
		_, inText := cited[c.URL]
		if fromSources && inText {
			valid = append(valid, c)
			continue
		}
		anyDiscarded = true
	}
	return valid, anyDiscarded
}

func citedURLs(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		out[strings.TrimSpace(m[1])] = struct{}{}
	}
	return out
}
