// Package model defines the provider-agnostic language-model invocation
// abstraction used by the Query Formulator, Resolution Generator, and
// Evaluator. The engine depends only on this abstraction; provider
// selection (Anthropic, OpenAI, Bedrock) is external, matching §6 of the
// specification: "the engine depends only on this abstraction; provider
// selection is external."
package model

import "context"

type (
	// ModelClass selects a logical tier of model without naming a specific
	// provider model identifier. Concrete Client implementations resolve a
	// ModelClass to a provider-specific model id.
	ModelClass string

	// Client abstracts a single language-model invocation. Implementations
	// wrap a specific provider SDK (Anthropic, OpenAI, Bedrock) and must
	// apply their own internal retries before returning an error.
	Client interface {
		// Complete issues a single completion request and returns the
		// resulting text (and, for callers that asked for it, structured
		// JSON via Request.JSONSchema). Returns a *ProviderError on
		// failure after internal retries are exhausted.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}

	// Request captures a single completion invocation. Fields not used by
	// a given provider adapter are ignored.
	Request struct {
		// System is the system/instruction prompt.
		System string
		// Prompt is the user-turn prompt text.
		Prompt string
		// ModelClass selects a logical model tier when Model is empty.
		ModelClass ModelClass
		// Model overrides ModelClass with an explicit provider model id.
		Model string
		// Temperature controls sampling randomness. Low values (e.g. 0.1)
		// are used for query formulation and evaluation per §4.2/§4.5.
		Temperature float64
		// MaxTokens bounds the completion length.
		MaxTokens int
		// JSONSchema, when non-empty, asks the provider to constrain its
		// output to the given JSON schema (used by the Query Formulator
		// for its metadata map).
		JSONSchema string
	}

	// Response is the normalized completion result.
	Response struct {
		// Text is the completion text (or raw JSON, when Request.JSONSchema
		// was set).
		Text string
		// InputTokens and OutputTokens report token usage for cost/telemetry
		// attribution.
		InputTokens  int
		OutputTokens int
	}
)

const (
	// ModelClassDefault is the general-purpose generation/evaluation tier.
	ModelClassDefault ModelClass = "default"
	// ModelClassHighReasoning is used for harder generation tasks.
	ModelClassHighReasoning ModelClass = "high_reasoning"
	// ModelClassSmall is a cheap/fast tier suited to query formulation.
	ModelClassSmall ModelClass = "small"
)
