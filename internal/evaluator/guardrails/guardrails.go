// Package guardrails evaluates the Evaluator's bounded set of guardrail
// predicates (content safety, minimum length, at-least-one-citation,
// no obvious policy violations) as Rego policy, via
// github.com/open-policy-agent/opa's embedded rego API. Keeping the
// predicates as data lets the four categories be tuned without a rebuild.
package guardrails

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// DefaultPolicy is the built-in guardrail module. It flags a resolution
// when its text is empty, shorter than a configured minimum, lacks any
// citation marker, or contains a disallowed phrase.
const DefaultPolicy = `
package repassist.guardrails

import rego.v1

default passed := false

too_short if {
	count(input.text) < input.min_length
}

violates_policy if {
	some phrase in input.disallowed_phrases
	contains(lower(input.text), lower(phrase))
}

passed if {
	not too_short
	input.citation_count > 0
	not violates_policy
}
`

// Input is the guardrail evaluation input: the candidate resolution text
// plus the policy parameters spec.md §4.5 names (minimum length, at
// least one citation present, a disallowed-phrase list standing in for
// "no obvious policy violations").
type Input struct {
	Text              string   `json:"text"`
	CitationCount     int      `json:"citation_count"`
	MinLength         int      `json:"min_length"`
	DisallowedPhrases []string `json:"disallowed_phrases"`
}

// Evaluator evaluates Input against a compiled Rego policy.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

// New compiles policySource (use DefaultPolicy unless overridden) into a
// reusable prepared query.
func New(ctx context.Context, policySource string) (*Evaluator, error) {
	if policySource == "" {
		policySource = DefaultPolicy
	}
	query, err := rego.New(
		rego.Query("data.repassist.guardrails.passed"),
		rego.Module("guardrails.rego", policySource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardrails: compiling policy: %w", err)
	}
	return &Evaluator{query: query}, nil
}

// Evaluate returns whether in passes every guardrail predicate.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("guardrails: evaluating policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, fmt.Errorf("guardrails: policy produced no result")
	}
	passed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("guardrails: policy result was not a boolean")
	}
	return passed, nil
}
