package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repassist-ai/orchestrator/internal/evaluator/guardrails"
	"github.com/repassist-ai/orchestrator/internal/model"
)

type fakeClient struct {
	resp *model.Response
	err  error
	req  *model.Request
}

func (f *fakeClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	f.req = req
	return f.resp, f.err
}

type fakeGuardrails struct {
	passed bool
	err    error
}

func (f fakeGuardrails) Evaluate(context.Context, guardrails.Input) (bool, error) {
	return f.passed, f.err
}

func TestEvaluate_PassesWhenGuardrailsAndScoresClearThreshold(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"scores":{"accuracy":4,"relevancy":4,"factual_grounding":4,"citation_quality":4,"clarity":4}}`}}
	e := New(fc, Options{ModelTag: "default", Guardrails: fakeGuardrails{passed: true}, MinScore: 3})

	verdict, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
	assert.True(t, verdict.GuardrailsPassed)
	assert.Empty(t, verdict.Feedback)
}

func TestEvaluate_FailsWhenAnyScoreBelowThreshold(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"scores":{"accuracy":2,"relevancy":4,"factual_grounding":4,"citation_quality":4,"clarity":4},"feedback":"accuracy too low"}`}}
	e := New(fc, Options{ModelTag: "default", Guardrails: fakeGuardrails{passed: true}, MinScore: 3})

	verdict, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Equal(t, "accuracy too low", verdict.Feedback)
}

func TestEvaluate_FailsWhenGuardrailsFailRegardlessOfScores(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"scores":{"accuracy":5,"relevancy":5,"factual_grounding":5,"citation_quality":5,"clarity":5}}`}}
	e := New(fc, Options{ModelTag: "default", Guardrails: fakeGuardrails{passed: false}, MinScore: 3})

	verdict, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.False(t, verdict.GuardrailsPassed)
	assert.NotEmpty(t, verdict.Feedback)
}

func TestEvaluate_NilGuardrailsDefaultsToPassed(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"scores":{"accuracy":4,"relevancy":4,"factual_grounding":4,"citation_quality":4,"clarity":4}}`}}
	e := New(fc, Options{ModelTag: "default", MinScore: 3})

	verdict, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	require.NoError(t, err)
	assert.True(t, verdict.GuardrailsPassed)
	assert.True(t, verdict.Passed)
}

func TestEvaluate_RejectsResponseMissingCriterion(t *testing.T) {
	fc := &fakeClient{resp: &model.Response{Text: `{"scores":{"accuracy":4}}`}}
	e := New(fc, Options{ModelTag: "default", MinScore: 3})

	_, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	assert.Error(t, err)
}

func TestEvaluate_WrapsModelError(t *testing.T) {
	fc := &fakeClient{err: assertError{}}
	e := New(fc, Options{ModelTag: "default", MinScore: 3})

	_, err := e.Evaluate(context.Background(), "q", "resolution text", nil, 1)
	assert.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "model unavailable" }
