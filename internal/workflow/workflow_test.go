package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repassist-ai/orchestrator/internal/config"
	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/query"
	"github.com/repassist-ai/orchestrator/internal/resolution"
	"github.com/repassist-ai/orchestrator/internal/source"
	"github.com/repassist-ai/orchestrator/internal/stream"
	memstore "github.com/repassist-ai/orchestrator/internal/store/memory"
)

type fakeQuery struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, prior []query.PriorAttempt) (*query.Result, error)
}

func (f *fakeQuery) Formulate(_ context.Context, _ []domain.Message, prior []query.PriorAttempt) (*query.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call, prior)
	}
	return &query.Result{OptimizedQuery: "401k password reset"}, nil
}

type fakeSearch struct {
	results      []domain.SourceResult
	sourceErrors map[string]string
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ int, _ time.Duration) *source.Result {
	return &source.Result{Results: f.results, SourceErrors: f.sourceErrors}
}

type fakeGenerate struct {
	err  error
	text string
}

func (f *fakeGenerate) Generate(_ context.Context, _ string, sources []domain.SourceResult, _ []string) (*resolution.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(sources) == 0 {
		return nil, resolution.ErrNoSources
	}
	return &resolution.Result{
		Text:      f.text,
		Citations: []domain.Citation{{Label: "[1]", URL: sources[0].CanonicalURL}},
	}, nil
}

type fakeEvaluate struct {
	mu   sync.Mutex
	fn   func(call int) (*domain.EvaluationVerdict, error)
	call int
}

func (f *fakeEvaluate) Evaluate(_ context.Context, _, _ string, _ []domain.SourceResult, _ int) (*domain.EvaluationVerdict, error) {
	f.mu.Lock()
	f.call++
	call := f.call
	f.mu.Unlock()
	return f.fn(call)
}

func passingVerdict() (*domain.EvaluationVerdict, error) {
	return &domain.EvaluationVerdict{
		Scores:           map[string]int{"accuracy": 5, "relevancy": 5, "factual_grounding": 5, "citation_quality": 5, "clarity": 5},
		GuardrailsPassed: true,
		Passed:           true,
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Deadlines.OverallRunMS = 5000
	return cfg
}

func seedConversation(t *testing.T, st *memstore.Store, id domain.ConversationID) {
	t.Helper()
	require.NoError(t, st.SaveConversation(context.Background(), &domain.Conversation{
		ID:     id,
		Status: domain.ConversationActive,
	}))
}

func sampleSources() []domain.SourceResult {
	return []domain.SourceResult{{SourceTag: "web", Title: "401k help", CanonicalURL: "https://example.com/401k", Relevance: 0.9}}
}

func waitForHandle(t *testing.T, h *Handle) (*domain.Resolution, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, errorKind, err := h.Wait(ctx)
	require.NoError(t, err)
	return res, errorKind
}

func TestTrigger_HappyPath(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	eval := &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }}
	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{results: sampleSources()},
		Generate: &fakeGenerate{text: "Reset it here [Source: https://example.com/401k]"},
		Evaluate: eval,
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	result, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		History: []domain.Message{
			{Role: domain.RoleCustomer, Content: "How do I reset my 401k password?"},
			{Role: domain.RoleRepresentative, Content: "Let me check -- can you help me confirm your account?"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "started", result.Status)

	res, errorKind := waitForHandle(t, result.Handle)
	assert.Empty(t, errorKind)
	require.NotNil(t, res)
	assert.Contains(t, res.Text, "[Source:")
	assert.Len(t, res.Citations, 1)
}

func TestTrigger_NoMatchReturnsNotTriggeredWithoutStartingRun(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{results: sampleSources()},
		Generate: &fakeGenerate{text: "n/a"},
		Evaluate: &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }},
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	result, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		History:        []domain.Message{{Role: domain.RoleCustomer, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "not_triggered", result.Status)
	assert.Nil(t, result.Handle)

	_, ok := e.guard.InFlight("conv-1")
	assert.False(t, ok, "single-flight slot must be released on trigger miss")
}

func TestTrigger_RetryThenSuccess(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	eval := &fakeEvaluate{fn: func(call int) (*domain.EvaluationVerdict, error) {
		if call == 1 {
			return &domain.EvaluationVerdict{
				Scores:           map[string]int{"accuracy": 2, "relevancy": 5, "factual_grounding": 5, "citation_quality": 5, "clarity": 5},
				GuardrailsPassed: true,
				Feedback:         "accuracy too low",
				Passed:           false,
			}, nil
		}
		return passingVerdict()
	}}

	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{results: sampleSources()},
		Generate: &fakeGenerate{text: "Reset it here [Source: https://example.com/401k]"},
		Evaluate: eval,
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	result, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		Force:          true,
		History:        []domain.Message{{Role: domain.RoleRepresentative, Content: "let me help"}},
	})
	require.NoError(t, err)

	res, errorKind := waitForHandle(t, result.Handle)
	assert.Empty(t, errorKind)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.AttemptIndex)
}

func TestTrigger_RetryExhaustion(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	cfg := testConfig()
	cfg.MaxAttempts = 3
	eval := &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) {
		return &domain.EvaluationVerdict{
			Scores:           map[string]int{"accuracy": 5, "relevancy": 1, "factual_grounding": 5, "citation_quality": 5, "clarity": 5},
			GuardrailsPassed: true,
			Feedback:         "relevancy too low",
			Passed:           false,
		}, nil
	}}

	e := New(cfg, Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{results: sampleSources()},
		Generate: &fakeGenerate{text: "Reset it here [Source: https://example.com/401k]"},
		Evaluate: eval,
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	result, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		Force:          true,
		History:        []domain.Message{{Role: domain.RoleRepresentative, Content: "let me help"}},
	})
	require.NoError(t, err)

	res, errorKind := waitForHandle(t, result.Handle)
	assert.Nil(t, res)
	assert.Equal(t, ErrorKindQualityThresholdNotMet, errorKind)
	assert.Equal(t, 3, eval.call)
}

func TestTrigger_PartialSourceFailureStillSucceeds(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{results: sampleSources(), sourceErrors: map[string]string{"internalkb": "unavailable"}},
		Generate: &fakeGenerate{text: "Reset it here [Source: https://example.com/401k]"},
		Evaluate: &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }},
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	result, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		Force:          true,
		History:        []domain.Message{{Role: domain.RoleRepresentative, Content: "let me help"}},
	})
	require.NoError(t, err)

	res, errorKind := waitForHandle(t, result.Handle)
	assert.Empty(t, errorKind)
	require.NotNil(t, res)
}

func TestTrigger_DuplicateRequestRejected(t *testing.T) {
	st := memstore.New()
	seedConversation(t, st, "conv-1")

	block := make(chan struct{})
	slowQuery := &fakeQuery{fn: func(int, []query.PriorAttempt) (*query.Result, error) {
		<-block
		return &query.Result{OptimizedQuery: "q"}, nil
	}}

	e := New(testConfig(), Dependencies{
		Query:    slowQuery,
		Search:   &fakeSearch{results: sampleSources()},
		Generate: &fakeGenerate{text: "x [Source: https://example.com/401k]"},
		Evaluate: &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }},
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	first, err := e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		Force:          true,
		History:        []domain.Message{{Role: domain.RoleRepresentative, Content: "let me help"}},
	})
	require.NoError(t, err)
	require.Equal(t, "started", first.Status)

	_, err = e.Trigger(context.Background(), TriggerRequest{
		ConversationID: "conv-1",
		Force:          true,
		History:        []domain.Message{{Role: domain.RoleRepresentative, Content: "let me help"}},
	})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	waitForHandle(t, first.Handle)
}

func TestTrigger_ConversationNotFound(t *testing.T) {
	st := memstore.New()
	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{},
		Generate: &fakeGenerate{},
		Evaluate: &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }},
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	_, err := e.Trigger(context.Background(), TriggerRequest{ConversationID: "missing"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestTrigger_CompletedConversationRejected(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.SaveConversation(context.Background(), &domain.Conversation{ID: "conv-1", Status: domain.ConversationCompleted}))

	e := New(testConfig(), Dependencies{
		Query:    &fakeQuery{},
		Search:   &fakeSearch{},
		Generate: &fakeGenerate{},
		Evaluate: &fakeEvaluate{fn: func(int) (*domain.EvaluationVerdict, error) { return passingVerdict() }},
		Store:    st,
		Sink:     stream.NewMemSink(16),
	})

	_, err := e.Trigger(context.Background(), TriggerRequest{ConversationID: "conv-1"})
	assert.ErrorIs(t, err, ErrInvalidState)
}
