// Command repassistd wires the orchestrator's components into a runnable
// process: it loads configuration, selects a model provider and source
// adapters from the environment, runs the crash-recovery sweep, and
// triggers one demonstration conversation end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/repassist-ai/orchestrator/internal/config"
	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/evaluator"
	"github.com/repassist-ai/orchestrator/internal/evaluator/guardrails"
	"github.com/repassist-ai/orchestrator/internal/model"
	"github.com/repassist-ai/orchestrator/internal/model/anthropic"
	"github.com/repassist-ai/orchestrator/internal/query"
	"github.com/repassist-ai/orchestrator/internal/resolution"
	"github.com/repassist-ai/orchestrator/internal/source"
	"github.com/repassist-ai/orchestrator/internal/source/breaker"
	"github.com/repassist-ai/orchestrator/internal/source/internalkb"
	"github.com/repassist-ai/orchestrator/internal/source/web"
	"github.com/repassist-ai/orchestrator/internal/store"
	memstore "github.com/repassist-ai/orchestrator/internal/store/memory"
	"github.com/repassist-ai/orchestrator/internal/stream"
	"github.com/repassist-ai/orchestrator/internal/stream/redissink"
	"github.com/repassist-ai/orchestrator/internal/telemetry"
	"github.com/repassist-ai/orchestrator/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env and defaults always apply)")
	flag.Parse()

	ctx := context.Background()
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error(ctx, "loading configuration", "error", err)
		os.Exit(1)
	}

	st := newStore()
	sink := newSink()
	defer sink.Close(ctx)

	guardrailEvaluator, err := guardrails.New(ctx, "")
	if err != nil {
		logger.Error(ctx, "compiling guardrail policy", "error", err)
		os.Exit(1)
	}

	generatorClient := newModelClient(cfg.ModelTagGenerator)
	evaluatorClient := newModelClient(cfg.ModelTagEvaluator)

	fanOut := source.New(cfg.SnippetByteBudget, newSourceAdapters(logger)...)

	eng := workflow.New(cfg, workflow.Dependencies{
		Query:    query.New(generatorClient, cfg.ModelTagGenerator),
		Search:   fanOut,
		Generate: resolution.New(generatorClient, cfg.ModelTagGenerator),
		Evaluate: evaluator.New(evaluatorClient, evaluator.Options{
			ModelTag:   cfg.ModelTagEvaluator,
			Guardrails: guardrailEvaluator,
			MinScore:   cfg.EvalMinScore,
		}),
		Store:    st,
		Sink:     sink,
		Observer: newTelemetryObserver(logger, telemetry.NewOtelMetrics(), telemetry.NewOtelTracer()),
	})

	recovered, err := eng.Recover(ctx)
	if err != nil {
		logger.Error(ctx, "crash recovery sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "crash recovery sweep complete", "runs_recovered", recovered)

	runDemo(ctx, logger, st, eng)
}

// runDemo seeds one conversation whose latest representative message matches
// a default trigger phrase, fires it through the engine, and waits for
// its terminal outcome.
func runDemo(ctx context.Context, logger telemetry.Logger, st store.Store, eng *workflow.Engine) {
	const conversationID domain.ConversationID = "demo-conversation-1"

	if err := st.SaveConversation(ctx, &domain.Conversation{
		ID:               conversationID,
		RepresentativeID: "rep-42",
		Channel:          domain.ChannelChat,
		Status:           domain.ConversationActive,
		CreatedAt:        time.Now(),
	}); err != nil {
		logger.Error(ctx, "seeding demo conversation", "error", err)
		return
	}

	result, err := eng.Trigger(ctx, workflow.TriggerRequest{
		ConversationID:   conversationID,
		RepresentativeID: "rep-42",
		History: []domain.Message{
			{ConversationID: conversationID, Role: domain.RoleCustomer, Content: "How do I reset my 401k enrollment password?"},
			{ConversationID: conversationID, Role: domain.RoleRepresentative, Content: "I'm not sure. Let me check that for you."},
		},
	})
	if err != nil {
		logger.Error(ctx, "triggering demo run", "error", err)
		return
	}
	if result.Status == "not_triggered" {
		logger.Info(ctx, "demo conversation did not match a trigger phrase")
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	res, errorKind, err := result.Handle.Wait(waitCtx)
	if err != nil {
		logger.Error(ctx, "waiting for demo run", "error", err)
		return
	}
	if errorKind != "" {
		logger.Warn(ctx, "demo run did not succeed", "error_kind", errorKind, "run_id", string(result.RunID))
		return
	}
	fmt.Println("Resolution:", res.Text)
	for _, c := range res.Citations {
		fmt.Println("  Citation:", c.Label, c.URL)
	}
}

// newStore selects a persistence backend from the environment. Without
// REPASSIST_MONGO_URI set, an in-memory store is used (state does not
// survive a restart).
func newStore() store.Store {
	if os.Getenv("REPASSIST_MONGO_URI") != "" {
		// A full Mongo wiring additionally needs a *mongo.Client and
		// per-collection handles; left to deployment-specific bootstrap
		// code since it requires a live connection this binary does not
		// establish on its own.
		panic("repassistd: REPASSIST_MONGO_URI wiring is deployment-specific; see internal/store/mongo")
	}
	return memstore.New()
}

// newSink selects an event sink from the environment. Without
// REPASSIST_REDIS_ADDR set, events fan out only to in-process subscribers.
func newSink() stream.Sink {
	addr := os.Getenv("REPASSIST_REDIS_ADDR")
	if addr == "" {
		return stream.NewMemSink(64)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	return redissink.New(client, "repassist:events:")
}

// newModelClient selects a model.Client from the environment. Without
// ANTHROPIC_API_KEY set, a stub client is used so the binary still runs
// end to end in a sandbox with no external credentials.
func newModelClient(modelTag string) model.Client {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		client, err := anthropic.NewFromAPIKey(apiKey, "claude-3-5-sonnet-latest")
		if err != nil {
			panic(fmt.Errorf("repassistd: constructing anthropic client: %w", err))
		}
		return client
	}
	return stubModelClient{}
}

// newSourceAdapters builds the fan-out's adapter set, wrapping each in a
// circuit breaker. The internal knowledge base adapter contributes zero
// results without REPASSIST_INTERNALKB_API_KEY, which source.FanOut
// treats as a normal per-source failure rather than a workflow error.
func newSourceAdapters(logger telemetry.Logger) []source.Adapter {
	webAdapter := web.New("web", stubSearcher{}, nil)
	kbAdapter := internalkb.New(
		"internalkb",
		os.Getenv("REPASSIST_INTERNALKB_BASE_URL"),
		os.Getenv("REPASSIST_INTERNALKB_API_KEY"),
		http.DefaultClient,
		decodeInternalKBResults,
	)

	onTrip := func(name string, from, to gobreaker.State) {
		logger.Warn(context.Background(), "source circuit breaker state change", "source", name, "from", from.String(), "to", to.String())
	}
	return []source.Adapter{
		breaker.Wrap(webAdapter, onTrip),
		breaker.Wrap(kbAdapter, onTrip),
	}
}

// decodeInternalKBResults parses the internal knowledge base's JSON
// response body into ranked source results, truncated to k.
func decodeInternalKBResults(body []byte, k int) ([]domain.SourceResult, error) {
	var raw []struct {
		Title     string  `json:"title"`
		URL       string  `json:"url"`
		Snippet   string  `json:"snippet"`
		Relevance float64 `json:"relevance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("internalkb: decoding response: %w", err)
	}
	if k > 0 && len(raw) > k {
		raw = raw[:k]
	}
	out := make([]domain.SourceResult, len(raw))
	for i, r := range raw {
		out[i] = domain.SourceResult{SourceTag: "internalkb", Title: r.Title, CanonicalURL: r.URL, Snippet: r.Snippet, Relevance: r.Relevance}
	}
	return out, nil
}

// stubSearcher is the web adapter's default primary strategy when no real
// search API key is configured; it always returns zero results, which
// web.Adapter treats as a normal empty search rather than an error.
type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, int) ([]domain.SourceResult, error) {
	return nil, nil
}

// stubModelClient is used when no model provider credentials are
// configured, so the binary can still demonstrate the full workflow loop
// without external dependencies.
type stubModelClient struct{}

func (stubModelClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	if req.JSONSchema != "" {
		return &model.Response{Text: `{"optimized_query":"` + req.Prompt[:min(40, len(req.Prompt))] + `","scores":{"accuracy":4,"relevancy":4,"factual_grounding":4,"citation_quality":4,"clarity":4},"feedback":"","resolution_text":"Stub answer [Source: https://example.com/kb]","citations":[{"label":"[1]","url":"https://example.com/kb"}]}`}, nil
	}
	return &model.Response{Text: "stub response"}, nil
}

// telemetryObserver bridges the engine's workflow.Observer hook pair to
// the ambient telemetry.Logger/Metrics/Tracer abstractions, keeping the
// workflow package itself free of any telemetry dependency.
type telemetryObserver struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu      sync.Mutex
	started map[string]time.Time
	spans   map[string]telemetry.Span
}

func newTelemetryObserver(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *telemetryObserver {
	return &telemetryObserver{
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		started: make(map[string]time.Time),
		spans:   make(map[string]telemetry.Span),
	}
}

func (o *telemetryObserver) key(runID, stage string) string { return runID + ":" + stage }

func (o *telemetryObserver) StageStarted(ctx context.Context, runID, stage string) {
	_, span := o.tracer.Start(ctx, "workflow."+stage)
	o.mu.Lock()
	o.started[o.key(runID, stage)] = time.Now()
	o.spans[o.key(runID, stage)] = span
	o.mu.Unlock()
	o.logger.Debug(ctx, "stage started", "run_id", runID, "stage", stage)
}

func (o *telemetryObserver) StageFinished(ctx context.Context, runID, stage, outcome string, err error) {
	k := o.key(runID, stage)
	o.mu.Lock()
	startedAt, ok := o.started[k]
	span := o.spans[k]
	delete(o.started, k)
	delete(o.spans, k)
	o.mu.Unlock()

	var dur time.Duration
	if ok {
		dur = time.Since(startedAt)
	}
	o.metrics.RecordTimer("workflow_stage_duration", dur, "stage", stage, "outcome", outcome)
	o.metrics.IncCounter("workflow_stage_total", 1, "stage", stage, "outcome", outcome)

	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}

	if err != nil {
		o.logger.Warn(ctx, "stage finished with error", "run_id", runID, "stage", stage, "error", err)
		return
	}
	o.logger.Info(ctx, "stage finished", "run_id", runID, "stage", stage, "outcome", outcome, "duration_ms", dur.Milliseconds())
}
