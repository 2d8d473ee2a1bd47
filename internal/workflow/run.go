package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/query"
	"github.com/repassist-ai/orchestrator/internal/resolution"
	"github.com/repassist-ai/orchestrator/internal/store"
	"github.com/repassist-ai/orchestrator/internal/stream"
	"github.com/repassist-ai/orchestrator/internal/trigger"
)

// Error kinds surfaced by the core (spec.md §7).
const (
	ErrorKindNotTriggered         = "not_triggered"
	ErrorKindRunInProgress        = "run_in_progress"
	ErrorKindModelUnavailable     = "model_unavailable"
	ErrorKindNoSources            = "no_sources"
	ErrorKindCitationInvalid      = "citation_invalid"
	ErrorKindEvaluatorUnavailable = "evaluator_unavailable"
	ErrorKindStageTimeout         = "stage_timeout"
	ErrorKindCancelled            = "cancelled"
	ErrorKindPersistenceError     = "persistence_error"
	// ErrorKindQualityThresholdNotMet marks retry exhaustion caused by a
	// non-passing evaluator verdict rather than a named failure above; not
	// itself an error (the evaluator ran successfully), just the reason a
	// run ran out of attempts.
	ErrorKindQualityThresholdNotMet = "quality_threshold_not_met"
)

// Default per-stage deadlines (spec.md §5), used when config leaves a
// stage's entry unset.
var defaultStageDeadlines = map[string]time.Duration{
	"formulating": 15 * time.Second,
	"searching":   10 * time.Second,
	"generating":  30 * time.Second,
	"evaluating":  20 * time.Second,
}

// ErrConversationNotFound is returned by Trigger when no conversation
// with the requested id exists.
var ErrConversationNotFound = errors.New("workflow: conversation not found")

// ErrInvalidState is returned by Trigger when the conversation is not in
// a state that can accept a new run (e.g. already completed).
var ErrInvalidState = errors.New("workflow: conversation is not in a triggerable state")

// ErrRunInProgress is returned by Trigger when the conversation already
// has an in-flight run (error kind run_in_progress, spec.md §7).
var ErrRunInProgress = errors.New(ErrorKindRunInProgress)

// TriggerRequest is the Run request named by spec.md §6.
type TriggerRequest struct {
	ConversationID   domain.ConversationID
	RepresentativeID string
	History          []domain.Message
	Force            bool
}

// TriggerResult is the synchronous response to a Trigger call. Status is
// "started" or "not_triggered"; Handle is non-nil only when Status is
// "started".
type TriggerResult struct {
	RunID  domain.RunID
	Status string
	Handle *Handle
}

// Trigger evaluates a run request: it loads the conversation, acquires
// the single-flight slot, runs trigger detection, and either returns
// "not_triggered" synchronously or starts the FORMULATING..EVALUATING
// loop in the background and returns a Handle to track it.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	conv, err := e.store.LoadConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
		}
		return nil, fmt.Errorf("workflow: loading conversation %s: %w", req.ConversationID, err)
	}
	if conv.Status == domain.ConversationCompleted {
		return nil, fmt.Errorf("%w: conversation %s is completed", ErrInvalidState, req.ConversationID)
	}

	runID := domain.RunID(uuid.NewString())
	if err := e.guard.Acquire(req.ConversationID, runID); err != nil {
		return nil, ErrRunInProgress
	}

	verdict := trigger.Detect(toTriggerMessages(req.History), e.cfg.NormalizedTriggerPhrases(), req.Force)
	if !verdict.Triggered {
		e.guard.Release(req.ConversationID, runID)
		run := &domain.WorkflowRun{
			ConversationID: req.ConversationID,
			RunID:          runID,
			StartedAt:      now(),
			Terminal:       domain.RunAborted,
			ErrorKind:      ErrorKindNotTriggered,
		}
		_ = e.store.SaveRun(ctx, run)
		return &TriggerResult{RunID: runID, Status: "not_triggered"}, nil
	}

	h := newHandle(runID)
	run := &domain.WorkflowRun{
		ConversationID: req.ConversationID,
		RunID:          runID,
		StartedAt:      now(),
	}

	e.publish(ctx, req.ConversationID, stream.WorkflowStarted{
		Base: stream.NewBase(stream.EventWorkflowStarted, string(req.ConversationID), string(runID), stream.WorkflowStartedPayload{
			MatchedPhrase: verdict.MatchedPhrase,
			Forced:        verdict.Forced,
		}),
		Data: stream.WorkflowStartedPayload{MatchedPhrase: verdict.MatchedPhrase, Forced: verdict.Forced},
	})

	go e.runLoop(h, req, run)

	return &TriggerResult{RunID: runID, Status: "started", Handle: h}, nil
}

func (e *Engine) runLoop(h *Handle, req TriggerRequest, run *domain.WorkflowRun) {
	defer e.guard.Release(req.ConversationID, run.RunID)
	defer h.finish()

	ctx, cancel := context.WithTimeout(h.ctx, e.cfg.Deadlines.OverallRun())
	defer cancel()

	var priorAttempts []query.PriorAttempt
	var priorFeedback []string
	attemptIndex := 0

	for {
		if ctx.Err() != nil {
			e.abort(ctx, req.ConversationID, run, attemptIndex)
			h.fail(ErrorKindCancelled)
			return
		}
		attemptIndex++
		run.AttemptCount = attemptIndex

		outcome := e.runAttempt(ctx, req, run, attemptIndex, priorAttempts, priorFeedback)

		if outcome.cancelled {
			e.abort(ctx, req.ConversationID, run, attemptIndex)
			h.fail(ErrorKindCancelled)
			return
		}
		if outcome.passed {
			e.succeed(ctx, req.ConversationID, run, outcome)
			h.succeed(outcome.resolution)
			return
		}

		priorAttempts = append(priorAttempts, query.PriorAttempt{
			AttemptIndex: attemptIndex,
			Query:        outcome.optimizedQuery,
			Feedback:     outcome.feedback,
		})
		priorFeedback = append(priorFeedback, outcome.feedback)

		if attemptIndex >= e.cfg.MaxAttempts {
			kind := outcome.errorKind
			if kind == "" {
				kind = ErrorKindQualityThresholdNotMet
			}
			e.fail(ctx, req.ConversationID, run, kind, attemptIndex)
			h.fail(kind)
			return
		}
		// RETRY -> FORMULATING (attempt++), no backoff delay.
	}
}

// attemptOutcome summarizes one FORMULATING..EVALUATING pass.
type attemptOutcome struct {
	passed         bool
	cancelled      bool
	errorKind      string
	feedback       string
	optimizedQuery string
	resolution     *domain.Resolution
}

func (e *Engine) runAttempt(ctx context.Context, req TriggerRequest, run *domain.WorkflowRun, attemptIndex int, prior []query.PriorAttempt, priorFeedback []string) attemptOutcome {
	attempt := &domain.RunAttempt{RunID: run.RunID, AttemptIndex: attemptIndex}

	// FORMULATING
	e.stageStart(ctx, run.RunID, "formulating")
	qctx, qcancel := context.WithTimeout(ctx, e.stageDeadline("formulating"))
	qres, err := e.query.Formulate(qctx, req.History, prior)
	qcancel()
	e.stageFinish(ctx, run.RunID, "formulating", err)
	if ctx.Err() != nil {
		return attemptOutcome{cancelled: true}
	}
	if err != nil {
		kind := classifyStageError(qctx, err, ErrorKindModelUnavailable)
		attempt.Feedback = kind
		attempt.Sealed = true
		attempt.SealedAt = now()
		e.writeAttempt(ctx, attempt)
		return attemptOutcome{errorKind: kind, feedback: kind}
	}
	attempt.OptimizedQuery = qres.OptimizedQuery
	attempt.QueryMetadata = qres.Metadata
	e.writeAttempt(ctx, attempt)
	e.publish(ctx, req.ConversationID, stream.QueryOptimized{
		Base: stream.NewBase(stream.EventQueryOptimized, string(req.ConversationID), string(run.RunID), stream.QueryOptimizedPayload{AttemptIndex: attemptIndex, Query: qres.OptimizedQuery}),
		Data: stream.QueryOptimizedPayload{AttemptIndex: attemptIndex, Query: qres.OptimizedQuery},
	})

	// SEARCHING
	e.stageStart(ctx, run.RunID, "searching")
	searchDeadline := e.cfg.Deadlines.Search()
	if searchDeadline <= 0 {
		searchDeadline = defaultStageDeadlines["searching"]
	}
	sres := e.search.Search(ctx, qres.OptimizedQuery, e.cfg.SearchTopK, searchDeadline)
	e.stageFinish(ctx, run.RunID, "searching", nil)
	if ctx.Err() != nil {
		return attemptOutcome{cancelled: true}
	}
	attempt.SourceResults = sres.Results
	attempt.SourceErrors = sres.SourceErrors
	e.writeAttempt(ctx, attempt)
	e.publish(ctx, req.ConversationID, stream.SearchComplete{
		Base: stream.NewBase(stream.EventSearchComplete, string(req.ConversationID), string(run.RunID), stream.SearchCompletePayload{AttemptIndex: attemptIndex, ResultCount: len(sres.Results), SourceErrors: sres.SourceErrors}),
		Data: stream.SearchCompletePayload{AttemptIndex: attemptIndex, ResultCount: len(sres.Results), SourceErrors: sres.SourceErrors},
	})

	// GENERATING
	e.stageStart(ctx, run.RunID, "generating")
	gctx, gcancel := context.WithTimeout(ctx, e.stageDeadline("generating"))
	gres, err := e.generate.Generate(gctx, qres.OptimizedQuery, sres.Results, priorFeedback)
	gcancel()
	e.stageFinish(ctx, run.RunID, "generating", err)
	if ctx.Err() != nil {
		return attemptOutcome{cancelled: true}
	}
	if err != nil {
		kind := ErrorKindNoSources
		if !errors.Is(err, resolution.ErrNoSources) {
			kind = classifyStageError(gctx, err, ErrorKindModelUnavailable)
		}
		attempt.Feedback = kind
		attempt.Sealed = true
		attempt.SealedAt = now()
		e.writeAttempt(ctx, attempt)
		return attemptOutcome{errorKind: kind, feedback: kind}
	}
	validCitations, anyDiscarded := resolution.ValidateCitations(gres, sres.Results)
	if anyDiscarded {
		attempt.ResolutionText = gres.Text
		attempt.Feedback = ErrorKindCitationInvalid
		attempt.Sealed = true
		attempt.SealedAt = now()
		e.writeAttempt(ctx, attempt)
		return attemptOutcome{errorKind: ErrorKindCitationInvalid, feedback: ErrorKindCitationInvalid}
	}
	attempt.ResolutionText = gres.Text
	attempt.Citations = validCitations
	e.writeAttempt(ctx, attempt)
	e.publish(ctx, req.ConversationID, stream.ResolutionGenerated{
		Base: stream.NewBase(stream.EventResolutionGenerated, string(req.ConversationID), string(run.RunID), stream.ResolutionGeneratedPayload{AttemptIndex: attemptIndex, CitationCount: len(validCitations)}),
		Data: stream.ResolutionGeneratedPayload{AttemptIndex: attemptIndex, CitationCount: len(validCitations)},
	})

	// EVALUATING
	e.stageStart(ctx, run.RunID, "evaluating")
	ectx, ecancel := context.WithTimeout(ctx, e.stageDeadline("evaluating"))
	verdict, err := e.evaluate.Evaluate(ectx, qres.OptimizedQuery, gres.Text, sres.Results, len(validCitations))
	ecancel()
	e.stageFinish(ctx, run.RunID, "evaluating", err)
	if ctx.Err() != nil {
		return attemptOutcome{cancelled: true}
	}
	if err != nil {
		attempt.Feedback = ErrorKindEvaluatorUnavailable
		attempt.Sealed = true
		attempt.SealedAt = now()
		e.writeAttempt(ctx, attempt)
		return attemptOutcome{errorKind: ErrorKindEvaluatorUnavailable, feedback: ErrorKindEvaluatorUnavailable}
	}
	attempt.Scores = verdict.Scores
	attempt.GuardrailsOK = verdict.GuardrailsPassed
	attempt.Passed = verdict.Passed
	attempt.Feedback = verdict.Feedback
	attempt.Sealed = true
	attempt.SealedAt = now()
	e.writeAttempt(ctx, attempt)
	e.publish(ctx, req.ConversationID, stream.EvaluationComplete{
		Base: stream.NewBase(stream.EventEvaluationComplete, string(req.ConversationID), string(run.RunID), stream.EvaluationCompletePayload{AttemptIndex: attemptIndex, Scores: verdict.Scores, Passed: verdict.Passed, Feedback: verdict.Feedback}),
		Data: stream.EvaluationCompletePayload{AttemptIndex: attemptIndex, Scores: verdict.Scores, Passed: verdict.Passed, Feedback: verdict.Feedback},
	})

	if !verdict.Passed {
		return attemptOutcome{errorKind: "", feedback: verdict.Feedback}
	}

	res := &domain.Resolution{
		ConversationID: req.ConversationID,
		RunID:          run.RunID,
		AttemptIndex:   attemptIndex,
		Text:           gres.Text,
		Citations:      validCitations,
		Scores:         verdict.Scores,
		PendingReview:  true,
		GeneratedAt:    now(),
	}
	if err := e.store.SaveResolution(ctx, res); err != nil {
		return attemptOutcome{errorKind: ErrorKindPersistenceError, feedback: ErrorKindPersistenceError}
	}
	run.Verdict = verdict
	return attemptOutcome{passed: true, resolution: res, optimizedQuery: qres.OptimizedQuery}
}

func (e *Engine) writeAttempt(ctx context.Context, attempt *domain.RunAttempt) {
	_ = e.store.SaveAttempt(ctx, attempt)
}

func (e *Engine) succeed(ctx context.Context, conversationID domain.ConversationID, run *domain.WorkflowRun, outcome attemptOutcome) {
	run.Terminal = domain.RunSucceeded
	_ = e.store.SaveRun(ctx, run)
	e.publish(ctx, conversationID, stream.WorkflowComplete{
		Base: stream.NewBase(stream.EventWorkflowComplete, string(conversationID), string(run.RunID), stream.WorkflowCompletePayload{AttemptCount: run.AttemptCount}),
		Data: stream.WorkflowCompletePayload{AttemptCount: run.AttemptCount},
	})
}

func (e *Engine) fail(ctx context.Context, conversationID domain.ConversationID, run *domain.WorkflowRun, errorKind string, attemptCount int) {
	run.Terminal = domain.RunFailed
	run.ErrorKind = errorKind
	_ = e.store.SaveRun(ctx, run)
	e.publish(ctx, conversationID, stream.WorkflowFailed{
		Base: stream.NewBase(stream.EventWorkflowFailed, string(conversationID), string(run.RunID), stream.WorkflowFailedPayload{ErrorKind: errorKind, AttemptCount: attemptCount}),
		Data: stream.WorkflowFailedPayload{ErrorKind: errorKind, AttemptCount: attemptCount},
	})
}

// abort persists the cancelled run's terminal state. Per spec.md §8
// ("Cancellation during SEARCHING ⇒ ... no workflow_complete or
// workflow_failed emitted"), cancellation deliberately emits no stream
// event; an aborted run is visible only through persistence.
func (e *Engine) abort(ctx context.Context, conversationID domain.ConversationID, run *domain.WorkflowRun, attemptCount int) {
	run.Terminal = domain.RunAborted
	run.ErrorKind = ErrorKindCancelled
	run.AttemptCount = attemptCount
	_ = e.store.SaveRun(ctx, run)
}

func (e *Engine) publish(ctx context.Context, conversationID domain.ConversationID, event stream.Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ctx, string(conversationID), event)
}

func (e *Engine) stageStart(ctx context.Context, runID domain.RunID, stage string) {
	e.observer.StageStarted(ctx, string(runID), stage)
}

func (e *Engine) stageFinish(ctx context.Context, runID domain.RunID, stage string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.observer.StageFinished(ctx, string(runID), stage, outcome, err)
}

func (e *Engine) stageDeadline(stage string) time.Duration {
	if d := e.cfg.Deadlines.Stage(stage); d > 0 {
		return d
	}
	return defaultStageDeadlines[stage]
}

func classifyStageError(ctx context.Context, err error, fallback string) string {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrorKindStageTimeout
	}
	return fallback
}

// toTriggerMessages adapts domain.Message history to trigger.Message,
// kept local so the trigger package does not need to depend on domain.
func toTriggerMessages(history []domain.Message) []trigger.Message {
	msgs := make([]trigger.Message, len(history))
	for i, m := range history {
		msgs[i] = trigger.Message{Role: string(m.Role), Content: m.Content}
	}
	return msgs
}

var now = time.Now
