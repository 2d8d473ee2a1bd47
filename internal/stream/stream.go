// Package stream delivers real-time workflow events to clients (a
// WebSocket gateway, a message bus, a UI) without the engine depending on
// any particular transport. Publish is non-blocking: a slow or absent
// subscriber must never stall the workflow engine.
package stream

import "context"

type (
	// Sink publishes workflow events to clients over a transport (SSE,
	// WebSocket, Redis pub/sub). Implementations must be safe for
	// concurrent use: the engine may publish from multiple in-flight runs
	// at once.
	Sink interface {
		// Publish delivers an event for the given conversation. It must not
		// block the caller; implementations that need to shed load drop the
		// oldest queued event to make room for the newest one, so a stalled
		// consumer cannot stall the workflow engine.
		Publish(ctx context.Context, conversationID string, event Event)

		// Close releases resources owned by the sink. Idempotent.
		Close(ctx context.Context) error
	}

	// Event describes a single workflow occurrence delivered to clients.
	// All concrete event kinds embed Base.
	Event interface {
		Type() EventType
		ConversationID() string
		RunID() string
		Payload() any
	}

	// Base provides the default Event implementation; concrete event kinds
	// embed it to avoid boilerplate accessors.
	Base struct {
		t   EventType
		cID string
		r   string
		p   any
	}
)

// EventType enumerates the stream event kinds named by spec.md §6.
type EventType string

const (
	EventWorkflowStarted     EventType = "workflow_started"
	EventQueryOptimized      EventType = "query_optimized"
	EventSearchComplete      EventType = "search_complete"
	EventResolutionGenerated EventType = "resolution_generated"
	EventEvaluationComplete  EventType = "evaluation_complete"
	EventWorkflowComplete    EventType = "workflow_complete"
	EventWorkflowFailed      EventType = "workflow_failed"
)

// NewBase constructs a Base event.
func NewBase(t EventType, conversationID, runID string, payload any) Base {
	return Base{t: t, cID: conversationID, r: runID, p: payload}
}

func (b Base) Type() EventType        { return b.t }
func (b Base) ConversationID() string { return b.cID }
func (b Base) RunID() string          { return b.r }
func (b Base) Payload() any           { return b.p }

type (
	// WorkflowStarted marks the beginning of a triggered run.
	WorkflowStarted struct {
		Base
		Data WorkflowStartedPayload
	}
	WorkflowStartedPayload struct {
		MatchedPhrase string `json:"matched_phrase,omitempty"`
		Forced        bool   `json:"forced"`
	}

	// QueryOptimized reports the optimized query produced by C2 for one
	// attempt.
	QueryOptimized struct {
		Base
		Data QueryOptimizedPayload
	}
	QueryOptimizedPayload struct {
		AttemptIndex int    `json:"attempt_index"`
		Query        string `json:"query"`
	}

	// SearchComplete reports C3's fan-out outcome for one attempt.
	SearchComplete struct {
		Base
		Data SearchCompletePayload
	}
	SearchCompletePayload struct {
		AttemptIndex int               `json:"attempt_index"`
		ResultCount  int               `json:"result_count"`
		SourceErrors map[string]string `json:"source_errors,omitempty"`
	}

	// ResolutionGenerated reports C4's output for one attempt.
	ResolutionGenerated struct {
		Base
		Data ResolutionGeneratedPayload
	}
	ResolutionGeneratedPayload struct {
		AttemptIndex  int `json:"attempt_index"`
		CitationCount int `json:"citation_count"`
	}

	// EvaluationComplete reports C5's verdict for one attempt.
	EvaluationComplete struct {
		Base
		Data EvaluationCompletePayload
	}
	EvaluationCompletePayload struct {
		AttemptIndex int            `json:"attempt_index"`
		Scores       map[string]int `json:"scores"`
		Passed       bool           `json:"passed"`
		Feedback     string         `json:"feedback,omitempty"`
	}

	// WorkflowComplete marks a successful run's terminal state.
	WorkflowComplete struct {
		Base
		Data WorkflowCompletePayload
	}
	WorkflowCompletePayload struct {
		AttemptCount int `json:"attempt_count"`
	}

	// WorkflowFailed marks a failed run's terminal state. Aborted runs emit
	// no terminal event.
	WorkflowFailed struct {
		Base
		Data WorkflowFailedPayload
	}
	WorkflowFailedPayload struct {
		ErrorKind    string `json:"error_kind"`
		AttemptCount int    `json:"attempt_count"`
	}
)
