// Package mongo provides a MongoDB implementation of store.Store, giving
// the persistence port durability across restarts in place of the
// memory implementation's in-process maps.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/store"
)

// Store is a MongoDB-backed store.Store. Each domain record type is
// kept in its own collection; all Save* operations use ReplaceOne with
// upsert so repeated calls for the same primary key are idempotent.
type Store struct {
	runs          *mongo.Collection
	attempts      *mongo.Collection
	resolutions   *mongo.Collection
	conversations *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Collections bundles the four collections the store writes to. Callers
// typically derive these from a single *mongo.Database.
type Collections struct {
	Runs          *mongo.Collection
	Attempts      *mongo.Collection
	Resolutions   *mongo.Collection
	Conversations *mongo.Collection
}

// New builds a Store backed by the given collections.
func New(c Collections) *Store {
	return &Store{
		runs:          c.Runs,
		attempts:      c.Attempts,
		resolutions:   c.Resolutions,
		conversations: c.Conversations,
	}
}

type runDocument struct {
	ConversationID string      `bson:"conversation_id"`
	RunID          string      `bson:"_id"`
	StartedAt      time.Time   `bson:"started_at"`
	Terminal       string      `bson:"terminal,omitempty"`
	AttemptCount   int         `bson:"attempt_count"`
	Verdict        *verdictDoc `bson:"verdict,omitempty"`
	ErrorKind      string      `bson:"error_kind,omitempty"`
}

type verdictDoc struct {
	Scores           map[string]int `bson:"scores,omitempty"`
	GuardrailsPassed bool           `bson:"guardrails_passed"`
	Feedback         string         `bson:"feedback,omitempty"`
	Passed           bool           `bson:"passed"`
}

func (s *Store) SaveRun(ctx context.Context, run *domain.WorkflowRun) error {
	doc := runDocument{
		ConversationID: string(run.ConversationID),
		RunID:          string(run.RunID),
		StartedAt:      run.StartedAt,
		Terminal:       string(run.Terminal),
		AttemptCount:   run.AttemptCount,
		ErrorKind:      run.ErrorKind,
	}
	if run.Verdict != nil {
		doc.Verdict = &verdictDoc{
			Scores:           run.Verdict.Scores,
			GuardrailsPassed: run.Verdict.GuardrailsPassed,
			Feedback:         run.Verdict.Feedback,
			Passed:           run.Verdict.Passed,
		}
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.runs.ReplaceOne(ctx, bson.M{"_id": doc.RunID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save run %q: %w", run.RunID, err)
	}
	return nil
}

type attemptDocument struct {
	ID             string            `bson:"_id"`
	RunID          string            `bson:"run_id"`
	AttemptIndex   int               `bson:"attempt_index"`
	OptimizedQuery string            `bson:"optimized_query"`
	SourceErrors   map[string]string `bson:"source_errors,omitempty"`
	ResolutionText string            `bson:"resolution_text"`
	Scores         map[string]int    `bson:"scores,omitempty"`
	GuardrailsOK   bool              `bson:"guardrails_ok"`
	Passed         bool              `bson:"passed"`
	Feedback       string            `bson:"feedback,omitempty"`
	Sealed         bool              `bson:"sealed"`
	SealedAt       time.Time         `bson:"sealed_at,omitempty"`
}

func attemptDocID(runID domain.RunID, attemptIndex int) string {
	return fmt.Sprintf("%s:%d", runID, attemptIndex)
}

func (s *Store) SaveAttempt(ctx context.Context, attempt *domain.RunAttempt) error {
	doc := attemptDocument{
		ID:             attemptDocID(attempt.RunID, attempt.AttemptIndex),
		RunID:          string(attempt.RunID),
		AttemptIndex:   attempt.AttemptIndex,
		OptimizedQuery: attempt.OptimizedQuery,
		SourceErrors:   attempt.SourceErrors,
		ResolutionText: attempt.ResolutionText,
		Scores:         attempt.Scores,
		GuardrailsOK:   attempt.GuardrailsOK,
		Passed:         attempt.Passed,
		Feedback:       attempt.Feedback,
		Sealed:         attempt.Sealed,
		SealedAt:       attempt.SealedAt,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.attempts.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save attempt %q: %w", doc.ID, err)
	}
	return nil
}

type citationDoc struct {
	Label string `bson:"label"`
	URL   string `bson:"url"`
}

type resolutionDocument struct {
	ConversationID string         `bson:"conversation_id"`
	RunID          string         `bson:"_id"`
	AttemptIndex   int            `bson:"attempt_index"`
	Text           string         `bson:"text"`
	Citations      []citationDoc  `bson:"citations,omitempty"`
	Scores         map[string]int `bson:"scores,omitempty"`
	PendingReview  bool           `bson:"pending_review"`
	Approval       *approvalDoc   `bson:"approval,omitempty"`
	GeneratedAt    time.Time      `bson:"generated_at"`
}

type approvalDoc struct {
	Action           string    `bson:"action"`
	Feedback         string    `bson:"feedback,omitempty"`
	RepresentativeID string    `bson:"representative_id"`
	Timestamp        time.Time `bson:"timestamp"`
}

func (s *Store) SaveResolution(ctx context.Context, resolution *domain.Resolution) error {
	citations := make([]citationDoc, len(resolution.Citations))
	for i, c := range resolution.Citations {
		citations[i] = citationDoc{Label: c.Label, URL: c.URL}
	}
	doc := resolutionDocument{
		ConversationID: string(resolution.ConversationID),
		RunID:          string(resolution.RunID),
		AttemptIndex:   resolution.AttemptIndex,
		Text:           resolution.Text,
		Citations:      citations,
		Scores:         resolution.Scores,
		PendingReview:  resolution.PendingReview,
		GeneratedAt:    resolution.GeneratedAt,
	}
	if resolution.Approval != nil {
		doc.Approval = &approvalDoc{
			Action:           string(resolution.Approval.Action),
			Feedback:         resolution.Approval.Feedback,
			RepresentativeID: resolution.Approval.RepresentativeID,
			Timestamp:        resolution.Approval.Timestamp,
		}
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.resolutions.ReplaceOne(ctx, bson.M{"_id": doc.RunID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save resolution %q: %w", resolution.RunID, err)
	}
	return nil
}

type conversationDocument struct {
	ID               string    `bson:"_id"`
	RepresentativeID string    `bson:"representative_id,omitempty"`
	CustomerID       string    `bson:"customer_id,omitempty"`
	Channel          string    `bson:"channel"`
	Status           string    `bson:"status"`
	CreatedAt        time.Time `bson:"created_at"`
}

func (s *Store) SaveConversation(ctx context.Context, conversation *domain.Conversation) error {
	doc := conversationDocument{
		ID:               string(conversation.ID),
		RepresentativeID: conversation.RepresentativeID,
		CustomerID:       conversation.CustomerID,
		Channel:          string(conversation.Channel),
		Status:           string(conversation.Status),
		CreatedAt:        conversation.CreatedAt,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.conversations.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save conversation %q: %w", conversation.ID, err)
	}
	return nil
}

func (s *Store) LoadConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	var doc conversationDocument
	err := s.conversations.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb load conversation %q: %w", id, err)
	}
	return &domain.Conversation{
		ID:               domain.ConversationID(doc.ID),
		RepresentativeID: doc.RepresentativeID,
		CustomerID:       doc.CustomerID,
		Channel:          domain.ChannelTag(doc.Channel),
		Status:           domain.ConversationStatus(doc.Status),
		CreatedAt:        doc.CreatedAt,
	}, nil
}

// MarkAbandonedRunsAborted updates every run document whose terminal
// field is empty to "aborted", returning the affected run ids. Intended
// to run once at startup before the engine accepts new triggers.
func (s *Store) MarkAbandonedRunsAborted(ctx context.Context) ([]domain.RunID, error) {
	filter := bson.M{"$or": []bson.M{
		{"terminal": bson.M{"$exists": false}},
		{"terminal": ""},
	}}

	cursor, err := s.runs.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb find abandoned runs: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode abandoned runs: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]domain.RunID, len(docs))
	for i, d := range docs {
		ids[i] = domain.RunID(d.RunID)
	}

	update := bson.M{"$set": bson.M{
		"terminal":   string(domain.RunAborted),
		"error_kind": "persistence_error",
	}}
	if _, err := s.runs.UpdateMany(ctx, filter, update); err != nil {
		return nil, fmt.Errorf("mongodb mark abandoned runs: %w", err)
	}
	return ids, nil
}
