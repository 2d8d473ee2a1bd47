// Package redissink implements stream.Sink over Redis pub/sub
// (github.com/redis/go-redis/v9), giving the event backplane a
// cross-process transport without depending on Goa's Pulse scaffolding.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/repassist-ai/orchestrator/internal/stream"
)

// Sink publishes stream.Event values to a per-conversation Redis channel.
type Sink struct {
	client        redis.UniversalClient
	channelPrefix string
}

// New builds a Redis-backed Sink. channelPrefix namespaces channel names
// (e.g. "repassist:events:") to avoid colliding with other pub/sub users
// on the same Redis instance.
func New(client redis.UniversalClient, channelPrefix string) *Sink {
	if channelPrefix == "" {
		channelPrefix = "repassist:events:"
	}
	return &Sink{client: client, channelPrefix: channelPrefix}
}

// wireEvent is the JSON envelope published to Redis; it flattens the
// stream.Event interface into a concrete, decodable shape.
type wireEvent struct {
	Type           stream.EventType `json:"type"`
	ConversationID string           `json:"conversation_id"`
	RunID          string           `json:"run_id"`
	Payload        any              `json:"payload"`
}

// Publish marshals event and publishes it on this conversation's channel.
// Publish swallows marshal/transport errors after logging is the caller's
// responsibility to wire in; per the Sink contract it must never block or
// panic the workflow engine.
func (s *Sink) Publish(ctx context.Context, conversationID string, event stream.Event) {
	payload, err := json.Marshal(wireEvent{
		Type:           event.Type(),
		ConversationID: event.ConversationID(),
		RunID:          event.RunID(),
		Payload:        event.Payload(),
	})
	if err != nil {
		return
	}
	s.client.Publish(ctx, s.channel(conversationID), payload)
}

// Subscribe returns a Redis pub/sub subscription for conversationID's
// channel. Callers must call Close on the returned *redis.PubSub.
func (s *Sink) Subscribe(ctx context.Context, conversationID string) *redis.PubSub {
	return s.client.Subscribe(ctx, s.channel(conversationID))
}

func (s *Sink) channel(conversationID string) string {
	return fmt.Sprintf("%s%s", s.channelPrefix, conversationID)
}

// Close releases the underlying Redis client.
func (s *Sink) Close(_ context.Context) error {
	return s.client.Close()
}
