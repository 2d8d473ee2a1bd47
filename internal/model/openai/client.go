// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API using github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/repassist-ai/orchestrator/internal/model"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, satisfied by the generated Chat Completions service.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
	highModel    string
	smallModel   string
}

// New builds an OpenAI-backed model client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, highModel: opts.HighModel, smallModel: opts.SmallModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// client, authenticated with the given apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req.Prompt == "" {
		return nil, errors.New("openai: prompt is required")
	}
	modelID := c.resolveModelID(req)
	messages := []oai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, model.NewProviderError("openai", "chat.completions.new", model.ProviderErrorKindUnavailable, true, fmt.Errorf("%w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewProviderError("openai", "chat.completions.new", model.ProviderErrorKindUnknown, false, errors.New("no choices returned"))
	}
	return &model.Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}
