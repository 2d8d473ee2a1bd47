// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, using github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/repassist-ai/orchestrator/internal/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	highModel    string
	smallModel   string
	maxTokens    int
}

// New builds a Bedrock-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTokens:    maxTokens,
	}, nil
}

// Complete issues a Converse request and translates the response into a
// model.Response.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req.Prompt == "" {
		return nil, errors.New("bedrock: prompt is required")
	}
	modelID := c.resolveModelID(req)
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTokens)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: &maxTokens,
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		input.InferenceConfig.Temperature = &temp
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	return translateOutput(out)
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

func translateOutput(out *bedrockruntime.ConverseOutput) (*model.Response, error) {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unexpected converse output shape")
	}
	var text string
	for _, block := range msgOutput.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	resp := &model.Response{Text: text}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.InputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.OutputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return resp, nil
}

func classifyError(err error) error {
	kind := model.ProviderErrorKindUnavailable
	retryable := true
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException":
			kind, retryable = model.ProviderErrorKindInvalidRequest, false
		case "AccessDeniedException":
			kind, retryable = model.ProviderErrorKindAuth, false
		case "ThrottlingException":
			kind, retryable = model.ProviderErrorKindRateLimited, true
		}
	}
	return model.NewProviderError("bedrock", "converse", kind, retryable, fmt.Errorf("%w", err))
}
