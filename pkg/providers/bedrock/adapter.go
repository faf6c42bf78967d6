// Package bedrock adapts Anthropic models served through AWS Bedrock.
// Bedrock Claude speaks the messages protocol: an inline-block provider
// where tool results travel as typed tool_result blocks inside a role="user"
// message, and extended thinking streams as dedicated thinking blocks with a
// signature that accompanies the turn.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

const (
	anthropicVersion = "bedrock-2023-05-31"

	// defaultMaxTokens applies when the request does not cap output size;
	// the messages protocol requires an explicit maximum.
	defaultMaxTokens = 4096

	defaultThinkingBudget = 2048
)

// Adapter implements llm.StreamAdapter over the Bedrock runtime.
type Adapter struct {
	runtime *bedrockruntime.Client
	model   string
	region  string
	norm    stream.Normalizer
}

// New creates a Bedrock adapter. Credentials resolve through the AWS
// default chain; the region comes from ClientConfig.Extra["region"].
func New(config llm.ClientConfig) (*Adapter, error) {
	region := "us-east-1"
	if config.Extra != nil {
		if r, ok := config.Extra["region"]; ok && r != "" {
			region = r
		}
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, &llm.Error{
			Code:    "aws_config_error",
			Message: "Failed to load AWS configuration: " + err.Error(),
			Type:    "authentication_error",
		}
	}

	runtime := bedrockruntime.NewFromConfig(awsConfig, func(o *bedrockruntime.Options) {
		if config.Extra != nil {
			if endpoint, ok := config.Extra["bedrock_runtime_endpoint"]; ok && endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}
		if config.BaseURL != "" {
			o.BaseEndpoint = aws.String(config.BaseURL)
		}
	})

	return &Adapter{
		runtime: runtime,
		model:   config.Model,
		region:  region,
	}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider:         "bedrock",
		Family:           llm.FamilyInlineBlock,
		Model:            a.model,
		SupportsThinking: true,
	}
}

// Close implements llm.StreamAdapter.
func (a *Adapter) Close() error {
	return nil
}

// GenerateStream implements llm.StreamAdapter.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamFragment, error) {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	payload, err := buildMessagesPayload(prompt, opts)
	if err != nil {
		return nil, err
	}

	response, err := a.runtime.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, convertError(err)
	}

	deltas := make(chan stream.Delta, 10)
	go func() {
		defer close(deltas)

		send := func(d stream.Delta) bool {
			select {
			case deltas <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		state := newEventState()
		for event := range response.GetStream().Events() {
			switch v := event.(type) {
			case *types.ResponseStreamMemberChunk:
				delta, emit, err := state.apply(v.Value.Bytes)
				if err != nil {
					send(stream.Delta{Err: convertError(err)})
					return
				}
				if !emit {
					continue
				}
				if delta.Usage != nil && opts.OnUsage != nil {
					opts.OnUsage(*delta.Usage)
				}
				if !send(delta) {
					return
				}
			case *types.UnknownUnionMember:
				continue
			default:
				continue
			}
		}
		if err := response.GetStream().Err(); err != nil {
			send(stream.Delta{Err: convertError(err)})
		}
	}()

	return a.norm.Normalize(ctx, deltas), nil
}

func buildMessagesPayload(prompt string, opts llm.GenerateOptions) ([]byte, error) {
	req := messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        defaultMaxTokens,
		System:           opts.SystemPrompt,
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Temperature != nil {
		t := float64(*opts.Temperature)
		req.Temperature = &t
	}
	if opts.EnableThinking {
		req.Thinking = &thinkingConfig{
			Type:         "enabled",
			BudgetTokens: defaultThinkingBudget,
		}
	}

	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, messagesTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	for _, msg := range opts.History {
		converted, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, converted)
	}
	if prompt != "" {
		req.Messages = append(req.Messages, messagesMessage{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: prompt}},
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &llm.Error{
			Code:    "request_encoding_error",
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	return payload, nil
}

// convertMessage maps one neutral message onto the messages protocol. Tool
// results arrive as ResultBlocks inside a user message; tool calls become
// tool_use blocks on the assistant turn.
func convertMessage(msg llm.Message) (messagesMessage, error) {
	switch msg.Role {
	case llm.RoleAssistant:
		var blocks []contentBlock
		if msg.Content != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var input json.RawMessage
			if tc.Function.Arguments != "" {
				input = json.RawMessage(tc.Function.Arguments)
			} else {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, contentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: input,
			})
		}
		return messagesMessage{Role: "assistant", Content: blocks}, nil

	case llm.RoleUser:
		if len(msg.ResultBlocks) > 0 {
			blocks := make([]contentBlock, 0, len(msg.ResultBlocks))
			for _, rb := range msg.ResultBlocks {
				blocks = append(blocks, contentBlock{
					Type:      "tool_result",
					ToolUseID: rb.ToolCallID,
					Content:   rb.Content,
					IsError:   rb.IsError,
				})
			}
			return messagesMessage{Role: "user", Content: blocks}, nil
		}
		return messagesMessage{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: msg.Content}},
		}, nil

	default:
		return messagesMessage{}, &llm.Error{
			Code:    "unsupported_role",
			Message: "role " + string(msg.Role) + " has no messages-protocol shape",
			Type:    "invalid_request_error",
		}
	}
}

func convertError(err error) *llm.Error {
	if ourErr, ok := err.(*llm.Error); ok {
		return ourErr
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &llm.Error{
				Code:       "rate_limit_error",
				Message:    apiErr.ErrorMessage(),
				Type:       "rate_limit_error",
				StatusCode: 429,
			}
		case "AccessDeniedException", "UnrecognizedClientException":
			return &llm.Error{
				Code:       "authentication_error",
				Message:    apiErr.ErrorMessage(),
				Type:       "authentication_error",
				StatusCode: 403,
			}
		case "ResourceNotFoundException":
			return &llm.Error{
				Code:       "model_not_found",
				Message:    apiErr.ErrorMessage(),
				Type:       "validation_error",
				StatusCode: 404,
			}
		case "ValidationException":
			return &llm.Error{
				Code:       "validation_error",
				Message:    apiErr.ErrorMessage(),
				Type:       "validation_error",
				StatusCode: 400,
			}
		}
		return &llm.Error{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Type:    "api_error",
		}
	}

	return &llm.Error{
		Code:    "api_error",
		Message: err.Error(),
		Type:    "api_error",
	}
}
