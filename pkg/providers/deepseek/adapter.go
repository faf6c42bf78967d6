// Package deepseek adapts the DeepSeek API. DeepSeek follows the generic
// chat-array shape and streams reasoning tokens in a dedicated
// reasoning_content delta field alongside regular content.
package deepseek

import (
	"context"
	"io"

	"github.com/cohesion-org/deepseek-go"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// Adapter implements llm.StreamAdapter over deepseek-go.
type Adapter struct {
	client *deepseek.Client
	model  string
	norm   stream.Normalizer
}

// New creates a DeepSeek adapter.
func New(config llm.ClientConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for DeepSeek",
			Type:    "authentication_error",
		}
	}

	var opts []deepseek.Option
	if config.BaseURL != "" {
		opts = append(opts, deepseek.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, deepseek.WithTimeout(config.Timeout))
	}

	var client *deepseek.Client
	if len(opts) > 0 {
		var err error
		client, err = deepseek.NewClientWithOptions(config.APIKey, opts...)
		if err != nil {
			return nil, &llm.Error{
				Code:    "client_creation_error",
				Message: "Failed to create DeepSeek client: " + err.Error(),
				Type:    "configuration_error",
			}
		}
	} else {
		client = deepseek.NewClient(config.APIKey)
	}

	return &Adapter{client: client, model: config.Model}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider:         "deepseek",
		Family:           llm.FamilyChat,
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
	req := a.buildRequest(prompt, opts)

	sdkStream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, convertError(err)
	}

	deltas := make(chan stream.Delta, 10)
	go func() {
		defer close(deltas)
		defer func() { _ = sdkStream.Close() }()

		for {
			resp, err := sdkStream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case deltas <- stream.Delta{Err: convertError(err)}:
				case <-ctx.Done():
				}
				return
			}

			delta, emit := convertChunk(resp)
			if !emit {
				continue
			}
			if delta.Usage != nil && opts.OnUsage != nil {
				opts.OnUsage(*delta.Usage)
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return a.norm.Normalize(ctx, deltas), nil
}

func (a *Adapter) buildRequest(prompt string, opts llm.GenerateOptions) *deepseek.StreamChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	messages := make([]deepseek.ChatCompletionMessage, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, deepseek.ChatCompletionMessage{
			Role:    "system",
			Content: opts.SystemPrompt,
		})
	}
	for _, msg := range opts.History {
		messages = append(messages, convertMessage(msg))
	}
	if prompt != "" {
		messages = append(messages, deepseek.ChatCompletionMessage{
			Role:    "user",
			Content: prompt,
		})
	}

	req := &deepseek.StreamChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, deepseek.Tool{
			Type: tool.Type,
			Function: deepseek.Function{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  convertToolParameters(tool.Function.Parameters),
			},
		})
	}
	return req
}

func convertMessage(msg llm.Message) deepseek.ChatCompletionMessage {
	out := deepseek.ChatCompletionMessage{
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	for i, tc := range msg.ToolCalls {
		// DeepSeek requires an index on replayed tool calls.
		out.ToolCalls = append(out.ToolCalls, deepseek.ToolCall{
			Index: i,
			ID:    tc.ID,
			Type:  tc.Type,
			Function: deepseek.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

// convertToolParameters narrows a generic JSON-schema map into the SDK's
// parameter struct.
func convertToolParameters(params any) *deepseek.FunctionParameters {
	if params == nil {
		return nil
	}
	paramMap, ok := params.(map[string]any)
	if !ok {
		return &deepseek.FunctionParameters{Type: "object"}
	}

	result := &deepseek.FunctionParameters{Type: "object"}
	if typeVal, ok := paramMap["type"].(string); ok {
		result.Type = typeVal
	}
	if props, ok := paramMap["properties"].(map[string]any); ok {
		result.Properties = props
	}
	if required, ok := paramMap["required"].([]string); ok {
		result.Required = required
	} else if requiredAny, ok := paramMap["required"].([]any); ok {
		for _, r := range requiredAny {
			if s, ok := r.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertChunk(resp *deepseek.StreamChatCompletionResponse) (stream.Delta, bool) {
	var delta stream.Delta
	emit := false

	if resp == nil {
		return delta, false
	}

	if resp.Usage != nil {
		delta.Usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		emit = true
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			delta.Content = choice.Delta.Content
			emit = true
		}
		if choice.Delta.ReasoningContent != "" {
			delta.Reasoning = choice.Delta.ReasoningContent
			emit = true
		}
		for _, tc := range choice.Delta.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, llm.ToolCallDelta{
				Index: tc.Index,
				ID:    tc.ID,
				Type:  tc.Type,
				Function: &llm.ToolCallFunctionDelta{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
			emit = true
		}
		if choice.FinishReason != "" {
			delta.FinishReason = choice.FinishReason
			emit = true
		}
	}

	return delta, emit
}

func convertError(err error) *llm.Error {
	if ourErr, ok := err.(*llm.Error); ok {
		return ourErr
	}
	return &llm.Error{
		Code:    "api_error",
		Message: err.Error(),
		Type:    "api_error",
	}
}
