// Package openrouter adapts the OpenRouter aggregation API. OpenRouter
// follows the generic chat-array shape; reasoning-capable routed models
// stream reasoning tokens in a dedicated delta field, and the reasoning
// captured alongside a tool-call turn is replayed on the continuation
// request so the routed model keeps its chain of thought.
package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	openrouter "github.com/revrost/go-openrouter"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// Adapter implements llm.StreamAdapter over go-openrouter.
type Adapter struct {
	client *openrouter.Client
	model  string
	norm   stream.Normalizer
}

// New creates an OpenRouter adapter.
func New(config llm.ClientConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for OpenRouter",
			Type:    "authentication_error",
		}
	}

	clientConfig := openrouter.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Extra != nil {
		if siteURL, ok := config.Extra["site_url"]; ok {
			clientConfig.HttpReferer = siteURL
		}
		if appName, ok := config.Extra["app_name"]; ok {
			clientConfig.XTitle = appName
		}
	}

	return &Adapter{
		client: openrouter.NewClientWithConfig(*clientConfig),
		model:  config.Model,
	}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider:         "openrouter",
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
		defer sdkStream.Close()

		send := func(d stream.Delta) bool {
			select {
			case deltas <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Reasoning streamed before a tool-call turn is attached to the
		// first call so the builder can replay it on the next round.
		var reasoning strings.Builder
		sawToolCall := false

		for {
			resp, err := sdkStream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				send(stream.Delta{Err: convertError(err)})
				return
			}

			delta, emit := convertChunk(resp, &reasoning, &sawToolCall)
			if !emit {
				continue
			}
			if delta.Usage != nil && opts.OnUsage != nil {
				opts.OnUsage(*delta.Usage)
			}
			if !send(delta) {
				return
			}
		}

		if sawToolCall && reasoning.Len() > 0 {
			details, err := json.Marshal(reasoning.String())
			if err == nil {
				send(stream.Delta{ToolCalls: []llm.ToolCallDelta{{
					Index:            0,
					ReasoningDetails: details,
				}}})
			}
		}
	}()

	return a.norm.Normalize(ctx, deltas), nil
}

func (a *Adapter) buildRequest(prompt string, opts llm.GenerateOptions) openrouter.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	messages := make([]openrouter.ChatCompletionMessage, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleSystem,
			Content: openrouter.Content{Text: opts.SystemPrompt},
		})
	}
	for _, msg := range opts.History {
		messages = append(messages, convertMessage(msg))
	}
	if prompt != "" {
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleUser,
			Content: openrouter.Content{Text: prompt},
		})
	}

	req := openrouter.ChatCompletionRequest{
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
	if opts.EnableThinking {
		effort := opts.ThinkingEffort
		if effort == "" {
			effort = "medium"
		}
		req.Reasoning = &openrouter.ChatCompletionReasoning{Effort: &effort}
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, openrouter.Tool{
			Type: openrouter.ToolType(tool.Type),
			Function: &openrouter.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return req
}

func convertMessage(msg llm.Message) openrouter.ChatCompletionMessage {
	out := openrouter.ChatCompletionMessage{
		Role:       string(msg.Role),
		Content:    openrouter.Content{Text: msg.Content},
		ToolCallID: msg.ToolCallID,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openrouter.ToolCall{
			ID:   tc.ID,
			Type: openrouter.ToolType(tc.Type),
			Function: openrouter.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
		// Replay the reasoning captured with the original call turn.
		if out.Reasoning == nil && len(tc.ReasoningDetails) > 0 {
			var text string
			if err := json.Unmarshal(tc.ReasoningDetails, &text); err == nil && text != "" {
				out.Reasoning = &text
			}
		}
	}
	return out
}

func convertChunk(resp openrouter.ChatCompletionStreamResponse, reasoning *strings.Builder, sawToolCall *bool) (stream.Delta, bool) {
	var delta stream.Delta
	emit := false

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
		if choice.Delta.Reasoning != nil && *choice.Delta.Reasoning != "" {
			delta.Reasoning = *choice.Delta.Reasoning
			reasoning.WriteString(*choice.Delta.Reasoning)
			emit = true
		}
		for i, tc := range choice.Delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			*sawToolCall = true
			delta.ToolCalls = append(delta.ToolCalls, llm.ToolCallDelta{
				Index: index,
				ID:    tc.ID,
				Type:  string(tc.Type),
				Function: &llm.ToolCallFunctionDelta{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
			emit = true
		}
		if choice.FinishReason != "" {
			delta.FinishReason = string(choice.FinishReason)
			emit = true
		}
	}

	return delta, emit
}

func convertError(err error) *llm.Error {
	if ourErr, ok := err.(*llm.Error); ok {
		return ourErr
	}

	if apiErr, ok := err.(*openrouter.APIError); ok {
		errorType := "api_error"
		errorCode := "openrouter_api_error"
		switch apiErr.HTTPStatusCode {
		case 400:
			errorType = "validation_error"
			errorCode = "bad_request"
		case 401:
			errorType = "authentication_error"
			errorCode = "invalid_api_key"
		case 404:
			errorType = "model_error"
			errorCode = "model_not_found"
		case 429:
			errorType = "rate_limit_error"
			errorCode = "rate_limit_exceeded"
		}
		return &llm.Error{
			Code:       errorCode,
			Message:    apiErr.Message,
			Type:       errorType,
			StatusCode: apiErr.HTTPStatusCode,
		}
	}

	return &llm.Error{
		Code:    "openrouter_error",
		Message: err.Error(),
		Type:    "api_error",
	}
}
