// Package openai adapts OpenAI-compatible chat completion endpoints to the
// normalized fragment contract. It speaks the generic chat-array shape:
// continuation rounds resend the full history with role="tool" result
// messages.
package openai

import (
	"context"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// Adapter implements llm.StreamAdapter over the go-openai SDK. It also
// serves any OpenAI-compatible endpoint through ClientConfig.BaseURL.
type Adapter struct {
	client   *openai.Client
	model    string
	provider string
	norm     stream.Normalizer
}

// New creates an OpenAI chat adapter.
func New(config llm.ClientConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for OpenAI",
			Type:    "authentication_error",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	provider := config.Provider
	if provider == "" {
		provider = "openai"
	}

	return &Adapter{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    config.Model,
		provider: provider,
	}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider: a.provider,
		Family:   llm.FamilyChat,
		Model:    a.model,
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

func (a *Adapter) buildRequest(prompt string, opts llm.GenerateOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	for _, msg := range opts.History {
		messages = append(messages, convertMessage(msg))
	}
	if prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolType(tool.Type),
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return req
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(msg.Role),
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolType(tc.Type),
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if name, ok := msg.Metadata["tool_name"].(string); ok {
		out.Name = name
	}
	return out
}

func convertChunk(resp openai.ChatCompletionStreamResponse) (stream.Delta, bool) {
	var delta stream.Delta
	emit := false

	if resp.ID != "" {
		delta.ResponseID = resp.ID
	}

	// A usage-only chunk has no choices; it arrives last when
	// StreamOptions.IncludeUsage is set.
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
		for i, tc := range choice.Delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
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
	if apiErr, ok := err.(*openai.APIError); ok {
		code := "unknown"
		if apiErr.Code != nil {
			if codeStr, ok := apiErr.Code.(string); ok {
				code = codeStr
			}
		}
		return &llm.Error{
			Code:       code,
			Message:    apiErr.Message,
			Type:       apiErr.Type,
			StatusCode: apiErr.HTTPStatusCode,
		}
	}
	return &llm.Error{
		Code:    "unknown_error",
		Message: err.Error(),
		Type:    "api_error",
	}
}
