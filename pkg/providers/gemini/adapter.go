// Package gemini adapts the Gemini API to the normalized fragment contract.
// Gemini is a structured-parts provider: tool results travel as named
// function-response parts, history must alternate user/model turns, and
// function-call parts may carry an opaque thought signature that has to be
// echoed back byte-for-byte on the next turn.
package gemini

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/genai"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// Adapter implements llm.StreamAdapter over the genai SDK.
type Adapter struct {
	client *genai.Client
	model  string
	norm   stream.Normalizer
}

// New creates a Gemini adapter.
func New(config llm.ClientConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for Gemini",
			Type:    "authentication_error",
		}
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &llm.Error{
			Code:    "client_creation_failed",
			Message: err.Error(),
			Type:    "api_error",
		}
	}

	return &Adapter{
		client: client,
		model:  config.Model,
	}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider:         "gemini",
		Family:           llm.FamilyStructuredParts,
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

	config := a.buildConfig(opts)
	contents := convertHistory(opts.History)

	// The chat API takes prior turns as history and the current turn as the
	// message. A continuation round has no prompt; its current turn is the
	// trailing function-response content.
	var parts []genai.Part
	history := contents
	if prompt != "" {
		parts = []genai.Part{{Text: prompt}}
	} else if len(contents) > 0 {
		last := contents[len(contents)-1]
		history = contents[:len(contents)-1]
		parts = make([]genai.Part, len(last.Parts))
		for i, p := range last.Parts {
			parts[i] = *p
		}
	}
	if len(parts) == 0 {
		return nil, &llm.Error{
			Code:    "empty_request",
			Message: "nothing to send: no prompt and no history",
			Type:    "invalid_request_error",
		}
	}

	chat, err := a.client.Chats.Create(ctx, model, config, history)
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

		callIndex := 0
		sawToolCall := false
		var finish stream.Delta

		for response, err := range chat.SendMessageStream(ctx, parts...) {
			if err != nil {
				send(stream.Delta{Err: convertError(err)})
				return
			}

			if response.UsageMetadata != nil {
				finish.Usage = &llm.Usage{
					PromptTokens:     int(response.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(response.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(response.UsageMetadata.TotalTokenCount),
				}
			}

			if len(response.Candidates) == 0 {
				continue
			}
			candidate := response.Candidates[0]

			if candidate.Content != nil {
				for _, part := range candidate.Content.Parts {
					delta, calls := convertPart(part, &callIndex)
					if calls {
						sawToolCall = true
					}
					if delta.Content != "" || delta.Reasoning != "" || len(delta.ToolCalls) > 0 {
						if !send(delta) {
							return
						}
					}
				}
			}

			if candidate.FinishReason != "" {
				finish.FinishReason = convertFinishReason(candidate.FinishReason, sawToolCall)
			}
		}

		if finish.FinishReason == "" {
			finish.FinishReason = "stop"
			if sawToolCall {
				finish.FinishReason = "tool_calls"
			}
		}
		if finish.Usage != nil && opts.OnUsage != nil {
			opts.OnUsage(*finish.Usage)
		}
		send(finish)
	}()

	return a.norm.Normalize(ctx, deltas), nil
}

func (a *Adapter) buildConfig(opts llm.GenerateOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		config.Temperature = opts.Temperature
	}
	if opts.MaxTokens != nil {
		config.MaxOutputTokens = int32(*opts.MaxTokens)
	}
	if opts.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemPrompt}},
		}
	}
	if opts.EnableThinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if len(opts.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(opts.Tools))
		for _, tool := range opts.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tool.Function.Name,
				Description:          tool.Function.Description,
				ParametersJsonSchema: tool.Function.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return config
}

// convertPart maps one response part to a delta. Thought text becomes
// reasoning; function calls keep their signature so it survives the
// round trip.
func convertPart(part *genai.Part, callIndex *int) (stream.Delta, bool) {
	var delta stream.Delta

	if part.Text != "" {
		if part.Thought {
			delta.Reasoning = part.Text
		} else {
			delta.Content = part.Text
		}
	}

	if part.FunctionCall != nil {
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			args = []byte("{}")
		}
		delta.ToolCalls = []llm.ToolCallDelta{{
			Index: *callIndex,
			ID:    part.FunctionCall.ID,
			Type:  "function",
			Function: &llm.ToolCallFunctionDelta{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			},
			ThoughtSignature: string(part.ThoughtSignature),
		}}
		*callIndex++
		return delta, true
	}

	return delta, false
}

// convertHistory maps neutral messages to Gemini contents. The builder has
// already shaped the history into alternating turns; this is a mechanical
// translation of each role shape.
func convertHistory(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			contents = append(contents, assistantContent(msg))
		case llm.RoleFunction:
			contents = append(contents, functionResponseContent(msg))
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents
}

func assistantContent(msg llm.Message) *genai.Content {
	var parts []*genai.Part
	if msg.Content != "" {
		parts = append(parts, &genai.Part{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{"raw": tc.Function.Arguments}
		}
		part := &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			},
		}
		if tc.ThoughtSignature != "" {
			part.ThoughtSignature = []byte(tc.ThoughtSignature)
		}
		parts = append(parts, part)
	}
	return &genai.Content{Role: genai.RoleModel, Parts: parts}
}

func functionResponseContent(msg llm.Message) *genai.Content {
	parts := make([]*genai.Part, 0, len(msg.FunctionResponses))
	for _, fr := range msg.FunctionResponses {
		var response map[string]any
		if err := json.Unmarshal([]byte(fr.Response), &response); err != nil || response == nil {
			key := "result"
			if fr.IsError {
				key = "error"
			}
			response = map[string]any{key: fr.Response}
		}
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       fr.ID,
				Name:     fr.Name,
				Response: response,
			},
		})
	}
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

func convertFinishReason(reason genai.FinishReason, sawToolCall bool) string {
	switch reason {
	case genai.FinishReasonStop:
		if sawToolCall {
			return "tool_calls"
		}
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return string(reason)
	}
}

func convertError(err error) *llm.Error {
	if ourErr, ok := err.(*llm.Error); ok {
		return ourErr
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.Error{
			Code:       apiErr.Status,
			Message:    apiErr.Message,
			Type:       "api_error",
			StatusCode: apiErr.Code,
		}
	}
	return &llm.Error{
		Code:    "unknown_error",
		Message: err.Error(),
		Type:    "api_error",
	}
}
