// Package responses adapts the OpenAI Responses API, a stateful protocol
// where the server retains conversation state between calls. Continuation
// rounds send only the new function_call_output items plus the previous
// response id instead of replaying the whole history.
package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter implements llm.StreamAdapter over the /v1/responses endpoint with
// a raw SSE transport. The SDK used for chat completions does not cover this
// protocol, so the adapter owns its wire types.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	norm       stream.Normalizer
}

// New creates a Responses API adapter.
func New(config llm.ClientConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, &llm.Error{
			Code:    "missing_api_key",
			Message: "API key is required for the Responses API",
			Type:    "authentication_error",
		}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := &http.Client{}
	if config.Timeout > 0 {
		httpClient.Timeout = config.Timeout
	}

	return &Adapter{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      config.Model,
		httpClient: httpClient,
	}, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return llm.AdapterInfo{
		Provider:         "responses",
		Family:           llm.FamilyStatefulResponse,
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
	req, err := a.buildRequest(prompt, opts)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &llm.Error{
			Code:    "request_encoding_error",
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{
			Code:    "request_error",
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code:    "connection_error",
			Message: err.Error(),
			Type:    "api_error",
		}
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeHTTPError(resp)
	}

	parse := newEventParser()
	if opts.OnUsage != nil {
		inner := parse
		parse = func(event stream.SSEEvent) (stream.Delta, bool, error) {
			delta, emit, err := inner(event)
			if err == nil && emit && delta.Usage != nil {
				opts.OnUsage(*delta.Usage)
			}
			return delta, emit, err
		}
	}
	return a.norm.NormalizeSSE(ctx, resp.Body, parse), nil
}

func (a *Adapter) buildRequest(prompt string, opts llm.GenerateOptions) (*createRequest, error) {
	model := opts.Model
	if model == "" {
		model = a.model
	}
	if model == "" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeMissingModel,
			Message: "no model configured for the Responses API",
			Type:    "invalid_request_error",
		}
	}

	req := &createRequest{
		Model:              model,
		Instructions:       opts.SystemPrompt,
		PreviousResponseID: opts.PreviousResponseID,
		Stream:             true,
	}
	if opts.Temperature != nil {
		t := float64(*opts.Temperature)
		req.Temperature = &t
	}
	if opts.MaxTokens != nil {
		req.MaxOutputTokens = opts.MaxTokens
	}
	if opts.EnableThinking {
		effort := opts.ThinkingEffort
		if effort == "" {
			effort = "medium"
		}
		req.Reasoning = &reasoningConfig{Effort: effort, Summary: "auto"}
	}

	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, responseTool{
			Type:        "function",
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	// A continuation round references server state: only the new tool
	// outputs travel, never the history.
	if len(opts.ToolOutputs) > 0 {
		items := make([]inputItem, 0, len(opts.ToolOutputs))
		for _, out := range opts.ToolOutputs {
			items = append(items, inputItem{
				Type:   "function_call_output",
				CallID: out.CallID,
				Output: out.Output,
			})
		}
		req.Input = items
		return req, nil
	}

	var items []inputItem
	for _, msg := range opts.History {
		items = append(items, historyItems(msg)...)
	}
	if prompt != "" {
		items = append(items, inputItem{Role: "user", Content: prompt})
	}
	req.Input = items
	return req, nil
}

// historyItems flattens one neutral message into Responses input items. An
// assistant message with tool calls becomes one function_call item per call;
// a tool-role message becomes a function_call_output item.
func historyItems(msg llm.Message) []inputItem {
	switch msg.Role {
	case llm.RoleTool:
		return []inputItem{{
			Type:   "function_call_output",
			CallID: msg.ToolCallID,
			Output: msg.Content,
		}}
	case llm.RoleAssistant:
		var items []inputItem
		if msg.Content != "" {
			items = append(items, inputItem{Role: "assistant", Content: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			items = append(items, inputItem{
				Type:      "function_call",
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return items
	default:
		return []inputItem{{Role: string(msg.Role), Content: msg.Content}}
	}
}

// newEventParser returns a stream.ParseFunc spanning one SSE stream. The
// closure tracks per-stream state: the output_index of each function_call
// item and whether any tool call was produced, which decides the synthetic
// finish reason on response.completed.
func newEventParser() stream.ParseFunc {
	sawToolCall := false

	return func(event stream.SSEEvent) (stream.Delta, bool, error) {
		var payload eventPayload
		if err := json.Unmarshal([]byte(event.Data), &payload); err != nil {
			return stream.Delta{}, false, fmt.Errorf("decoding responses event: %w", err)
		}

		name := event.Name
		if name == "" {
			name = payload.Type
		}

		switch name {
		case "response.created":
			if payload.Response != nil {
				return stream.Delta{ResponseID: payload.Response.ID}, true, nil
			}
			return stream.Delta{}, false, nil

		case "response.output_text.delta":
			return stream.Delta{Content: payload.Delta}, payload.Delta != "", nil

		case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
			return stream.Delta{Reasoning: payload.Delta}, payload.Delta != "", nil

		case "response.output_item.added":
			if payload.Item == nil || payload.Item.Type != "function_call" {
				return stream.Delta{}, false, nil
			}
			sawToolCall = true
			return stream.Delta{ToolCalls: []llm.ToolCallDelta{{
				Index: payload.OutputIndex,
				ID:    payload.Item.CallID,
				Type:  "function",
				Function: &llm.ToolCallFunctionDelta{
					Name:      payload.Item.Name,
					Arguments: payload.Item.Arguments,
				},
			}}}, true, nil

		case "response.function_call_arguments.delta":
			return stream.Delta{ToolCalls: []llm.ToolCallDelta{{
				Index:    payload.OutputIndex,
				Function: &llm.ToolCallFunctionDelta{Arguments: payload.Delta},
			}}}, true, nil

		case "response.completed", "response.incomplete":
			delta := stream.Delta{FinishReason: "stop"}
			if sawToolCall {
				delta.FinishReason = "tool_calls"
			}
			if payload.Response != nil {
				delta.ResponseID = payload.Response.ID
				if payload.Response.Usage != nil {
					delta.Usage = &llm.Usage{
						PromptTokens:     payload.Response.Usage.InputTokens,
						CompletionTokens: payload.Response.Usage.OutputTokens,
						TotalTokens:      payload.Response.Usage.TotalTokens,
					}
				}
			}
			return delta, true, nil

		case "response.failed", "error":
			msg := "response generation failed"
			code := "response_failed"
			if payload.Response != nil && payload.Response.Error != nil {
				msg = payload.Response.Error.Message
				if payload.Response.Error.Code != "" {
					code = payload.Response.Error.Code
				}
			} else if payload.Message != "" {
				msg = payload.Message
			}
			return stream.Delta{Err: &llm.Error{
				Code:    code,
				Message: msg,
				Type:    "api_error",
			}}, true, nil
		}

		// Lifecycle events carry nothing the fragment contract needs.
		return stream.Delta{}, false, nil
	}
}

func decodeHTTPError(resp *http.Response) *llm.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))

	var wrapped struct {
		Error *errorDetails `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil {
		code := wrapped.Error.Code
		if code == "" {
			code = "api_error"
		}
		return &llm.Error{
			Code:       code,
			Message:    wrapped.Error.Message,
			Type:       wrapped.Error.Type,
			StatusCode: resp.StatusCode,
		}
	}

	return &llm.Error{
		Code:       "http_error",
		Message:    fmt.Sprintf("responses API returned status %d", resp.StatusCode),
		Type:       "api_error",
		StatusCode: resp.StatusCode,
	}
}
