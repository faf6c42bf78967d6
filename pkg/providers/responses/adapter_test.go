package responses

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/relay/pkg/llm"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(llm.ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return adapter
}

func writeSSE(t *testing.T, w http.ResponseWriter, events ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		_, err := io.WriteString(w, e)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, fragments <-chan llm.StreamFragment) []llm.StreamFragment {
	t.Helper()
	var out []llm.StreamFragment
	for f := range fragments {
		out = append(out, f)
	}
	return out
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(llm.ClientConfig{})
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "missing_api_key", lerr.Code)
}

func TestGenerateStreamTextTurn(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/responses", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req["model"])
		assert.Equal(t, true, req["stream"])
		assert.Equal(t, "be terse", req["instructions"])

		writeSSE(t, w,
			"event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n",
			"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"Hello\"}\n\n",
			"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\" world\"}\n\n",
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\",\"usage\":{\"input_tokens\":3,\"output_tokens\":2,\"total_tokens\":5}}}\n\n",
		)
	})

	fragments, err := adapter.GenerateStream(context.Background(), "hi", llm.GenerateOptions{
		Model:        "gpt-test",
		SystemPrompt: "be terse",
	})
	require.NoError(t, err)

	all := collect(t, fragments)
	require.NotEmpty(t, all)

	final := all[len(all)-1]
	require.True(t, final.Complete)
	assert.Equal(t, "stop", final.FinishReason)
	assert.Equal(t, "resp_1", final.ResponseID)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 3, final.Usage.PromptTokens)
	assert.Equal(t, 5, final.Usage.TotalTokens)

	var text string
	for _, f := range all[:len(all)-1] {
		text += f.Content
	}
	assert.Equal(t, "Hello world", text)
}

func TestGenerateStreamReportsUsageToHook(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			"event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n",
			"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"ok\"}\n\n",
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\",\"usage\":{\"input_tokens\":3,\"output_tokens\":2,\"total_tokens\":5}}}\n\n",
		)
	})

	var reported []llm.Usage
	fragments, err := adapter.GenerateStream(context.Background(), "hi", llm.GenerateOptions{
		Model:   "gpt-test",
		OnUsage: func(u llm.Usage) { reported = append(reported, u) },
	})
	require.NoError(t, err)
	collect(t, fragments)

	require.Len(t, reported, 1)
	assert.Equal(t, 3, reported[0].PromptTokens)
	assert.Equal(t, 2, reported[0].CompletionTokens)
	assert.Equal(t, 5, reported[0].TotalTokens)
}

func TestGenerateStreamFunctionCall(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			"event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_2\"}}\n\n",
			"event: response.output_item.added\ndata: {\"type\":\"response.output_item.added\",\"output_index\":0,\"item\":{\"id\":\"fc_1\",\"type\":\"function_call\",\"call_id\":\"call_1\",\"name\":\"get_weather\",\"arguments\":\"\"}}\n\n",
			"event: response.function_call_arguments.delta\ndata: {\"type\":\"response.function_call_arguments.delta\",\"output_index\":0,\"delta\":\"{\\\"city\\\":\"}\n\n",
			"event: response.function_call_arguments.delta\ndata: {\"type\":\"response.function_call_arguments.delta\",\"output_index\":0,\"delta\":\"\\\"Oslo\\\"}\"}\n\n",
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_2\"}}\n\n",
		)
	})

	fragments, err := adapter.GenerateStream(context.Background(), "weather?", llm.GenerateOptions{Model: "gpt-test"})
	require.NoError(t, err)

	all := collect(t, fragments)
	final := all[len(all)-1]
	require.True(t, final.Complete)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "call_1", final.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", final.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, final.ToolCalls[0].Function.Arguments)
}

func TestGenerateStreamContinuationRequestShape(t *testing.T) {
	var captured createRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeSSE(t, w,
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_3\"}}\n\n",
		)
	})

	fragments, err := adapter.GenerateStream(context.Background(), "", llm.GenerateOptions{
		Model:              "gpt-test",
		PreviousResponseID: "resp_2",
		ToolOutputs: []llm.ToolOutput{
			{CallID: "call_1", Output: `{"condition":"rain"}`},
		},
	})
	require.NoError(t, err)
	collect(t, fragments)

	assert.Equal(t, "resp_2", captured.PreviousResponseID)

	items, ok := captured.Input.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item, ok := items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call_1", item["call_id"])
	assert.JSONEq(t, `{"condition":"rain"}`, item["output"].(string))
}

func TestGenerateStreamHistoryFlattening(t *testing.T) {
	var captured createRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeSSE(t, w,
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_4\"}}\n\n",
		)
	})

	assistant := llm.Message{Role: llm.RoleAssistant, Content: "checking"}
	assistant.AddToolCall(llm.ToolCall{
		ID:       "call_a",
		Type:     "function",
		Function: llm.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"Oslo"}`},
	})

	fragments, err := adapter.GenerateStream(context.Background(), "and now?", llm.GenerateOptions{
		Model: "gpt-test",
		History: []llm.Message{
			llm.NewTextMessage(llm.RoleUser, "weather?"),
			assistant,
			{Role: llm.RoleTool, ToolCallID: "call_a", Content: `{"condition":"rain"}`},
		},
	})
	require.NoError(t, err)
	collect(t, fragments)

	items, ok := captured.Input.([]any)
	require.True(t, ok)
	require.Len(t, items, 5)

	types := make([]string, 0, len(items))
	for _, raw := range items {
		item := raw.(map[string]any)
		if tt, ok := item["type"].(string); ok {
			types = append(types, tt)
		} else {
			types = append(types, "message:"+item["role"].(string))
		}
	}
	assert.Equal(t, []string{
		"message:user",
		"message:assistant",
		"function_call",
		"function_call_output",
		"message:user",
	}, types)
}

func TestGenerateStreamReasoningDeltas(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Reasoning)
		assert.Equal(t, "high", req.Reasoning.Effort)
		assert.Equal(t, "auto", req.Reasoning.Summary)

		writeSSE(t, w,
			"event: response.reasoning_summary_text.delta\ndata: {\"type\":\"response.reasoning_summary_text.delta\",\"delta\":\"thinking hard\"}\n\n",
			"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"answer\"}\n\n",
			"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_5\"}}\n\n",
		)
	})

	fragments, err := adapter.GenerateStream(context.Background(), "hi", llm.GenerateOptions{
		Model:          "gpt-test",
		EnableThinking: true,
		ThinkingEffort: "high",
	})
	require.NoError(t, err)

	all := collect(t, fragments)
	var reasoning, content string
	for _, f := range all {
		reasoning += f.Reasoning
		content += f.Content
	}
	assert.Equal(t, "thinking hard", reasoning)
	assert.Equal(t, "answer", content)
}

func TestGenerateStreamFailureEvent(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			"event: response.failed\ndata: {\"type\":\"response.failed\",\"response\":{\"id\":\"resp_6\",\"error\":{\"message\":\"model overloaded\",\"code\":\"server_error\"}}}\n\n",
		)
	})

	fragments, err := adapter.GenerateStream(context.Background(), "hi", llm.GenerateOptions{Model: "gpt-test"})
	require.NoError(t, err)

	all := collect(t, fragments)
	final := all[len(all)-1]
	require.True(t, final.IsError())
	assert.Equal(t, "server_error", final.Err.Code)
	assert.Equal(t, "model overloaded", final.Err.Message)
}

func TestGenerateStreamHTTPError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"authentication_error","code":"invalid_api_key"}}`)
	})

	_, err := adapter.GenerateStream(context.Background(), "hi", llm.GenerateOptions{Model: "gpt-test"})
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "invalid_api_key", lerr.Code)
	assert.Equal(t, http.StatusUnauthorized, lerr.StatusCode)
	assert.Equal(t, "bad key", lerr.Message)
}
