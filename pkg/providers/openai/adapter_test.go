package openai

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/relay/pkg/llm"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(llm.ClientConfig{})
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "missing_api_key", lerr.Code)
}

func TestInfoTakesProviderFromConfig(t *testing.T) {
	adapter, err := New(llm.ClientConfig{APIKey: "k", Provider: "deepinfra", Model: "m"})
	require.NoError(t, err)

	info := adapter.Info()
	assert.Equal(t, "deepinfra", info.Provider)
	assert.Equal(t, llm.FamilyChat, info.Family)
	assert.Equal(t, "m", info.Model)
}

func TestBuildRequestShapesMessages(t *testing.T) {
	adapter, err := New(llm.ClientConfig{APIKey: "k", Model: "gpt-test"})
	require.NoError(t, err)

	toolMsg := llm.Message{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"ok":true}`}
	toolMsg.SetMetadata("tool_name", "get_weather")

	assistant := llm.Message{Role: llm.RoleAssistant}
	assistant.AddToolCall(llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"Oslo"}`},
	})

	temp := float32(0.2)
	maxTokens := 128
	req := adapter.buildRequest("and now?", llm.GenerateOptions{
		Model:        "gpt-test",
		SystemPrompt: "be terse",
		History:      []llm.Message{llm.NewTextMessage(llm.RoleUser, "weather?"), assistant, toolMsg},
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
		Tools: []llm.Tool{{
			Type:     "function",
			Function: llm.ToolFunction{Name: "get_weather", Description: "weather"},
		}},
	})

	assert.Equal(t, "gpt-test", req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.StreamOptions)
	assert.True(t, req.StreamOptions.IncludeUsage)
	assert.InDelta(t, 0.2, float64(req.Temperature), 0.001)
	assert.Equal(t, 128, req.MaxTokens)

	require.Len(t, req.Messages, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)

	replayed := req.Messages[2]
	require.Len(t, replayed.ToolCalls, 1)
	assert.Equal(t, "call_1", replayed.ToolCalls[0].ID)
	assert.Equal(t, `{"city":"Oslo"}`, replayed.ToolCalls[0].Function.Arguments)

	result := req.Messages[3]
	assert.Equal(t, "tool", result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "get_weather", result.Name)

	assert.Equal(t, "and now?", req.Messages[4].Content)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, req.Tools[0].Type)
	assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
}

func TestBuildRequestFallsBackToConfiguredModel(t *testing.T) {
	adapter, err := New(llm.ClientConfig{APIKey: "k", Model: "configured"})
	require.NoError(t, err)

	req := adapter.buildRequest("hi", llm.GenerateOptions{})
	assert.Equal(t, "configured", req.Model)
}

func TestConvertChunkContent(t *testing.T) {
	delta, emit := convertChunk(openai.ChatCompletionStreamResponse{
		ID: "chatcmpl-1",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: "hello"},
		}},
	})
	require.True(t, emit)
	assert.Equal(t, "hello", delta.Content)
	assert.Equal(t, "chatcmpl-1", delta.ResponseID)
}

func TestConvertChunkUsageOnly(t *testing.T) {
	delta, emit := convertChunk(openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
	})
	require.True(t, emit)
	require.NotNil(t, delta.Usage)
	assert.Equal(t, 14, delta.Usage.TotalTokens)
	assert.Empty(t, delta.Content)
}

func TestConvertChunkToolCallIndexFallback(t *testing.T) {
	idx := 2
	delta, emit := convertChunk(openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{
					{Index: &idx, ID: "call_a", Function: openai.FunctionCall{Name: "f"}},
					{Function: openai.FunctionCall{Arguments: `{"x":`}},
				},
			},
		}},
	})
	require.True(t, emit)
	require.Len(t, delta.ToolCalls, 2)
	assert.Equal(t, 2, delta.ToolCalls[0].Index, "explicit index wins")
	assert.Equal(t, 1, delta.ToolCalls[1].Index, "slice position is the fallback")
}

func TestConvertChunkFinishReason(t *testing.T) {
	delta, emit := convertChunk(openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			FinishReason: openai.FinishReasonToolCalls,
		}},
	})
	require.True(t, emit)
	assert.Equal(t, "tool_calls", delta.FinishReason)
}

func TestConvertChunkEmptySkipped(t *testing.T) {
	_, emit := convertChunk(openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{}},
	})
	assert.False(t, emit)
}

func TestConvertErrorAPIError(t *testing.T) {
	lerr := convertError(&openai.APIError{
		Code:           "rate_limit_exceeded",
		Message:        "slow down",
		Type:           "rate_limit_error",
		HTTPStatusCode: 429,
	})
	assert.Equal(t, "rate_limit_exceeded", lerr.Code)
	assert.Equal(t, "slow down", lerr.Message)
	assert.Equal(t, 429, lerr.StatusCode)
}

func TestConvertErrorGeneric(t *testing.T) {
	lerr := convertError(errors.New("connection reset"))
	assert.Equal(t, "unknown_error", lerr.Code)
	assert.Equal(t, "connection reset", lerr.Message)
}
