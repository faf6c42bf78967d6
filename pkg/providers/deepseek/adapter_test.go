package deepseek

import (
	"testing"

	"github.com/cohesion-org/deepseek-go"
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

func TestBuildRequestShapesMessages(t *testing.T) {
	adapter, err := New(llm.ClientConfig{APIKey: "k", Model: "deepseek-chat"})
	require.NoError(t, err)

	assistant := llm.Message{Role: llm.RoleAssistant}
	assistant.AddToolCall(llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"Oslo"}`},
	})

	req := adapter.buildRequest("and now?", llm.GenerateOptions{
		Model:        "deepseek-chat",
		SystemPrompt: "be terse",
		History: []llm.Message{
			llm.NewTextMessage(llm.RoleUser, "weather?"),
			assistant,
			{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"ok":true}`},
		},
		Tools: []llm.Tool{{
			Type: "function",
			Function: llm.ToolFunction{
				Name: "get_weather",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"city": map[string]any{"type": "string"}},
					"required":   []any{"city"},
				},
			},
		}},
	})

	assert.Equal(t, "deepseek-chat", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 5)

	assert.Equal(t, "system", req.Messages[0].Role)

	// Replayed calls carry their position as the required index.
	replayed := req.Messages[2]
	require.Len(t, replayed.ToolCalls, 1)
	assert.Equal(t, 0, replayed.ToolCalls[0].Index)
	assert.Equal(t, "call_1", replayed.ToolCalls[0].ID)

	assert.Equal(t, "tool", req.Messages[3].Role)
	assert.Equal(t, "call_1", req.Messages[3].ToolCallID)

	require.Len(t, req.Tools, 1)
	params := req.Tools[0].Function.Parameters
	require.NotNil(t, params)
	assert.Equal(t, "object", params.Type)
	assert.Equal(t, []string{"city"}, params.Required)
	assert.Contains(t, params.Properties, "city")
}

func TestConvertToolParameters(t *testing.T) {
	assert.Nil(t, convertToolParameters(nil))

	// A non-map schema still produces a valid object wrapper.
	params := convertToolParameters("bogus")
	require.NotNil(t, params)
	assert.Equal(t, "object", params.Type)

	params = convertToolParameters(map[string]any{
		"type":     "object",
		"required": []string{"a", "b"},
	})
	assert.Equal(t, []string{"a", "b"}, params.Required)
}

func TestConvertChunkReasoningContent(t *testing.T) {
	delta, emit := convertChunk(&deepseek.StreamChatCompletionResponse{
		Choices: []deepseek.StreamChoices{{
			Delta: deepseek.StreamDelta{ReasoningContent: "thinking"},
		}},
	})
	require.True(t, emit)
	assert.Equal(t, "thinking", delta.Reasoning)
}

func TestConvertChunkToolCalls(t *testing.T) {
	delta, emit := convertChunk(&deepseek.StreamChatCompletionResponse{
		Choices: []deepseek.StreamChoices{{
			Delta: deepseek.StreamDelta{
				ToolCalls: []deepseek.ToolCall{{
					Index:    0,
					ID:       "call_1",
					Type:     "function",
					Function: deepseek.ToolCallFunction{Name: "f", Arguments: `{"x":1}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	})
	require.True(t, emit)
	require.Len(t, delta.ToolCalls, 1)
	assert.Equal(t, "call_1", delta.ToolCalls[0].ID)
	assert.Equal(t, "tool_calls", delta.FinishReason)
}

func TestConvertChunkNil(t *testing.T) {
	_, emit := convertChunk(nil)
	assert.False(t, emit)
}
