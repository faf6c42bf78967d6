package stream

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/relay/pkg/llm"
)

func collect(t *testing.T, fragments <-chan llm.StreamFragment) []llm.StreamFragment {
	t.Helper()
	var out []llm.StreamFragment
	for f := range fragments {
		out = append(out, f)
	}
	return out
}

func feed(deltas ...Delta) <-chan Delta {
	ch := make(chan Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func TestNormalizeEmitsSingleCompletionLast(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Content: "hello "},
		Delta{Content: "world"},
		Delta{FinishReason: "stop"},
	)))

	require.NotEmpty(t, fragments)
	completions := 0
	for i, f := range fragments {
		if f.Complete {
			completions++
			assert.Equal(t, len(fragments)-1, i, "completion must be the last fragment")
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, "stop", fragments[len(fragments)-1].FinishReason)

	var content strings.Builder
	for _, f := range fragments {
		content.WriteString(f.Content)
	}
	assert.Equal(t, "hello world", content.String())
}

func TestNormalizeCoalescesSmallDeltas(t *testing.T) {
	n := &Normalizer{ProgressInterval: 10}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Content: "ab"},
		Delta{Content: "cd"},
		Delta{Content: "efghij"}, // crosses the threshold here
		Delta{Content: "kl"},
		Delta{FinishReason: "stop"},
	)))

	// One coalesced progress fragment, one trailing flush, one completion.
	require.Len(t, fragments, 3)
	assert.Equal(t, "abcdefghij", fragments[0].Content)
	assert.Equal(t, "kl", fragments[1].Content)
	assert.True(t, fragments[2].Complete)
}

func TestNormalizeSynthesizesCompletionOnBareClose(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Content: "partial"},
	)))

	require.NotEmpty(t, fragments)
	last := fragments[len(fragments)-1]
	assert.True(t, last.Complete)
	assert.Equal(t, "interrupted", last.FinishReason)
}

func TestNormalizeReasoningPhaseClosesOnFirstContent(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Reasoning: "thinking..."},
		Delta{Content: "answer"},
		Delta{FinishReason: "stop"},
	)))

	sawReasoningComplete := false
	contentIndex := -1
	for i, f := range fragments {
		if f.ReasoningComplete {
			sawReasoningComplete = true
			assert.Less(t, i, len(fragments)-1)
			if contentIndex >= 0 {
				t.Fatal("reasoning completed after content started")
			}
		}
		if f.Content != "" && contentIndex < 0 {
			contentIndex = i
		}
	}
	assert.True(t, sawReasoningComplete)
	assert.GreaterOrEqual(t, contentIndex, 0)
}

func TestNormalizeReasoningOnlyStreamCompletesReasoning(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Reasoning: "all thought, no answer"},
		Delta{FinishReason: "stop"},
	)))

	sawReasoningComplete := false
	for _, f := range fragments {
		if f.ReasoningComplete {
			sawReasoningComplete = true
		}
	}
	assert.True(t, sawReasoningComplete, "reasoning phase must be closed before completion")
}

func TestNormalizeTrailingUsageAttachesToCompletion(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	// Usage arrives on its own delta after the finish sentinel, as
	// OpenAI-compatible streams do with include_usage.
	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{Content: "hi"},
		Delta{FinishReason: "stop"},
		Delta{Usage: &llm.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}},
	)))

	last := fragments[len(fragments)-1]
	require.True(t, last.Complete)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 8, last.Usage.TotalTokens)
}

func TestNormalizeAccumulatesToolCallsOntoCompletion(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{ToolCalls: []llm.ToolCallDelta{{
			Index: 0, ID: "call_1", Type: "function",
			Function: &llm.ToolCallFunctionDelta{Name: "lookup", Arguments: `{"q":`},
		}}},
		Delta{ToolCalls: []llm.ToolCallDelta{{
			Index:    0,
			Function: &llm.ToolCallFunctionDelta{Arguments: `"go"}`},
		}}},
		Delta{FinishReason: "tool_calls"},
	)))

	last := fragments[len(fragments)-1]
	require.True(t, last.Complete)
	require.Len(t, last.ToolCalls, 1)
	assert.Equal(t, "lookup", last.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"q":"go"}`, last.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", last.FinishReason)
}

func TestNormalizeErrorIsTerminal(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	deltas := make(chan Delta, 3)
	deltas <- Delta{Content: "before"}
	deltas <- Delta{Err: &llm.Error{Code: "boom", Message: "it broke", Type: "api_error"}}
	deltas <- Delta{Content: "after"} // must never surface
	close(deltas)

	fragments := collect(t, n.Normalize(context.Background(), deltas))

	last := fragments[len(fragments)-1]
	require.True(t, last.IsError())
	assert.Equal(t, "boom", last.Err.Code)
	for _, f := range fragments {
		assert.NotEqual(t, "after", f.Content)
	}
}

func TestNormalizeResponseIDReachesCompletion(t *testing.T) {
	n := &Normalizer{ProgressInterval: -1}

	fragments := collect(t, n.Normalize(context.Background(), feed(
		Delta{ResponseID: "resp_123"},
		Delta{Content: "ok"},
		Delta{FinishReason: "stop"},
	)))

	last := fragments[len(fragments)-1]
	require.True(t, last.Complete)
	assert.Equal(t, "resp_123", last.ResponseID)
}
