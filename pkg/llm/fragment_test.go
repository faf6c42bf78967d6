package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentPredicates(t *testing.T) {
	assert.True(t, NewContentFragment("x").IsContent())
	assert.False(t, NewContentFragment("x").IsReasoning())

	assert.True(t, NewReasoningFragment("x").IsReasoning())
	assert.False(t, NewReasoningFragment("x").IsContent())

	errFrag := NewErrorFragment(&Error{Code: "boom"})
	assert.True(t, errFrag.IsError())
	assert.True(t, errFrag.Complete, "an error fragment is terminal")

	calls := []ToolCall{{ID: "a"}}
	done := NewCompletionFragment(calls, &Usage{TotalTokens: 1}, "tool_calls")
	assert.True(t, done.Complete)
	assert.True(t, done.HasToolCalls())
	assert.Equal(t, "tool_calls", done.FinishReason)
	require.NotNil(t, done.Usage)
}

func TestErrorImplementsError(t *testing.T) {
	var err error = &Error{Code: "c", Message: "the message"}
	assert.Equal(t, "the message", err.Error())
}
