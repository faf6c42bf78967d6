package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/relay/pkg/llm"
)

func TestQueuedPassesConsumedInOrder(t *testing.T) {
	adapter := New("mock", llm.FamilyChat, "m")
	adapter.QueuePass(llm.NewContentFragment("first"))
	adapter.QueuePass(llm.NewContentFragment("second"))

	for _, want := range []string{"first", "second"} {
		fragments, err := adapter.GenerateStream(context.Background(), "p", llm.GenerateOptions{})
		require.NoError(t, err)

		var all []llm.StreamFragment
		for f := range fragments {
			all = append(all, f)
		}
		require.Len(t, all, 2)
		assert.Equal(t, want, all[0].Content)
		assert.True(t, all[1].Complete, "a completion fragment is synthesized")
	}
}

func TestExhaustedScriptStillCompletes(t *testing.T) {
	adapter := New("mock", llm.FamilyChat, "m")

	fragments, err := adapter.GenerateStream(context.Background(), "p", llm.GenerateOptions{})
	require.NoError(t, err)

	var all []llm.StreamFragment
	for f := range fragments {
		all = append(all, f)
	}
	require.Len(t, all, 1)
	assert.True(t, all[0].Complete)
}

func TestRequestsRecorded(t *testing.T) {
	adapter := New("mock", llm.FamilyChat, "m")

	_, err := adapter.GenerateStream(context.Background(), "hello", llm.GenerateOptions{Model: "m1"})
	require.NoError(t, err)
	_, err = adapter.GenerateStream(context.Background(), "again", llm.GenerateOptions{Model: "m2"})
	require.NoError(t, err)

	reqs := adapter.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "hello", reqs[0].Prompt)
	assert.Equal(t, "m1", reqs[0].Opts.Model)
	assert.Equal(t, "again", reqs[1].Prompt)
}

func TestGeneratorTakesPrecedence(t *testing.T) {
	adapter := New("mock", llm.FamilyChat, "m")
	adapter.QueuePass(llm.NewContentFragment("queued"))
	adapter.SetGenerator(func(pass int, prompt string, opts llm.GenerateOptions) []llm.StreamFragment {
		return []llm.StreamFragment{llm.NewContentFragment("generated")}
	})

	fragments, err := adapter.GenerateStream(context.Background(), "p", llm.GenerateOptions{})
	require.NoError(t, err)

	first := <-fragments
	assert.Equal(t, "generated", first.Content)
	for range fragments {
	}
}

func TestErrorFragmentStopsStream(t *testing.T) {
	adapter := New("mock", llm.FamilyChat, "m")
	adapter.QueuePass(
		llm.NewErrorFragment(&llm.Error{Code: "boom"}),
		llm.NewContentFragment("never delivered"),
	)

	fragments, err := adapter.GenerateStream(context.Background(), "p", llm.GenerateOptions{})
	require.NoError(t, err)

	var all []llm.StreamFragment
	for f := range fragments {
		all = append(all, f)
	}
	require.Len(t, all, 1)
	assert.True(t, all[0].IsError())
}
