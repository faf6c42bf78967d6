// Adapter and executor contracts consumed by the orchestration engine
package llm

import (
	"context"
)

// ProviderFamily selects the wire shape used to resume a conversation after
// tool execution. It is declared per adapter, never inferred from the model
// name.
type ProviderFamily string

const (
	// FamilyChat resends the full history as a chat array with role="tool"
	// result messages. Default for providers not listed below.
	FamilyChat ProviderFamily = "chat"

	// FamilyInlineBlock embeds tool results as typed blocks inside a
	// role="user" message (Anthropic-style messages protocol).
	FamilyInlineBlock ProviderFamily = "inline_block"

	// FamilyStructuredParts expresses tool results as named
	// function-response parts paired with the original call (Gemini-style).
	FamilyStructuredParts ProviderFamily = "structured_parts"

	// FamilyStatefulResponse sends only new tool outputs plus a reference
	// to the previous server-side response identifier.
	FamilyStatefulResponse ProviderFamily = "stateful_response"
)

// AdapterInfo describes a generation adapter
type AdapterInfo struct {
	Provider string         `json:"provider"`
	Family   ProviderFamily `json:"family"`
	Model    string         `json:"model"`

	// SupportsThinking reports whether the adapter understands the
	// EnableThinking/ThinkingEffort options.
	SupportsThinking bool `json:"supports_thinking"`
}

// GenerateOptions carries everything an adapter needs to start one
// generation pass. The Provider Message Builder produces these for
// continuation rounds; the orchestrator produces the initial one.
type GenerateOptions struct {
	Model        string
	SystemPrompt string

	// History is the prior conversation in the provider family's shape.
	// Empty for stateful-response continuations.
	History []Message

	Tools []Tool

	EnableThinking bool
	ThinkingEffort string

	// PreviousResponseID references server-side state for
	// stateful-response providers.
	PreviousResponseID string

	// ToolOutputs are the new function_call_output items for a
	// stateful-response continuation.
	ToolOutputs []ToolOutput

	// ConversationID keys the orchestrator's continuation context.
	ConversationID string

	Temperature *float32
	MaxTokens   *int

	// OnUsage is invoked when token usage becomes known. Some providers
	// report usage asynchronously after the stream completed, so this may
	// fire well after the final fragment was yielded.
	OnUsage func(Usage)
}

// StreamAdapter is the generation contract the engine consumes. How a
// fragment is obtained over the wire (SDK stream, raw HTTP event stream,
// local inference) is the adapter's business, as long as the returned
// channel honors the StreamFragment contract: lazy, finite, non-restartable,
// exactly one Complete fragment and it is the last.
type StreamAdapter interface {
	// GenerateStream starts one generation pass and returns the fragment
	// stream. The caller abandons the stream by cancelling ctx and ceasing
	// to receive.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamFragment, error)

	// Info returns the adapter's provider identity and family.
	Info() AdapterInfo

	// Close cleans up any resources used by the adapter.
	Close() error
}

// ToolContext carries ambient identifiers through to tool execution.
type ToolContext struct {
	SessionID   string
	WorkspaceID string
}

// ToolEventHook is fired around each individual tool invocation with phase
// "started" or "completed".
type ToolEventHook func(phase string, data map[string]any)

// ToolExecutor runs one accumulated tool-call batch. The batch is submitted
// as a unit; whether its members run concurrently or sequentially is the
// executor's decision. Per-call failures are reported in the corresponding
// ToolResult, never by aborting the batch.
type ToolExecutor interface {
	ExecuteToolCalls(ctx context.Context, calls []ToolCall, tctx ToolContext, onEvent ToolEventHook) []ToolResult
}

// NoExecutorMessage is the fixed failure text used when no executor is
// configured; the loop still proceeds so the model sees the failure.
const NoExecutorMessage = "tool execution is not available: no executor configured"

// UnavailableResults degrades a batch to per-call failures carrying
// NoExecutorMessage.
func UnavailableResults(calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		results[i] = ToolResult{
			ID:      call.ID,
			Name:    call.Function.Name,
			Success: false,
			Error:   NoExecutorMessage,
		}
	}
	return results
}
