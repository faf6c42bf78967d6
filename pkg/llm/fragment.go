// fragment.go defines the normalized streaming unit every adapter emits
package llm

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamFragment is one incremental unit of a generation stream: a content
// delta, a reasoning delta, an in-progress tool-call snapshot, or the single
// completion marker. Fragments are transient and never stored.
//
// For any well-formed stream exactly one fragment has Complete set, and it
// is the last one produced. The completion fragment carries the final
// accumulated tool calls (if any), usage (if known), and for stateful
// providers the server-side response identifier.
type StreamFragment struct {
	Content           string     `json:"content,omitempty"`
	Reasoning         string     `json:"reasoning,omitempty"`
	ReasoningComplete bool       `json:"reasoning_complete,omitempty"`
	ToolCalls         []ToolCall `json:"tool_calls,omitempty"`
	Complete          bool       `json:"complete"`
	Usage             *Usage     `json:"usage,omitempty"`
	FinishReason      string     `json:"finish_reason,omitempty"`

	// ResponseID is the stateful-response continuation identifier, present
	// only on completion fragments from providers with server-side state.
	ResponseID string `json:"response_id,omitempty"`

	// Err carries a mid-stream failure. A fragment with Err set is terminal
	// for the stream; the orchestrator converts it into a user-visible
	// error yield.
	Err *Error `json:"error,omitempty"`
}

// IsContent returns true if the fragment carries a content delta
func (f StreamFragment) IsContent() bool {
	return f.Content != ""
}

// IsReasoning returns true if the fragment carries a reasoning delta
func (f StreamFragment) IsReasoning() bool {
	return f.Reasoning != ""
}

// IsError returns true if the fragment carries a stream error
func (f StreamFragment) IsError() bool {
	return f.Err != nil
}

// HasToolCalls returns true if the fragment carries tool calls
func (f StreamFragment) HasToolCalls() bool {
	return len(f.ToolCalls) > 0
}

// NewContentFragment creates a content delta fragment
func NewContentFragment(delta string) StreamFragment {
	return StreamFragment{Content: delta}
}

// NewReasoningFragment creates a reasoning delta fragment
func NewReasoningFragment(delta string) StreamFragment {
	return StreamFragment{Reasoning: delta}
}

// NewCompletionFragment creates the terminal fragment of a stream
func NewCompletionFragment(toolCalls []ToolCall, usage *Usage, finishReason string) StreamFragment {
	return StreamFragment{
		Complete:     true,
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: finishReason,
	}
}

// NewErrorFragment creates a terminal error fragment
func NewErrorFragment(err *Error) StreamFragment {
	return StreamFragment{Err: err, Complete: true}
}
