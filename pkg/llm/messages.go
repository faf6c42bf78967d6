// Message types and functionality
package llm

// MessageRole defines the role of a message sender
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	// RoleFunction is used by structured-parts providers that pair tool
	// output with the original function call in a dedicated role.
	RoleFunction MessageRole = "function"
)

// Message represents a single chat message. The caller owns the message
// history and passes it by reference for each orchestration call; the engine
// rebuilds its own view between tool rounds and never mutates the input.
//
// A message is the union of the role shapes the providers understand: plain
// text, an assistant turn carrying tool calls, a generic role="tool" result
// message, a role="user" message with inline tool-result blocks
// (inline-block providers), or a role="function" message with structured
// function responses (structured-parts providers). Exactly which fields are
// set depends on the role.
type Message struct {
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// ResultBlocks carries typed tool_result blocks embedded in a user
	// message; only inline-block providers produce and consume this shape.
	ResultBlocks []ToolResultBlock `json:"result_blocks,omitempty"`

	// FunctionResponses carries structured function-response parts inside a
	// role="function" message; only structured-parts providers use it.
	FunctionResponses []FunctionResponse `json:"function_responses,omitempty"`
}

// ToolResultBlock is a typed tool_result block referencing the original
// call by id, embedded inside a role="user" message.
type ToolResultBlock struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// FunctionResponse is a named function-response part paired with the
// original function-call id.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Response string `json:"response"`
	IsError  bool   `json:"is_error,omitempty"`
}

// NewTextMessage creates a plain text message
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// HasToolCalls checks if the message contains any tool calls
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// GetToolCallByName returns the first tool call with the specified name
func (m Message) GetToolCallByName(name string) (*ToolCall, bool) {
	for i := range m.ToolCalls {
		if m.ToolCalls[i].Function.Name == name {
			return &m.ToolCalls[i], true
		}
	}
	return nil, false
}

// AddToolCall adds a tool call to the message
func (m *Message) AddToolCall(toolCall ToolCall) {
	m.ToolCalls = append(m.ToolCalls, toolCall)
}

// SetMetadata sets a metadata key-value pair
func (m *Message) SetMetadata(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// DeepCopy creates a deep copy of the message, including tool calls and
// result blocks, so a continuation round can extend its own view of the
// conversation without touching the caller's slice.
func (m Message) DeepCopy() Message {
	out := Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.DeepCopy()
		}
	}
	if len(m.ResultBlocks) > 0 {
		out.ResultBlocks = append([]ToolResultBlock(nil), m.ResultBlocks...)
	}
	if len(m.FunctionResponses) > 0 {
		out.FunctionResponses = append([]FunctionResponse(nil), m.FunctionResponses...)
	}
	if len(m.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CopyMessages deep-copies a message slice. Continuation rounds rebuild
// their prior-message view instead of mutating the previous round's.
func CopyMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.DeepCopy()
	}
	return out
}

// LatestUserText returns the text of the most recent user message, which the
// orchestrator treats as the effective prompt for the turn.
func LatestUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// SplitSystemMessages separates system-role messages from the rest,
// preserving order within each group.
func SplitSystemMessages(messages []Message) (system []Message, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	return system, rest
}
