// Error types and handling
package llm

// Error represents a standardized engine error
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Error codes raised by the engine itself. Adapter-level errors carry
// whatever code the provider reported.
const (
	// ErrCodeMissingAdapter means no generation adapter is registered for
	// the requested provider. Raised before any generation begins.
	ErrCodeMissingAdapter = "missing_adapter"

	// ErrCodeMissingModel means neither the request nor the orchestrator
	// configuration named a model.
	ErrCodeMissingModel = "missing_model"

	// ErrCodeIncompleteArguments means a tool call was about to be executed
	// with an argument string that never finished streaming. Executing such
	// a call is a defined bug class, so it is rejected loudly instead.
	ErrCodeIncompleteArguments = "incomplete_tool_arguments"

	// ErrCodeToolExecution wraps a failure of the tool execution round as a
	// whole (individual tool failures are reported per ToolResult instead).
	ErrCodeToolExecution = "tool_execution_error"
)
