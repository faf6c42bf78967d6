// Tool and tool call types and functionality
package llm

import (
	"encoding/json"
	"time"
)

// Tool represents a function tool that can be called by the model
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction defines the function specification for a tool
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ToolCall represents a fully accumulated tool call made by the model.
// Arguments is the complete argument string; it is only assumed to parse as
// a single JSON value once the stream that produced it signaled completion.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`

	// ThoughtSignature is an opaque provider-issued token that must be
	// echoed back unmodified on the next turn. Never interpreted.
	ThoughtSignature string `json:"thought_signature,omitempty"`

	// ReasoningDetails is an opaque reasoning payload some providers attach
	// to tool calls and validate for continuity on the continuation request.
	// Round-tripped byte-for-byte.
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// ToolCallFunction represents the function call details
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DeepCopy copies the tool call including its opaque reasoning payload.
func (tc ToolCall) DeepCopy() ToolCall {
	out := tc
	if len(tc.ReasoningDetails) > 0 {
		out.ReasoningDetails = append(json.RawMessage(nil), tc.ReasoningDetails...)
	}
	return out
}

// ToolCallDelta is one incremental tool-call update from a stream. Deltas
// for the same index are merged in arrival order; name, id and the opaque
// reasoning fields may arrive on a later chunk than the argument bytes.
type ToolCallDelta struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function *ToolCallFunctionDelta `json:"function,omitempty"`

	ThoughtSignature string          `json:"thought_signature,omitempty"`
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// ToolCallFunctionDelta represents incremental function call details
type ToolCallFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing one tool call. Exactly one result
// is produced per accumulated call, by the external tool executor.
type ToolResult struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time,omitempty"`
}

// Text renders the result as the string handed back to the model: the raw
// result payload on success, the error message otherwise.
func (r ToolResult) Text() string {
	if !r.Success {
		if r.Error != "" {
			return r.Error
		}
		return "tool execution failed"
	}
	return string(r.Result)
}

// ToolOutput is a single function_call_output item for stateful-response
// providers, which receive only the new outputs plus a reference to the
// previous server-side response.
type ToolOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// MergeToolCatalog merges newly discovered tools into the active set by
// function name, skipping names already present. The input slices are not
// modified.
func MergeToolCatalog(active []Tool, discovered []Tool) []Tool {
	if len(discovered) == 0 {
		return active
	}
	seen := make(map[string]struct{}, len(active))
	for _, t := range active {
		seen[t.Function.Name] = struct{}{}
	}
	merged := append([]Tool(nil), active...)
	for _, t := range discovered {
		if _, dup := seen[t.Function.Name]; dup {
			continue
		}
		seen[t.Function.Name] = struct{}{}
		merged = append(merged, t)
	}
	return merged
}
