// Tool-call delta accumulation across chunk boundaries
package stream

import (
	"strings"

	"github.com/google/uuid"

	"github.com/modelrelay/relay/pkg/llm"
)

// ToolCallAccumulator stitches streaming tool-call deltas into complete
// calls. Deltas are merged by index; argument chunks for one index are
// concatenated in arrival order and may split a token mid-string. Identity
// fields (id, name) and the opaque reasoning fields may arrive on a later
// chunk than the argument bytes.
type ToolCallAccumulator struct {
	calls map[int]*toolCallState
	order []int
}

type toolCallState struct {
	index   int
	id      string
	typ     string
	name    string
	sig     string
	details []byte
	args    strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: map[int]*toolCallState{}}
}

// Apply ingests a single delta, merging it into the call at its index.
func (a *ToolCallAccumulator) Apply(delta llm.ToolCallDelta) {
	call := a.ensure(delta.Index)
	if call.id == "" {
		call.id = delta.ID
	}
	if call.typ == "" {
		call.typ = delta.Type
	}
	if call.sig == "" {
		call.sig = delta.ThoughtSignature
	}
	if len(call.details) == 0 && len(delta.ReasoningDetails) > 0 {
		call.details = append([]byte(nil), delta.ReasoningDetails...)
	}
	if delta.Function != nil {
		if call.name == "" {
			call.name = delta.Function.Name
		}
		call.args.WriteString(delta.Function.Arguments)
	}
}

// Len returns the number of distinct tool calls seen so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.order)
}

// Calls returns the assembled tool calls in first-seen order. Missing IDs
// are filled with synthetic ones so every call can be paired with a result.
func (a *ToolCallAccumulator) Calls() []llm.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := a.calls[idx]
		id := call.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		typ := call.typ
		if typ == "" {
			typ = "function"
		}
		out = append(out, llm.ToolCall{
			ID:   id,
			Type: typ,
			Function: llm.ToolCallFunction{
				Name:      call.name,
				Arguments: call.args.String(),
			},
			ThoughtSignature: call.sig,
			ReasoningDetails: call.details,
		})
	}
	return out
}

func (a *ToolCallAccumulator) ensure(index int) *toolCallState {
	if call, ok := a.calls[index]; ok {
		return call
	}
	call := &toolCallState{index: index}
	a.calls[index] = call
	a.order = append(a.order, index)
	return call
}

// ArgumentsBalanced reports whether an argument string looks like a fully
// streamed JSON value, using brace/bracket/quote parity. It is a cheap
// heuristic guard against the bug class of running a tool on truncated
// arguments; only the stream's completion fragment makes arguments
// authoritative.
func ArgumentsBalanced(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true // no-argument tools stream nothing at all
	}
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth < 0 {
					return false
				}
			}
		}
	}
	return depth == 0 && !inString
}
