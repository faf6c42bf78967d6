package bedrock

import (
	"encoding/json"
	"fmt"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// Wire types for the Bedrock-hosted messages protocol.

type messagesRequest struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	System           string            `json:"system,omitempty"`
	Messages         []messagesMessage `json:"messages"`
	Tools            []messagesTool    `json:"tools,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	Thinking         *thinkingConfig   `json:"thinking,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type messagesTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type messagesMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is the union of the block shapes one turn can carry: text,
// tool_use on assistant turns, tool_result inside user turns.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// streamEvent is the union of the per-chunk event bodies.
type streamEvent struct {
	Type string `json:"type"`

	Index        int          `json:"index,omitempty"`
	ContentBlock *blockStart  `json:"content_block,omitempty"`
	Delta        *blockDelta  `json:"delta,omitempty"`
	Message      *messageInfo `json:"message,omitempty"`
	Usage        *usageInfo   `json:"usage,omitempty"`
	Error        *errorInfo   `json:"error,omitempty"`
}

type blockStart struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type blockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type messageInfo struct {
	ID    string     `json:"id"`
	Usage *usageInfo `json:"usage,omitempty"`
}

type usageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// eventState tracks per-stream block bookkeeping: which content_block index
// is a tool_use block (so argument deltas land on the right call) and the
// token counts split across message_start and message_delta.
type eventState struct {
	toolBlocks   map[int]bool
	inputTokens  int
	outputTokens int
	sawToolCall  bool
}

func newEventState() *eventState {
	return &eventState{toolBlocks: make(map[int]bool)}
}

func (s *eventState) apply(chunk []byte) (stream.Delta, bool, error) {
	var event streamEvent
	if err := json.Unmarshal(chunk, &event); err != nil {
		return stream.Delta{}, false, fmt.Errorf("decoding stream chunk: %w", err)
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			delta := stream.Delta{ResponseID: event.Message.ID}
			if event.Message.Usage != nil {
				s.inputTokens = event.Message.Usage.InputTokens
			}
			return delta, delta.ResponseID != "", nil
		}
		return stream.Delta{}, false, nil

	case "content_block_start":
		if event.ContentBlock == nil {
			return stream.Delta{}, false, nil
		}
		if event.ContentBlock.Type == "tool_use" {
			s.toolBlocks[event.Index] = true
			s.sawToolCall = true
			return stream.Delta{ToolCalls: []llm.ToolCallDelta{{
				Index:    event.Index,
				ID:       event.ContentBlock.ID,
				Type:     "function",
				Function: &llm.ToolCallFunctionDelta{Name: event.ContentBlock.Name},
			}}}, true, nil
		}
		return stream.Delta{}, false, nil

	case "content_block_delta":
		if event.Delta == nil {
			return stream.Delta{}, false, nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return stream.Delta{Content: event.Delta.Text}, event.Delta.Text != "", nil
		case "thinking_delta":
			return stream.Delta{Reasoning: event.Delta.Thinking}, event.Delta.Thinking != "", nil
		case "signature_delta":
			// The signature belongs to the thinking block; carry it on the
			// streamed tool calls so it survives the round trip.
			if !s.toolBlocksEmpty() {
				return signatureDelta(s.toolBlocks, event.Delta.Signature), true, nil
			}
			return stream.Delta{}, false, nil
		case "input_json_delta":
			if !s.toolBlocks[event.Index] {
				return stream.Delta{}, false, nil
			}
			return stream.Delta{ToolCalls: []llm.ToolCallDelta{{
				Index:    event.Index,
				Function: &llm.ToolCallFunctionDelta{Arguments: event.Delta.PartialJSON},
			}}}, true, nil
		}
		return stream.Delta{}, false, nil

	case "message_delta":
		var delta stream.Delta
		emit := false
		if event.Usage != nil {
			s.outputTokens = event.Usage.OutputTokens
		}
		if event.Delta != nil && event.Delta.StopReason != "" {
			delta.FinishReason = convertStopReason(event.Delta.StopReason)
			emit = true
		}
		return delta, emit, nil

	case "message_stop":
		return stream.Delta{Usage: &llm.Usage{
			PromptTokens:     s.inputTokens,
			CompletionTokens: s.outputTokens,
			TotalTokens:      s.inputTokens + s.outputTokens,
		}}, true, nil

	case "error":
		msg := "bedrock stream error"
		if event.Error != nil {
			msg = event.Error.Message
		}
		return stream.Delta{Err: &llm.Error{
			Code:    "stream_error",
			Message: msg,
			Type:    "api_error",
		}}, true, nil
	}

	return stream.Delta{}, false, nil
}

func (s *eventState) toolBlocksEmpty() bool {
	return len(s.toolBlocks) == 0
}

// signatureDelta attaches the thinking signature to every pending tool-use
// block; the builder replays it with the continuation turn.
func signatureDelta(toolBlocks map[int]bool, signature string) stream.Delta {
	var delta stream.Delta
	for index := range toolBlocks {
		delta.ToolCalls = append(delta.ToolCalls, llm.ToolCallDelta{
			Index:            index,
			ThoughtSignature: signature,
		})
	}
	return delta
}

func convertStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
