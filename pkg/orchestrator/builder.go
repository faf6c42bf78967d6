// Provider message building: each family resumes a conversation differently
package orchestrator

import (
	"strings"

	"github.com/modelrelay/relay/pkg/llm"
)

// MessageBuilder produces the provider-specific representation of "continue
// this conversation now that tools have run", plus the initial request for
// the first generation pass. The output shape is selected purely by the
// adapter's declared family, never by inspecting the model name.
type MessageBuilder struct {
	continuations *ContinuationContext
}

// NewMessageBuilder creates a builder backed by the orchestrator's
// continuation context.
func NewMessageBuilder(continuations *ContinuationContext) *MessageBuilder {
	return &MessageBuilder{continuations: continuations}
}

// BuildInitial prepares the first generation pass: the latest user message
// becomes the effective prompt, system-role messages are folded into the
// system prompt, and the remaining history is shaped for the family.
func (b *MessageBuilder) BuildInitial(info llm.AdapterInfo, messages []llm.Message, base llm.GenerateOptions) (string, llm.GenerateOptions) {
	opts := base
	prompt := llm.LatestUserText(messages)

	system, rest := llm.SplitSystemMessages(messages)
	opts.SystemPrompt = mergeSystemPrompt(base.SystemPrompt, system)

	// The prompt travels separately; history holds everything before the
	// final user message.
	history := trimTrailingUserMessage(rest)

	switch info.Family {
	case llm.FamilyStructuredParts:
		// Structured-parts providers want the prior conversation as native
		// alternating turns, not a flattened text block.
		opts.History = rebuildAlternatingTurns(history)
	case llm.FamilyStatefulResponse:
		// With server-side state only the new input is sent.
		if id, ok := b.continuations.Lookup(base.ConversationID); ok {
			opts.PreviousResponseID = id
			opts.History = nil
		} else {
			opts.History = llm.CopyMessages(history)
		}
	default:
		opts.History = llm.CopyMessages(history)
	}

	return prompt, opts
}

// BuildContinuation prepares the resumed generation pass after one tool
// round. prior is the rebuilt view of the conversation so far; calls and
// results are this round's executed batch.
func (b *MessageBuilder) BuildContinuation(info llm.AdapterInfo, base llm.GenerateOptions, prior []llm.Message, calls []llm.ToolCall, results []llm.ToolResult) llm.GenerateOptions {
	opts := base
	opts.PreviousResponseID = ""
	opts.ToolOutputs = nil

	switch info.Family {
	case llm.FamilyInlineBlock:
		opts.History = appendInlineBlockRound(llm.CopyMessages(prior), calls, results)
		// The protocol requires a resumed assistant turn to open with its
		// own thinking block, and the original (possibly very large)
		// thinking payload from the prior turn is not available here.
		opts.EnableThinking = false
		opts.ThinkingEffort = ""

	case llm.FamilyStructuredParts:
		opts.History = appendStructuredPartsRound(llm.CopyMessages(prior), calls, results)

	case llm.FamilyStatefulResponse:
		opts.History = nil
		if id, ok := b.continuations.Lookup(base.ConversationID); ok {
			opts.PreviousResponseID = id
		}
		opts.ToolOutputs = toolOutputs(results)

	default:
		opts.History = appendChatRound(llm.CopyMessages(prior), calls, results)
	}

	return opts
}

// ContinuationMessages returns one executed round in the family's own wire
// shape, used to extend the prior-message view between recursive rounds so
// the model never re-asks an already answered call. The shape must match
// the family because the next round's builder hands the whole view back to
// the adapter: a chat-shaped role="tool" message has no inline-block or
// structured-parts representation.
func ContinuationMessages(family llm.ProviderFamily, calls []llm.ToolCall, results []llm.ToolResult) []llm.Message {
	switch family {
	case llm.FamilyInlineBlock:
		return appendInlineBlockRound(nil, calls, results)
	case llm.FamilyStructuredParts:
		return appendStructuredPartsRound(nil, calls, results)
	default:
		return appendChatRound(nil, calls, results)
	}
}

func mergeSystemPrompt(explicit string, system []llm.Message) string {
	parts := make([]string, 0, len(system)+1)
	if explicit != "" {
		parts = append(parts, explicit)
	}
	for _, m := range system {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func trimTrailingUserMessage(messages []llm.Message) []llm.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return append(append([]llm.Message(nil), messages[:i]...), messages[i+1:]...)
		}
	}
	return messages
}

// rebuildAlternatingTurns maps the generic history onto the native
// alternating user/model representation: tool messages become function
// responses, consecutive same-role text turns are merged.
func rebuildAlternatingTurns(messages []llm.Message) []llm.Message {
	var out []llm.Message
	for _, m := range messages {
		switch m.Role {
		case llm.RoleTool:
			name, _ := m.Metadata["tool_name"].(string)
			out = append(out, llm.Message{
				Role: llm.RoleFunction,
				FunctionResponses: []llm.FunctionResponse{{
					ID:       m.ToolCallID,
					Name:     name,
					Response: m.Content,
				}},
			})
		case llm.RoleUser, llm.RoleAssistant:
			if n := len(out); n > 0 && out[n-1].Role == m.Role && len(m.ToolCalls) == 0 && len(out[n-1].ToolCalls) == 0 {
				out[n-1].Content = strings.TrimSpace(out[n-1].Content + "\n" + m.Content)
				continue
			}
			out = append(out, m.DeepCopy())
		}
	}
	return out
}

// appendChatRound adds the executed round as an assistant tool-call message
// followed by one role="tool" message per result.
func appendChatRound(history []llm.Message, calls []llm.ToolCall, results []llm.ToolResult) []llm.Message {
	assistant := llm.Message{Role: llm.RoleAssistant}
	for _, call := range calls {
		assistant.AddToolCall(call.DeepCopy())
	}
	history = append(history, assistant)

	for _, r := range results {
		msg := llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: r.ID,
			Content:    r.Text(),
		}
		if r.Name != "" {
			msg.SetMetadata("tool_name", r.Name)
		}
		history = append(history, msg)
	}
	return history
}

// appendInlineBlockRound adds the executed round as an assistant tool-call
// message followed by a single role="user" message carrying every result as
// a typed block referencing the original call id.
func appendInlineBlockRound(history []llm.Message, calls []llm.ToolCall, results []llm.ToolResult) []llm.Message {
	assistant := llm.Message{Role: llm.RoleAssistant}
	for _, call := range calls {
		assistant.AddToolCall(call.DeepCopy())
	}
	history = append(history, assistant)

	user := llm.Message{Role: llm.RoleUser}
	for _, r := range results {
		user.ResultBlocks = append(user.ResultBlocks, llm.ToolResultBlock{
			ToolCallID: r.ID,
			Content:    r.Text(),
			IsError:    !r.Success,
		})
	}
	return append(history, user)
}

// appendStructuredPartsRound adds the executed round as an assistant
// tool-call message, each call keeping its own opaque reasoning payload
// since the provider validates continuity per call, followed by a
// role="function" message pairing each response with its originating call.
func appendStructuredPartsRound(history []llm.Message, calls []llm.ToolCall, results []llm.ToolResult) []llm.Message {
	assistant := llm.Message{Role: llm.RoleAssistant}
	for _, call := range calls {
		assistant.AddToolCall(call.DeepCopy())
	}
	history = append(history, assistant)

	names := make(map[string]string, len(calls))
	for _, call := range calls {
		names[call.ID] = call.Function.Name
	}

	fn := llm.Message{Role: llm.RoleFunction}
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = names[r.ID]
		}
		fn.FunctionResponses = append(fn.FunctionResponses, llm.FunctionResponse{
			ID:       r.ID,
			Name:     name,
			Response: r.Text(),
			IsError:  !r.Success,
		})
	}
	return append(history, fn)
}

func toolOutputs(results []llm.ToolResult) []llm.ToolOutput {
	out := make([]llm.ToolOutput, 0, len(results))
	for _, r := range results {
		out = append(out, llm.ToolOutput{CallID: r.ID, Output: r.Text()})
	}
	return out
}
