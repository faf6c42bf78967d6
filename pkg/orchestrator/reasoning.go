// Opaque reasoning carry-over for providers that validate thought continuity
package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/modelrelay/relay/pkg/llm"
)

// ReasoningPayload is the provider-opaque data that must be echoed back
// unmodified on the turn following a tool call. The engine never parses or
// transforms its contents.
type ReasoningPayload struct {
	ThoughtSignature string
	ReasoningDetails json.RawMessage
}

// IsZero reports whether no payload was found.
func (p ReasoningPayload) IsZero() bool {
	return p.ThoughtSignature == "" && len(p.ReasoningDetails) == 0
}

// signedThoughtModels are model family prefixes known to require their
// signed thoughts echoed back on tool continuations.
var signedThoughtModels = []string{
	"gemini-2.5",
	"gemini-3",
}

// RequiresPreservation decides whether a provider/model pair needs reasoning
// preservation on tool continuations.
func RequiresPreservation(family llm.ProviderFamily, model string) bool {
	switch family {
	case llm.FamilyStructuredParts:
		for _, prefix := range signedThoughtModels {
			if strings.HasPrefix(model, prefix) {
				return true
			}
		}
		return false
	case llm.FamilyChat:
		// OpenRouter-routed reasoning models report reasoning_details that
		// must round-trip; presence of the payload itself is the signal, so
		// preservation is always attempted for this family.
		return true
	default:
		return false
	}
}

// ExtractFromCall pulls the opaque payload off an accumulated tool call.
// Candidate locations are checked in priority order because providers are
// inconsistent about where they place this data.
func ExtractFromCall(call llm.ToolCall) ReasoningPayload {
	payload := ReasoningPayload{}
	if call.ThoughtSignature != "" {
		payload.ThoughtSignature = call.ThoughtSignature
	}
	if len(call.ReasoningDetails) > 0 {
		payload.ReasoningDetails = call.ReasoningDetails
	}
	return payload
}

// ExtractFromBatch returns the first non-empty payload found across a
// completed batch, checking call-level signatures before call-level
// reasoning details.
func ExtractFromBatch(calls []llm.ToolCall) ReasoningPayload {
	for _, call := range calls {
		if call.ThoughtSignature != "" {
			return ReasoningPayload{ThoughtSignature: call.ThoughtSignature, ReasoningDetails: call.ReasoningDetails}
		}
	}
	for _, call := range calls {
		if len(call.ReasoningDetails) > 0 {
			return ReasoningPayload{ReasoningDetails: call.ReasoningDetails}
		}
	}
	return ReasoningPayload{}
}

// AttachToCalls sets the opaque payload on every call that does not already
// carry its own, before the batch is handed to the message builder.
// Structured-parts providers validate continuity per individual call, so
// attachment happens at the call level rather than the message level.
func AttachToCalls(calls []llm.ToolCall, payload ReasoningPayload) []llm.ToolCall {
	if payload.IsZero() {
		return calls
	}
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		out[i] = call.DeepCopy()
		if out[i].ThoughtSignature == "" {
			out[i].ThoughtSignature = payload.ThoughtSignature
		}
		if len(out[i].ReasoningDetails) == 0 && len(payload.ReasoningDetails) > 0 {
			out[i].ReasoningDetails = append(json.RawMessage(nil), payload.ReasoningDetails...)
		}
	}
	return out
}
