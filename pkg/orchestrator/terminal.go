// Terminal-tool detection: some tools end the turn instead of resuming it
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/modelrelay/relay/pkg/llm"
)

// DefaultTerminalTool is the tool whose successful execution hands the task
// off and must stop the ping-pong loop instead of resuming generation.
const DefaultTerminalTool = "dispatch_agent"

// DefaultDispatcherTool is the generic multi-tool dispatcher whose results
// wrap one envelope per sub-call; a terminal tool may hide one level inside
// it.
const DefaultDispatcherTool = "multi_tool"

// TerminalClassifier inspects an executed tool-call batch and decides
// whether the loop must stop early with a synthetic status message.
type TerminalClassifier struct {
	// TerminalTools are matched by exact name or suffix. Empty means the
	// default terminal tool only.
	TerminalTools []string

	// DispatcherTool is the multi-tool dispatcher name searched one level
	// deep. Empty means DefaultDispatcherTool.
	DispatcherTool string
}

// TerminalOutcome describes a positive classification.
type TerminalOutcome struct {
	Matched bool

	// Message is the human-readable status that supersedes any further
	// generation for this round.
	Message string

	// SessionRef is the optional branch/session identifier extracted from
	// the result payload.
	SessionRef string
}

// dispatchEnvelope is the per-sub-call result wrapper a dispatcher returns.
type dispatchEnvelope struct {
	Tool    string          `json:"tool"`
	Name    string          `json:"name"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// dispatchPayload is the argument/result shape of the terminal tool itself.
type dispatchPayload struct {
	Task        string   `json:"task"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	ToolGroups  []string `json:"tool_groups"`
	BranchName  string   `json:"branch_name"`
	SessionID   string   `json:"session_id"`
}

func (c TerminalClassifier) terminalNames() []string {
	if len(c.TerminalTools) > 0 {
		return c.TerminalTools
	}
	return []string{DefaultTerminalTool}
}

func (c TerminalClassifier) dispatcherName() string {
	if c.DispatcherTool != "" {
		return c.DispatcherTool
	}
	return DefaultDispatcherTool
}

// matchesTerminal reports whether a tool name designates a terminal tool,
// by exact or suffix match.
func (c TerminalClassifier) matchesTerminal(name string) bool {
	for _, terminal := range c.terminalNames() {
		if name == terminal || strings.HasSuffix(name, "_"+terminal) {
			return true
		}
	}
	return false
}

// Classify checks one round's calls-with-results. A successful call to a
// terminal tool (directly, or nested one level inside the dispatcher)
// produces the status message that replaces further generation.
func (c TerminalClassifier) Classify(calls []llm.ToolCall, results []llm.ToolResult) TerminalOutcome {
	byID := make(map[string]llm.ToolResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	for _, call := range calls {
		result, ok := byID[call.ID]
		if !ok {
			continue
		}

		if c.matchesTerminal(call.Function.Name) {
			if !result.Success {
				continue
			}
			return c.outcome(call.Function.Arguments, string(result.Result))
		}

		// One level of nesting: a dispatcher call whose result array
		// carries per-sub-call envelopes.
		if call.Function.Name == c.dispatcherName() && result.Success {
			if outcome, found := c.classifyDispatched(result.Result); found {
				return outcome
			}
		}
	}

	return TerminalOutcome{}
}

func (c TerminalClassifier) classifyDispatched(raw json.RawMessage) (TerminalOutcome, bool) {
	var envelopes []dispatchEnvelope
	if err := lenientUnmarshal(raw, &envelopes); err != nil {
		return TerminalOutcome{}, false
	}
	for _, env := range envelopes {
		name := env.Tool
		if name == "" {
			name = env.Name
		}
		if !c.matchesTerminal(name) || !env.Success {
			continue
		}
		return c.outcome("", string(env.Data)), true
	}
	return TerminalOutcome{}, false
}

func (c TerminalClassifier) outcome(arguments, result string) TerminalOutcome {
	var args, data dispatchPayload
	_ = lenientUnmarshal([]byte(arguments), &args)
	_ = lenientUnmarshal([]byte(result), &data)

	task := firstNonEmpty(data.Task, args.Task, data.Description, args.Description)
	groups := args.ToolGroups
	if len(groups) == 0 {
		groups = args.Tools
	}
	if len(groups) == 0 {
		groups = data.ToolGroups
	}
	sessionRef := firstNonEmpty(data.BranchName, data.SessionID, args.BranchName, args.SessionID)

	var b strings.Builder
	b.WriteString("Task handed off to a dedicated agent")
	if task != "" {
		fmt.Fprintf(&b, ": %s", task)
	}
	b.WriteString(".")
	if len(groups) > 0 {
		fmt.Fprintf(&b, " Delegated tools: %s.", strings.Join(groups, ", "))
	}
	if sessionRef != "" {
		fmt.Fprintf(&b, " Follow progress on %s.", sessionRef)
	}

	return TerminalOutcome{
		Matched:    true,
		Message:    b.String(),
		SessionRef: sessionRef,
	}
}

// lenientUnmarshal parses JSON, falling back to jsonrepair for payloads
// that arrive re-serialized and slightly malformed (a common failure mode
// for dispatcher envelopes).
func lenientUnmarshal(raw []byte, v any) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("payload is not JSON: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
