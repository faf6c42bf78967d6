// Tool continuation engine: the generate → execute → resume ping-pong loop
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelrelay/relay/pkg/llm"
	"github.com/modelrelay/relay/pkg/stream"
)

// DefaultMaxToolIterations caps the number of ping-pong rounds per turn.
const DefaultMaxToolIterations = 15

// DefaultDiscoveryTool is the tool whose results expand the active tool
// catalog mid-turn.
const DefaultDiscoveryTool = "discover_tools"

// pauseInstruction is injected as final content when the iteration cap is
// exceeded. Recoverable by the user, not an error.
const pauseInstruction = "I've reached the limit of consecutive tool calls for a single turn. " +
	"Please review the progress above and tell me how you'd like to continue."

// engine drives the recursive tool loop for one orchestration call. State
// is owned by value per call; nothing is shared across turns.
type engine struct {
	orch    *Orchestrator
	adapter llm.StreamAdapter
	opts    llm.GenerateOptions
	toolCtx llm.ToolContext
	tools   []llm.Tool
}

// run executes tool rounds until the model stops asking for tools, a
// terminal tool fires, the iteration cap is hit, or an error occurs. Every
// path emits exactly one final Complete yield before returning.
func (e *engine) run(ctx context.Context, out chan<- Yield, state *turnState, prior []llm.Message, calls []llm.ToolCall) {
	info := e.adapter.Info()

	for round := 1; ; round++ {
		if round > e.orch.maxIterations() {
			state.appendContent(pauseInstruction)
			e.orch.emit(ctx, out, state.finalYield(nil))
			return
		}

		// Partial or truncated arguments must never reach a tool. This is
		// the "argument assembly invoked before the stream signaled
		// completion" bug class surfaced as a distinguishable error.
		for _, call := range calls {
			if !stream.ArgumentsBalanced(call.Function.Arguments) {
				e.fail(ctx, out, state, &llm.Error{
					Code:    llm.ErrCodeIncompleteArguments,
					Message: fmt.Sprintf("tool call %q has incomplete arguments; the stream never signaled completion", call.Function.Name),
					Type:    "invalid_request_error",
				})
				return
			}
		}

		e.orch.emit(ctx, out, Yield{ToolCalls: calls, ToolCallsReady: true, Content: state.content.String()})

		results := e.execute(ctx, calls)

		if outcome := e.orch.classifier().Classify(calls, results); outcome.Matched {
			state.appendContent(outcome.Message)
			e.orch.emit(ctx, out, state.finalYield(calls))
			return
		}

		e.tools = llm.MergeToolCatalog(e.tools, discoveredTools(e.orch.discoveryTool(), results))

		// Carry opaque reasoning forward before the batch reaches the
		// builder; some providers validate continuity per call.
		if RequiresPreservation(info.Family, e.opts.Model) {
			calls = AttachToCalls(calls, ExtractFromBatch(calls))
		}

		e.opts.Tools = e.tools
		opts := e.orch.builder.BuildContinuation(info, e.opts, prior, calls, results)

		// Rebuild (never mutate) the prior view so the next round's builder
		// sees the executed call and its result and the model does not
		// repeat an already-answered call.
		prior = append(llm.CopyMessages(prior), ContinuationMessages(info.Family, calls, results)...)

		completion, ok := e.orch.streamOnce(ctx, e.adapter, "", opts, out, state)
		if !ok {
			return
		}

		if completion.HasToolCalls() && len(e.tools) > 0 {
			calls = completion.ToolCalls
			continue
		}

		e.orch.emit(ctx, out, state.finalYield(nil))
		return
	}
}

// execute submits the batch as one unit. Internal concurrency or sequencing
// is the executor's responsibility. A missing executor degrades to per-call
// failures so the loop can report the unavailability to the model.
func (e *engine) execute(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	executor := e.orch.executor
	if executor == nil {
		return llm.UnavailableResults(calls)
	}
	results := executor.ExecuteToolCalls(ctx, calls, e.toolCtx, e.orch.hooks.OnToolEvent)

	// Guarantee one result per call even against a sloppy executor.
	byID := make(map[string]llm.ToolResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	complete := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		if r, ok := byID[call.ID]; ok {
			complete = append(complete, r)
			continue
		}
		complete = append(complete, llm.ToolResult{
			ID:      call.ID,
			Name:    call.Function.Name,
			Success: false,
			Error:   "executor returned no result for this call",
		})
	}
	return complete
}

func (e *engine) fail(ctx context.Context, out chan<- Yield, state *turnState, err *llm.Error) {
	state.appendContent(fmt.Sprintf("Tool execution failed: %s", err.Message))
	e.orch.emit(ctx, out, state.finalYield(nil))
}

// discoveredTools extracts newly declared tools from the results of the
// tool-discovery tool, if it ran this round.
func discoveredTools(discoveryName string, results []llm.ToolResult) []llm.Tool {
	var discovered []llm.Tool
	for _, r := range results {
		if r.Name != discoveryName || !r.Success {
			continue
		}
		var payload struct {
			Tools []llm.Tool `json:"tools"`
		}
		if err := json.Unmarshal(r.Result, &payload); err != nil {
			// Lenient second pass: catalogs frequently arrive
			// double-encoded.
			if lenientUnmarshal(r.Result, &payload) != nil {
				continue
			}
		}
		discovered = append(discovered, payload.Tools...)
	}
	return discovered
}
