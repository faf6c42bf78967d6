// Streaming orchestrator: the public entry point for one conversation turn
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/modelrelay/relay/pkg/llm"
)

// Config holds orchestrator-wide settings. Zero values fall back to the
// documented defaults.
type Config struct {
	// DefaultProvider and DefaultModel are used when a request does not
	// name its own. A call without an effective provider and model fails
	// before any generation begins.
	DefaultProvider string
	DefaultModel    string

	// MaxToolIterations caps ping-pong rounds per turn (default 15).
	MaxToolIterations int

	// ProgressInterval is the normalizer coalescing threshold passed to
	// adapters that honor it; kept here so callers tune one knob.
	ProgressInterval int

	// Terminal configures terminal-tool classification.
	Terminal TerminalClassifier

	// DiscoveryTool is the name of the catalog-expanding tool (default
	// "discover_tools").
	DiscoveryTool string

	Logger *slog.Logger
}

// Hooks are caller-facing event callbacks.
type Hooks struct {
	// OnToolEvent fires around each individual tool invocation.
	OnToolEvent llm.ToolEventHook

	// OnUsage fires when token usage becomes known. For some providers this
	// happens asynchronously after the final yield.
	OnUsage func(llm.Usage)
}

// Request describes one conversation turn.
type Request struct {
	Provider       string
	Model          string
	SystemPrompt   string
	Tools          []llm.Tool
	EnableThinking bool
	ThinkingEffort string
	ConversationID string
	ToolContext    llm.ToolContext
	Temperature    *float32
	MaxTokens      *int
}

// Yield is one unit of orchestrator output: an incremental chunk plus the
// running accumulated view. Exactly one Yield per turn has Complete set,
// and it is the last one.
type Yield struct {
	Chunk             string         `json:"chunk,omitempty"`
	Complete          bool           `json:"complete"`
	Content           string         `json:"content"`
	ToolCalls         []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallsReady    bool           `json:"tool_calls_ready,omitempty"`
	Usage             *llm.Usage     `json:"usage,omitempty"`
	Reasoning         string         `json:"reasoning,omitempty"`
	ReasoningComplete bool           `json:"reasoning_complete,omitempty"`
}

// Orchestrator owns adapter registration, the per-conversation continuation
// context, and the tool loop. One orchestrator instance must not be driven
// by two concurrent callers for the same conversation id; that contract is
// the caller's to keep.
type Orchestrator struct {
	cfg Config

	mu       sync.RWMutex
	adapters map[string]llm.StreamAdapter

	executor llm.ToolExecutor
	hooks    Hooks

	continuations *ContinuationContext
	builder       *MessageBuilder
}

// New creates an orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	continuations := NewContinuationContext()
	return &Orchestrator{
		cfg:           cfg,
		adapters:      make(map[string]llm.StreamAdapter),
		continuations: continuations,
		builder:       NewMessageBuilder(continuations),
	}
}

// RegisterAdapter makes a generation adapter available under a provider
// name.
func (o *Orchestrator) RegisterAdapter(provider string, adapter llm.StreamAdapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[strings.ToLower(provider)] = adapter
}

// SetExecutor wires the external tool executor. It may be left unset;
// every tool call then fails with a fixed unavailability message and the
// loop still reports the failure to the model.
func (o *Orchestrator) SetExecutor(executor llm.ToolExecutor) {
	o.executor = executor
}

// SetHooks wires the caller-facing event hooks.
func (o *Orchestrator) SetHooks(hooks Hooks) {
	o.hooks = hooks
}

// Continuations exposes the stateful-response continuation context, mainly
// so callers can reset a conversation.
func (o *Orchestrator) Continuations() *ContinuationContext {
	return o.continuations
}

func (o *Orchestrator) maxIterations() int {
	if o.cfg.MaxToolIterations > 0 {
		return o.cfg.MaxToolIterations
	}
	return DefaultMaxToolIterations
}

func (o *Orchestrator) classifier() TerminalClassifier {
	return o.cfg.Terminal
}

func (o *Orchestrator) discoveryTool() string {
	if o.cfg.DiscoveryTool != "" {
		return o.cfg.DiscoveryTool
	}
	return DefaultDiscoveryTool
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.cfg.Logger != nil {
		return o.cfg.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) adapterFor(provider string) (llm.StreamAdapter, *llm.Error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	adapter, ok := o.adapters[strings.ToLower(provider)]
	if !ok {
		available := make([]string, 0, len(o.adapters))
		for name := range o.adapters {
			available = append(available, name)
		}
		sort.Strings(available)
		return nil, &llm.Error{
			Code:    llm.ErrCodeMissingAdapter,
			Message: fmt.Sprintf("no generation adapter registered for provider %q (available: %s)", provider, strings.Join(available, ", ")),
			Type:    "validation_error",
		}
	}
	return adapter, nil
}

// GenerateStream runs one conversation turn: it validates configuration,
// builds the initial request, drives the first generation pass, and hands
// control to the continuation engine once a complete tool-call batch
// appears. The returned channel is lazy, finite and forward-only; it
// terminates exactly once with Complete set.
func (o *Orchestrator) GenerateStream(ctx context.Context, messages []llm.Message, req Request) (<-chan Yield, error) {
	provider := req.Provider
	if provider == "" {
		provider = o.cfg.DefaultProvider
	}
	if provider == "" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeMissingAdapter,
			Message: "no provider requested and no default provider configured",
			Type:    "validation_error",
		}
	}

	adapter, aerr := o.adapterFor(provider)
	if aerr != nil {
		return nil, aerr
	}

	model := req.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	if model == "" {
		model = adapter.Info().Model
	}
	if model == "" {
		return nil, &llm.Error{
			Code:    llm.ErrCodeMissingModel,
			Message: fmt.Sprintf("no model requested for provider %q and no default model configured", provider),
			Type:    "validation_error",
		}
	}

	base := llm.GenerateOptions{
		Model:          model,
		SystemPrompt:   req.SystemPrompt,
		Tools:          req.Tools,
		EnableThinking: req.EnableThinking,
		ThinkingEffort: req.ThinkingEffort,
		ConversationID: req.ConversationID,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		OnUsage:        o.hooks.OnUsage,
	}

	prompt, opts := o.builder.BuildInitial(adapter.Info(), messages, base)

	o.logger().Debug("starting turn",
		"provider", provider,
		"model", model,
		"tools", len(req.Tools),
		"conversation", req.ConversationID)

	out := make(chan Yield, 10)

	go func() {
		defer close(out)

		state := &turnState{}

		completion, ok := o.streamOnce(ctx, adapter, prompt, opts, out, state)
		if !ok {
			return
		}

		if completion.HasToolCalls() && len(req.Tools) > 0 {
			// Prior view for the continuation: the original non-system
			// history plus the prompt that opened the turn.
			_, history := llm.SplitSystemMessages(messages)
			eng := &engine{
				orch:    o,
				adapter: adapter,
				opts:    opts,
				toolCtx: req.ToolContext,
				tools:   req.Tools,
			}
			eng.run(ctx, out, state, llm.CopyMessages(history), completion.ToolCalls)
			return
		}

		o.emit(ctx, out, state.finalYield(completion.ToolCalls))
	}()

	return out, nil
}

// streamOnce drives a single generation pass, re-yielding every delta as it
// arrives. It returns the completion fragment and true, or false when the
// pass already terminated the turn (stream error or context cancellation).
func (o *Orchestrator) streamOnce(ctx context.Context, adapter llm.StreamAdapter, prompt string, opts llm.GenerateOptions, out chan<- Yield, state *turnState) (llm.StreamFragment, bool) {
	fragments, err := adapter.GenerateStream(ctx, prompt, opts)
	if err != nil {
		state.appendContent(fmt.Sprintf("Generation failed: %v", err))
		o.emit(ctx, out, state.finalYield(nil))
		return llm.StreamFragment{}, false
	}

	for {
		select {
		case <-ctx.Done():
			return llm.StreamFragment{}, false
		case frag, open := <-fragments:
			if !open {
				// Adapters normalize through pkg/stream, which guarantees a
				// completion fragment; a bare close means the adapter
				// misbehaved.
				o.logger().Warn("adapter stream closed without completion fragment")
				o.emit(ctx, out, state.finalYield(nil))
				return llm.StreamFragment{}, false
			}

			switch {
			case frag.IsError():
				state.appendContent(fmt.Sprintf("Generation failed: %s", frag.Err.Message))
				o.emit(ctx, out, state.finalYield(nil))
				return llm.StreamFragment{}, false

			case frag.Complete:
				// Adapters invoke opts.OnUsage themselves when usage becomes
				// known; here the final yield only records the last value.
				if frag.Usage != nil {
					state.usage = frag.Usage
				}
				if frag.ResponseID != "" {
					o.continuations.Record(opts.ConversationID, frag.ResponseID)
				}
				return frag, true

			default:
				y := Yield{Content: state.content.String()}
				if frag.Content != "" {
					state.content.WriteString(frag.Content)
					y.Chunk = frag.Content
					y.Content = state.content.String()
				}
				if frag.Reasoning != "" {
					state.reasoning.WriteString(frag.Reasoning)
					y.Reasoning = frag.Reasoning
				}
				y.ReasoningComplete = frag.ReasoningComplete
				o.emit(ctx, out, y)
			}
		}
	}
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- Yield, y Yield) {
	select {
	case out <- y:
	case <-ctx.Done():
	}
}

// turnState accumulates the caller-visible view across all rounds of one
// turn.
type turnState struct {
	content   strings.Builder
	reasoning strings.Builder
	usage     *llm.Usage
}

func (s *turnState) appendContent(text string) {
	if s.content.Len() > 0 && text != "" {
		s.content.WriteString("\n\n")
	}
	s.content.WriteString(text)
}

func (s *turnState) finalYield(calls []llm.ToolCall) Yield {
	return Yield{
		Complete:  true,
		Content:   s.content.String(),
		ToolCalls: calls,
		Usage:     s.usage,
	}
}
