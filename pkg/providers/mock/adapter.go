// Package mock provides a scripted StreamAdapter for tests and local
// development. Each GenerateStream call consumes the next scripted pass, so a
// test can stage a tool-call round followed by a plain completion and assert
// on the requests the engine built in between.
package mock

import (
	"context"
	"sync"

	"github.com/modelrelay/relay/pkg/llm"
)

// Recorded captures one GenerateStream invocation.
type Recorded struct {
	Prompt string
	Opts   llm.GenerateOptions
}

// Adapter is a scripted llm.StreamAdapter. Passes are consumed in FIFO
// order; when the script runs out, a bare completion fragment is produced so
// a loop under test always terminates.
type Adapter struct {
	info llm.AdapterInfo

	mu       sync.Mutex
	passes   [][]llm.StreamFragment
	requests []Recorded

	// generate, when set, takes precedence over queued passes.
	generate func(pass int, prompt string, opts llm.GenerateOptions) []llm.StreamFragment
}

// New creates a mock adapter reporting the given identity.
func New(provider string, family llm.ProviderFamily, model string) *Adapter {
	return &Adapter{
		info: llm.AdapterInfo{
			Provider:         provider,
			Family:           family,
			Model:            model,
			SupportsThinking: true,
		},
	}
}

// QueuePass appends one scripted generation pass. The completion fragment is
// appended automatically if the script does not end with one.
func (a *Adapter) QueuePass(fragments ...llm.StreamFragment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passes = append(a.passes, fragments)
}

// SetGenerator replaces queued passes with a function invoked per call.
func (a *Adapter) SetGenerator(fn func(pass int, prompt string, opts llm.GenerateOptions) []llm.StreamFragment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generate = fn
}

// Requests returns a copy of every recorded invocation.
func (a *Adapter) Requests() []Recorded {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Recorded(nil), a.requests...)
}

// GenerateStream implements llm.StreamAdapter.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamFragment, error) {
	a.mu.Lock()
	a.requests = append(a.requests, Recorded{Prompt: prompt, Opts: opts})
	pass := len(a.requests) - 1

	var fragments []llm.StreamFragment
	switch {
	case a.generate != nil:
		fragments = a.generate(pass, prompt, opts)
	case len(a.passes) > 0:
		fragments = a.passes[0]
		a.passes = a.passes[1:]
	}
	a.mu.Unlock()

	if !endsWithTerminal(fragments) {
		fragments = append(fragments, llm.NewCompletionFragment(nil, nil, "stop"))
	}

	out := make(chan llm.StreamFragment, len(fragments))
	go func() {
		defer close(out)
		for _, f := range fragments {
			if f.Usage != nil && opts.OnUsage != nil {
				opts.OnUsage(*f.Usage)
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if f.IsError() {
				return
			}
		}
	}()
	return out, nil
}

// Info implements llm.StreamAdapter.
func (a *Adapter) Info() llm.AdapterInfo {
	return a.info
}

// Close implements llm.StreamAdapter.
func (a *Adapter) Close() error {
	return nil
}

func endsWithTerminal(fragments []llm.StreamFragment) bool {
	if len(fragments) == 0 {
		return false
	}
	last := fragments[len(fragments)-1]
	return last.Complete || last.IsError()
}
