// Fragment normalization: one output contract for every source form
package stream

import (
	"context"
	"log/slog"

	"github.com/modelrelay/relay/pkg/llm"
)

// DefaultProgressInterval is the minimum number of buffered content or
// reasoning bytes before a progress fragment is emitted. Coalescing avoids
// flooding consumers with sub-token-sized updates.
const DefaultProgressInterval = 24

// Delta is one pre-parsed unit of provider output. Adapters translate their
// vendor stream (SDK chunk objects or individually parsed SSE payloads)
// into Deltas; the Normalizer turns Deltas into StreamFragments.
type Delta struct {
	Content      string
	Reasoning    string
	ToolCalls    []llm.ToolCallDelta
	FinishReason string
	Usage        *llm.Usage
	ResponseID   string

	// Err is a whole-stream failure (as opposed to a malformed individual
	// event, which the producer drops before it becomes a Delta).
	Err *llm.Error
}

// Normalizer converts a delta sequence into the normalized fragment
// contract: lazy, finite, non-restartable, with exactly one Complete
// fragment produced last, even when the transport dies without a finish
// sentinel.
type Normalizer struct {
	// ProgressInterval is the coalescing threshold in bytes. Zero means
	// DefaultProgressInterval; negative disables coalescing entirely.
	ProgressInterval int

	Logger *slog.Logger
}

func (n *Normalizer) interval() int {
	if n.ProgressInterval == 0 {
		return DefaultProgressInterval
	}
	if n.ProgressInterval < 0 {
		return 1
	}
	return n.ProgressInterval
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// Normalize consumes deltas until the channel closes or ctx is cancelled
// and produces the fragment stream. The returned channel is closed after
// the single completion fragment.
func (n *Normalizer) Normalize(ctx context.Context, deltas <-chan Delta) <-chan llm.StreamFragment {
	out := make(chan llm.StreamFragment, 10)

	go func() {
		defer close(out)

		var (
			acc           = NewToolCallAccumulator()
			contentBuf    []byte
			reasoningBuf  []byte
			reasoningSeen bool
			reasoningDone bool
			usage         *llm.Usage
			responseID    string
			finishReason  string
			sawSentinel   bool
		)

		send := func(f llm.StreamFragment) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		flushReasoning := func(complete bool) bool {
			if len(reasoningBuf) == 0 && !(complete && reasoningSeen && !reasoningDone) {
				return true
			}
			frag := llm.StreamFragment{Reasoning: string(reasoningBuf)}
			reasoningBuf = reasoningBuf[:0]
			if complete {
				frag.ReasoningComplete = true
				reasoningDone = true
			}
			return send(frag)
		}

		flushContent := func() bool {
			if len(contentBuf) == 0 {
				return true
			}
			frag := llm.StreamFragment{Content: string(contentBuf)}
			contentBuf = contentBuf[:0]
			return send(frag)
		}

		complete := func() {
			flushReasoning(reasoningSeen && !reasoningDone)
			flushContent()
			reason := finishReason
			if !sawSentinel {
				// Transport ended without a finish sentinel; callers must
				// never observe a silent unterminated stream.
				reason = "interrupted"
				n.logger().Warn("stream ended without completion sentinel, synthesizing one")
			} else if reason == "" {
				reason = "stop"
			}
			frag := llm.NewCompletionFragment(acc.Calls(), usage, reason)
			frag.ResponseID = responseID
			send(frag)
		}

		for {
			select {
			case <-ctx.Done():
				complete()
				return
			case delta, ok := <-deltas:
				if !ok {
					complete()
					return
				}

				if delta.Err != nil {
					flushReasoning(reasoningSeen && !reasoningDone)
					flushContent()
					send(llm.NewErrorFragment(delta.Err))
					return
				}

				if delta.Usage != nil {
					usage = delta.Usage
				}
				if delta.ResponseID != "" {
					responseID = delta.ResponseID
				}
				for _, tc := range delta.ToolCalls {
					acc.Apply(tc)
				}

				if delta.Reasoning != "" && !reasoningDone {
					reasoningSeen = true
					reasoningBuf = append(reasoningBuf, delta.Reasoning...)
					if len(reasoningBuf) >= n.interval() {
						if !flushReasoning(false) {
							return
						}
					}
				}

				if delta.Content != "" {
					// First content after reasoning closes the reasoning
					// phase.
					if reasoningSeen && !reasoningDone {
						if !flushReasoning(true) {
							return
						}
					}
					contentBuf = append(contentBuf, delta.Content...)
					if len(contentBuf) >= n.interval() {
						if !flushContent() {
							return
						}
					}
				}

				if delta.FinishReason != "" {
					sawSentinel = true
					finishReason = delta.FinishReason
					// Completion is emitted when the channel closes so a
					// trailing usage-only delta can still attach.
				}
			}
		}
	}()

	return out
}
