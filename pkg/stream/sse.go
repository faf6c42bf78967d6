// Server-Sent Events parsing for adapters that speak raw event streams
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/modelrelay/relay/pkg/llm"
)

// maxSSELineSize is the maximum size of a single SSE line (1 MB). The
// default bufio.Scanner limit is 64 KiB, which is too small for large SSE
// events such as tool-call arguments or long completions. If a line exceeds
// this limit the scanner returns a wrapped bufio.ErrTooLong via Next().
const maxSSELineSize = 1 * 1024 * 1024

// SSEEvent is one framed server-sent event. Data joins consecutive "data:"
// lines with newlines; Name carries the optional "event:" field.
type SSEEvent struct {
	Name string
	Data string
}

// SSEScanner reads Server-Sent Events from an io.Reader incrementally. It
// handles multi-line data fields, skips comments and empty lines, and
// detects the [DONE] sentinel used by OpenAI-compatible APIs.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner creates an SSEScanner reading from r.
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next event. It returns io.EOF when the stream ends or
// the [DONE] sentinel is encountered.
func (s *SSEScanner) Next() (SSEEvent, error) {
	var (
		name      string
		dataLines []string
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line signals end of an event; flush accumulated data lines.
		if line == "" {
			if len(dataLines) > 0 {
				return SSEEvent{Name: name, Data: strings.Join(dataLines, "\n")}, nil
			}
			name = ""
			continue
		}

		// Skip SSE comments
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			// The framing rules remove exactly one leading space after the
			// colon; any further whitespace belongs to the payload.
			data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if strings.TrimSpace(data) == "[DONE]" {
				return SSEEvent{}, io.EOF
			}
			dataLines = append(dataLines, data)
			continue
		}

		// Ignore other SSE fields (id:, retry:).
	}

	if err := s.scanner.Err(); err != nil {
		return SSEEvent{}, fmt.Errorf("SSE scanner error: %w", err)
	}

	if len(dataLines) > 0 {
		return SSEEvent{Name: name, Data: strings.Join(dataLines, "\n")}, nil
	}

	return SSEEvent{}, io.EOF
}

// ParseFunc converts one framed event payload into a Delta. The bool result
// is false when the event carries nothing worth emitting. A returned error
// marks the individual event as malformed; it is logged and skipped, never
// fatal to the stream.
type ParseFunc func(event SSEEvent) (Delta, bool, error)

// NormalizeSSE decodes a framed byte stream incrementally and feeds it
// through the Normalizer. The body is closed when the stream ends or ctx is
// cancelled. This is the byte-stream form of the normalizer; it emits the
// identical fragment contract as Normalize.
func (n *Normalizer) NormalizeSSE(ctx context.Context, body io.ReadCloser, parse ParseFunc) <-chan llm.StreamFragment {
	deltas := make(chan Delta, 10)

	go func() {
		defer close(deltas)
		defer func() { _ = body.Close() }()

		scanner := NewSSEScanner(body)
		for {
			if ctx.Err() != nil {
				return
			}

			event, err := scanner.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				// A broken transport is a whole-stream failure.
				select {
				case deltas <- Delta{Err: &llm.Error{
					Code:    "stream_read_error",
					Message: err.Error(),
					Type:    "api_error",
				}}:
				case <-ctx.Done():
				}
				return
			}

			delta, emit, parseErr := parse(event)
			if parseErr != nil {
				n.logger().Warn("skipping malformed stream event",
					"event", event.Name,
					"error", parseErr)
				continue
			}
			if !emit {
				continue
			}

			select {
			case deltas <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return n.Normalize(ctx, deltas)
}
