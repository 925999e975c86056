// ABOUTME: Streaming client for OpenAI-compatible chat completion endpoints
// ABOUTME: Yields incremental text fragments over a channel in emission order

package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-chat/parley/internal/store"
)

// ErrUpstream is returned for connection-level failures talking to the model
// endpoint: refused connections, non-2xx responses, malformed stream frames.
// Distinct from an empty-but-successful stream, which yields only EventDone.
var ErrUpstream = errors.New("upstream error")

// EventType identifies a stream event
type EventType int

const (
	// EventText carries the next incremental piece of assistant output
	EventText EventType = iota
	// EventDone marks normal end of stream
	EventDone
	// EventError marks stream failure; Err wraps ErrUpstream
	EventError
)

// Event is one item produced by a stream
type Event struct {
	Type EventType
	Text string
	Err  error
}

// eventBufferSize bounds the stream channel so a slow consumer applies
// backpressure instead of unbounded buffering.
const eventBufferSize = 16

// Client opens streaming connections to an OpenAI-compatible endpoint.
// It holds no connection state: settings are read at call time so a
// mid-session settings change takes effect on the next turn.
type Client struct {
	logger *slog.Logger
}

// New creates an upstream client. Pass nil logger for default.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger.With("component", "upstream")}
}

// Stream opens a streaming chat completion and returns a channel of events.
// The sequence is zero or more EventText followed by exactly one EventDone or
// EventError. Fragments arrive in emission order; the stream is not
// restartable. Cancelling ctx closes the underlying connection and stops the
// stream immediately.
//
// A nil error with an immediately-closed channel never happens: open failures
// are returned synchronously so callers can distinguish "could not connect"
// from "connected, stream failed mid-way".
func (c *Client) Stream(ctx context.Context, req openai.ChatCompletionRequest, settings *store.ModelSettings) (<-chan Event, error) {
	apiKey := settings.APIKey
	if apiKey == "" {
		// Some OpenAI-compatible servers reject empty bearer tokens
		apiKey = "empty"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = settings.Host
	client := openai.NewClientWithConfig(cfg)

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: opening stream: %v", ErrUpstream, err)
	}

	events := make(chan Event, eventBufferSize)

	go func() {
		defer close(events)
		defer stream.Close()

		fragments := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				c.logger.Debug("stream completed", "fragments", fragments)
				c.emit(ctx, events, Event{Type: EventDone})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					// Caller cancelled; the connection is already closed
					c.logger.Debug("stream cancelled", "fragments", fragments)
					c.emit(ctx, events, Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrUpstream, ctx.Err())})
					return
				}
				c.logger.Warn("stream receive failed", "error", err, "fragments", fragments)
				c.emit(ctx, events, Event{Type: EventError, Err: fmt.Errorf("%w: receiving frame: %v", ErrUpstream, err)})
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			fragments++
			if !c.emit(ctx, events, Event{Type: EventText, Text: delta}) {
				return
			}
		}
	}()

	return events, nil
}

// emit sends an event unless the context is done. Terminal events still get
// a best-effort send so a draining consumer sees why the stream ended.
func (c *Client) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		// One last non-blocking attempt for terminal events
		select {
		case events <- ev:
		default:
		}
		return false
	}
}
