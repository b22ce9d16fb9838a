// Package stream serves the long-lived feed-processing API and translates
// pipeline progress events into the server-sent-events wire format.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

const doneSentinel = "[DONE]"

// SSEEmitter writes progress events to an HTTP response in emission order,
// flushing after every event so a long-lived client sees each step as it
// completes. Safe for concurrent use.
type SSEEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSEEmitter wraps a response writer. The writer must support flushing;
// handlers should reject the request earlier when it does not.
func NewSSEEmitter(w io.Writer, flusher http.Flusher) *SSEEmitter {
	return &SSEEmitter{w: w, flusher: flusher}
}

// Emit writes one event. Wire shape:
//
//	event: <TYPE>\ndata: {"data": <payload>}\n\n   for data/progress events
//	event: <TYPE>\ndata: {"error": <payload>}\n\n  for errors
//	event: <TYPE>\ndata: [DONE]\n\n                for done sentinels
//
// The event line is omitted when the event carries no type name.
func (e *SSEEmitter) Emit(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}

	data, err := encodePayload(ev)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Name != "" {
		if _, err := fmt.Fprintf(e.w, "event: %s\n", ev.Name); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	e.flusher.Flush()

	return nil
}

func encodePayload(ev domain.Event) (string, error) {
	if ev.Kind == domain.EventDone {
		return doneSentinel, nil
	}

	key := "data"
	if ev.Kind == domain.EventError {
		key = "error"
	}

	body, err := json.Marshal(map[string]any{key: ev.Payload})
	if err != nil {
		return "", fmt.Errorf("encode event payload: %w", err)
	}

	return string(body), nil
}
