// Package stream converts turn output into client-consumable event streams
// and records them for resumption.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/parallax-ai/chat-platform/internal/model"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// SSEWriter frames stream events as server-sent-event records. Each record
// is one `data:` line carrying the JSON-encoded event; the event's type
// field discriminates records on the client side.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares the response for server-sent events and returns a
// writer, or ErrStreamingUnsupported if the connection cannot stream.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event record and flushes it to the client.
func (s *SSEWriter) Send(event *model.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes an SSE comment line to hold the connection open.
func (s *SSEWriter) KeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
