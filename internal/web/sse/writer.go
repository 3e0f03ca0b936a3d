// Package sse provides Server-Sent Events utilities for streaming chat
// responses. Events carry JSON payloads.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event names emitted during a chat turn.
const (
	EventChunk = "chunk" // partial model output text
	EventTool  = "tool"  // a tool invocation with its result
	EventDone  = "done"  // final turn result
	EventError = "error" // terminal failure
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets the stream headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// writeEvent writes one named event. Multi-line payloads get a "data: "
// prefix per line, as the SSE framing requires.
func (w *Writer) writeEvent(event, payload string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for _, line := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// writeJSON marshals v and sends it as the payload of the named event.
func (w *Writer) writeJSON(ctx context.Context, event string, v any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return w.writeEvent(event, string(data))
}

// WriteChunk sends a partial text chunk of the model response.
func (w *Writer) WriteChunk(ctx context.Context, text string) error {
	return w.writeJSON(ctx, EventChunk, map[string]string{"text": text})
}

// ToolCall is the payload of a tool event: one tool invocation and its
// result. Ref correlates the result with the model's request; Result is nil
// when the tool never ran.
type ToolCall struct {
	Name   string `json:"name"`
	Ref    string `json:"ref,omitempty"`
	Result any    `json:"result"`
}

// WriteTool sends one tool invocation with its result so the client can
// render it alongside the assistant text.
func (w *Writer) WriteTool(ctx context.Context, call ToolCall) error {
	return w.writeJSON(ctx, EventTool, call)
}

// WriteDone sends the final turn result.
func (w *Writer) WriteDone(ctx context.Context, v any) error {
	return w.writeJSON(ctx, EventDone, v)
}

// WriteError sends a terminal error event. It ignores context cancellation
// since it is often the last thing written on a failing stream.
func (w *Writer) WriteError(code, message string) error {
	data, err := json.Marshal(map[string]string{"code": code, "message": message})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	return w.writeEvent(EventError, string(data))
}
