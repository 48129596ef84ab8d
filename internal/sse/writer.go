package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type flusher interface {
	Flush() error
}

// Writer emits frames and flushes after each one so that no intermediate
// buffer holds a frame back from the reader.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w. If w has a Flush() error method (bufio.Writer does) it
// is called after every frame.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent writes one frame. Multi-line payloads become several data lines,
// which Parse joins back with newlines.
func (sw *Writer) WriteEvent(name, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", name)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return err
	}
	if f, ok := sw.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteJSON marshals v and writes it as the frame payload.
func (sw *Writer) WriteJSON(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return sw.WriteEvent(name, string(b))
}
