package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("stream closed")

// EndMarker is written once when a stream closes.
const EndMarker = "[DONE]"

// Writer encodes frames as Server-Sent Events. It is safe for concurrent use,
// though a run has a single producer.
type Writer struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	once   sync.Once
	closed bool
}

// NewWriter creates a Writer. When w is an http.Flusher every frame is
// flushed immediately.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteFrame writes one frame.
func (sw *Writer) WriteFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// Close writes the end marker. Only the first call has an effect.
func (sw *Writer) Close() error {
	var err error
	sw.once.Do(func() {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		sw.closed = true
		if _, err = fmt.Fprintf(sw.w, "data: %s\n\n", EndMarker); err != nil {
			return
		}
		sw.flush()
	})
	return err
}

// Closed reports whether Close has been called.
func (sw *Writer) Closed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
