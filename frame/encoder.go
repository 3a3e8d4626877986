// Package frame implements the wire framing for the progress stream.
//
// Each event travels as one discrete frame: a single payload line
// prefixed with "data: " and terminated by a blank line. Comment lines
// prefixed with ":" may appear between frames and carry no payload.
// The framing matches the server-sent-events text protocol closely
// enough that off-the-shelf SSE consumers can read the stream.
//
// The Encoder writes and flushes one frame per event so no frame ever
// sits in a server-side buffer. The Decoder reassembles frames from an
// arbitrarily chunked byte stream; feeding it the same bytes split at
// different boundaries always yields the same frame sequence.
package frame

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/amrandil/docstream/event"
)

const (
	dataPrefix    = "data: "
	commentPrefix = ":"
)

// flusher matches http.Flusher and anything else that can push buffered
// bytes to the peer.
type flusher interface {
	Flush()
}

// Encoder serializes events into frames on an io.Writer.
//
// Every write is followed by a flush when the underlying writer supports
// it, so the consumer sees each event as soon as it is produced. The
// encoder is safe for concurrent use; the per-frame mutex also keeps
// keepalive frames from interleaving with event frames.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an Encoder writing frames to w. If w implements
// http.Flusher each frame is flushed as soon as it is written.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteEvent serializes e as a single frame and flushes it.
func (enc *Encoder) WriteEvent(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	enc.mu.Lock()
	defer enc.mu.Unlock()
	if _, err := fmt.Fprintf(enc.w, "%s%s\n\n", dataPrefix, data); err != nil {
		return err
	}
	enc.flush()
	return nil
}

// WriteComment writes a payload-less comment frame. Decoders ignore
// comment frames entirely; they exist for human inspection of the raw
// stream and as an additional liveness signal.
func (enc *Encoder) WriteComment(text string) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if _, err := fmt.Fprintf(enc.w, "%s %s\n\n", commentPrefix, text); err != nil {
		return err
	}
	enc.flush()
	return nil
}

func (enc *Encoder) flush() {
	if f, ok := enc.w.(flusher); ok {
		f.Flush()
	}
}
