package frame

import (
	"bytes"
	"strings"

	"github.com/go-logr/logr"
)

// Decoder reassembles discrete frame payloads from a chunked byte
// stream.
//
// The decoder is push-based: the consumer feeds it raw transport chunks
// as they arrive and receives the payloads of every frame completed by
// that chunk. Partial lines and unterminated frames are buffered across
// calls, which makes decoding invariant to how the stream was chunked.
//
// Lines that are neither payload, comment, nor terminator are logged and
// skipped; a broken line never aborts the stream. The decoder does not
// interpret payload bytes; JSON parsing and type classification happen
// one layer up in the transcript package.
//
// Decoder is not safe for concurrent use. A stream has exactly one
// reader, so each reader owns its own Decoder.
type Decoder struct {
	log logr.Logger

	partial bytes.Buffer // bytes of the current, incomplete line
	payload bytes.Buffer // payload lines of the current, unterminated frame
	open    bool         // a payload line has been seen for the current frame

	skipped uint64
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLogger sets the logger used to report skipped framing lines.
func WithLogger(log logr.Logger) DecoderOption {
	return func(d *Decoder) {
		d.log = log
	}
}

// NewDecoder creates a Decoder with an empty buffer.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{log: logr.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed consumes one transport chunk and returns the payloads of all
// frames the chunk completed, in stream order. The returned slices are
// copies and remain valid after the next call.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	var frames [][]byte

	for _, b := range chunk {
		if b != '\n' {
			d.partial.WriteByte(b)
			continue
		}
		line := strings.TrimSuffix(d.partial.String(), "\r")
		d.partial.Reset()
		if payload, ok := d.endOfLine(line); ok {
			frames = append(frames, payload)
		}
	}
	return frames
}

// endOfLine advances the frame state machine by one complete line and
// returns a finished frame payload, if any.
func (d *Decoder) endOfLine(line string) ([]byte, bool) {
	switch {
	case line == "":
		// Blank line: terminates an open frame, otherwise padding.
		if !d.open {
			return nil, false
		}
		payload := append([]byte(nil), d.payload.Bytes()...)
		d.payload.Reset()
		d.open = false
		return payload, true

	case strings.HasPrefix(line, commentPrefix):
		// Comment / keepalive framing line. Never affects frame state.
		return nil, false

	case strings.HasPrefix(line, "data:"):
		text := strings.TrimPrefix(line, "data:")
		text = strings.TrimPrefix(text, " ")
		if d.open {
			// Multi-line payloads re-join with a newline, per SSE.
			d.payload.WriteByte('\n')
		}
		d.payload.WriteString(text)
		d.open = true
		return nil, false

	default:
		d.skipped++
		d.log.V(1).Info("skipping unrecognized framing line",
			"line", truncateLine(line),
			"total_skipped", d.skipped,
		)
		return nil, false
	}
}

// Skipped returns how many framing lines the decoder has dropped. A
// non-zero value usually means something other than a frame producer is
// writing to the transport.
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

func truncateLine(line string) string {
	const max = 120
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
