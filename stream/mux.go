// Package stream implements the producer side of the progress protocol:
// the event multiplexer that owns the total order of a session's
// notifications and the stage emitters that feed it.
//
// Ordering is obtained structurally rather than by synchronization: a
// session is one sequential execution path, so events reach the Mux one
// at a time and are written and flushed immediately. Nothing is batched
// or reordered, which keeps server-side buffering bounded on a transport
// with no acknowledgment channel.
package stream

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/frame"
	"github.com/amrandil/docstream/metrics"
)

// ErrCancelled is returned by Emit once the session has been cancelled,
// either by a transport write failure (client disconnected) or by Close.
var ErrCancelled = errors.New("stream: session cancelled")

// DefaultKeepaliveInterval is the keepalive period used when no
// interval is configured.
const DefaultKeepaliveInterval = 15 * time.Second

// Mux is the single ordering authority for one session's progress
// events.
//
// Every event passes through Emit, which stamps a timestamp, writes the
// event as one frame and flushes it before returning. The first failed
// write marks the session cancelled, fires the cleanup hook exactly
// once, and turns every later Emit into an ErrCancelled no-op, which is
// the producer's cooperative cancellation signal.
//
// A Mux optionally runs a keepalive ticker that emits payload-less
// keepalive events through the same ordered path, so idle-connection
// timeouts cannot kill a session between slow stages.
type Mux struct {
	enc   *frame.Encoder
	log   logr.Logger
	clock func() time.Time

	mu        sync.Mutex
	cancelled bool
	emitted   int

	cleanup     func()
	cleanupOnce sync.Once

	keepaliveEvery time.Duration
	keepaliveStop  chan struct{}
	keepaliveDone  chan struct{}
}

// MuxOption configures a Mux.
type MuxOption func(*Mux)

// WithLogger sets the logger used for transport failures and keepalive
// diagnostics.
func WithLogger(log logr.Logger) MuxOption {
	return func(m *Mux) {
		m.log = log
	}
}

// WithCleanup registers a hook that releases the session's transient
// resources (temporary upload artifacts and the like). The hook runs
// exactly once, whether the session ends by Close, by a transport
// failure, or both.
func WithCleanup(fn func()) MuxOption {
	return func(m *Mux) {
		m.cleanup = fn
	}
}

// WithKeepalive sets the keepalive emission interval. A non-positive
// interval disables the ticker entirely; tests and in-memory transports
// typically do not want one.
func WithKeepalive(interval time.Duration) MuxOption {
	return func(m *Mux) {
		m.keepaliveEvery = interval
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(clock func() time.Time) MuxOption {
	return func(m *Mux) {
		m.clock = clock
	}
}

// NewMux creates a Mux writing frames to w and starts the keepalive
// ticker if one is configured. The caller must Close the Mux when the
// session ends.
func NewMux(w io.Writer, opts ...MuxOption) *Mux {
	m := &Mux{
		enc:   frame.NewEncoder(w),
		log:   logr.Discard(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.keepaliveEvery > 0 {
		m.keepaliveStop = make(chan struct{})
		m.keepaliveDone = make(chan struct{})
		go m.keepaliveLoop(m.keepaliveStop)
	}
	return m
}

// Emit writes e as one flushed frame, assigning it the next position in
// the session's total order.
//
// Events other than keepalive get the current time stamped in if the
// caller left Timestamp zero. On a write failure Emit cancels the
// session, runs the cleanup hook, and returns the write error; all
// subsequent calls return ErrCancelled without touching the transport.
func (m *Mux) Emit(e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelled {
		return ErrCancelled
	}

	if e.Timestamp.IsZero() && e.Type != event.TypeKeepalive {
		e.Timestamp = m.clock()
	}

	if err := m.enc.WriteEvent(e); err != nil {
		m.cancelled = true
		m.log.V(1).Info("transport write failed, cancelling session",
			"type", e.Type, "error", err.Error())
		metrics.TransportWriteFailures.Inc()
		m.runCleanup()
		return err
	}

	m.emitted++
	metrics.EventsEmitted.WithLabelValues(string(e.Type)).Inc()
	return nil
}

// Comment writes a payload-less comment frame. Decoders ignore it; it
// only serves readers of the raw stream.
func (m *Mux) Comment(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return ErrCancelled
	}
	return m.enc.WriteComment(text)
}

// Cancelled reports whether the session has been cancelled. Stage code
// with expensive work between emits can poll this to stop early instead
// of waiting for the next Emit to fail.
func (m *Mux) Cancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Emitted returns the number of events successfully written so far.
func (m *Mux) Emitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitted
}

// Close stops the keepalive ticker, cancels the session and runs the
// cleanup hook if it has not run already. Close is idempotent.
func (m *Mux) Close() {
	if m.keepaliveStop != nil {
		m.mu.Lock()
		stop := m.keepaliveStop
		m.keepaliveStop = nil
		m.mu.Unlock()
		if stop != nil {
			close(stop)
			<-m.keepaliveDone
		}
	}

	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()
	m.runCleanup()
}

// runCleanup fires the cleanup hook at most once. Callers must not hold
// m.mu if the hook could re-enter the Mux; the hook itself runs without
// the lock only through Close, so Emit invokes it while locked but the
// hook must not call back into the Mux.
func (m *Mux) runCleanup() {
	if m.cleanup == nil {
		return
	}
	m.cleanupOnce.Do(m.cleanup)
}

func (m *Mux) keepaliveLoop(stop <-chan struct{}) {
	defer close(m.keepaliveDone)
	ticker := time.NewTicker(m.keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Emit(event.Event{Type: event.TypeKeepalive}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
