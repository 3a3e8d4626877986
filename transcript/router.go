// Package transcript reconstructs a session's state on the consumer
// side of the progress protocol.
//
// The package is layered the way the stream is consumed: a Router turns
// decoded frame payloads into typed events (dropping malformed ones), a
// pure Project reducer folds the ordered event list into State, and
// Render maps State to the chronological transcript. All render-facing
// "is this unit still running" decisions derive from the completed-unit
// set inside State; nothing here consults wall-clock time.
package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/amrandil/docstream/event"
)

// ParseEvent decodes one frame payload into a typed event.
//
// Unknown event types are not an error: the full payload is retained in
// Raw so the renderer can show the event as a generic record. Payloads
// that are not valid JSON objects return an error; the caller decides
// whether to skip or abort (the Router skips).
func ParseEvent(payload []byte) (event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return event.Event{}, fmt.Errorf("parsing event payload: %w", err)
	}
	if !e.Type.Known() {
		raw := map[string]interface{}{}
		if err := json.Unmarshal(payload, &raw); err != nil {
			return event.Event{}, fmt.Errorf("parsing event payload: %w", err)
		}
		e.Raw = raw
	}
	return e, nil
}

// Router classifies frame payloads into events and drops the ones that
// do not parse. A malformed payload is a logged warning, never a stream
// failure.
type Router struct {
	log     logr.Logger
	dropped uint64
}

// NewRouter creates a Router logging dropped payloads to log.
func NewRouter(log logr.Logger) *Router {
	return &Router{log: log}
}

// Route parses one frame payload. The second return value is false when
// the payload was malformed and has been dropped.
func (r *Router) Route(payload []byte) (event.Event, bool) {
	e, err := ParseEvent(payload)
	if err != nil {
		r.dropped++
		r.log.V(0).Info("dropping malformed event payload",
			"error", err.Error(),
			"payload", truncatePayload(payload),
			"total_dropped", r.dropped,
		)
		return event.Event{}, false
	}
	return e, true
}

// Dropped returns how many malformed payloads the router has discarded.
func (r *Router) Dropped() uint64 {
	return r.dropped
}

func truncatePayload(payload []byte) string {
	const max = 200
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}
