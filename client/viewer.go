package client

import (
	"sync"

	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/transcript"
)

// Viewer folds a session's events into a transcript for display.
//
// Pause freezes how much of the transcript is shown without touching
// state reconstruction: events keep applying underneath, and Resume
// reveals everything that arrived in the meantime. Activity indicators
// always reflect the full state, so a unit that finished while paused
// shows as done even on the frozen prefix.
type Viewer struct {
	mu      sync.Mutex
	state   transcript.State
	visible int
	paused  bool
}

// NewViewer creates a Viewer over an empty transcript.
func NewViewer() *Viewer {
	return &Viewer{state: transcript.NewState()}
}

// Apply folds one event into the transcript.
func (v *Viewer) Apply(e event.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = transcript.Project(v.state, e)
	if !v.paused {
		v.visible = len(v.state.Events)
	}
}

// Pause freezes the visible transcript at its current length.
func (v *Viewer) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
}

// Resume reveals the full transcript again.
func (v *Viewer) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
	v.visible = len(v.state.Events)
}

// Paused reports whether display is frozen.
func (v *Viewer) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Lines renders the currently visible transcript.
func (v *Viewer) Lines() []transcript.Line {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return transcript.RenderN(v.state, v.visible)
	}
	return transcript.Render(v.state)
}

// State returns the fully reconstructed session state, unaffected by
// pause.
func (v *Viewer) State() transcript.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
