package transcript

import (
	"fmt"
	"slices"

	"github.com/amrandil/docstream/event"
)

// UnitKind classifies the lifecycle-bearing units the projector tracks.
type UnitKind string

const (
	UnitFile    UnitKind = "file"
	UnitPhase   UnitKind = "phase"
	UnitStep    UnitKind = "step"
	UnitTool    UnitKind = "tool"
	UnitBatch   UnitKind = "batch"
	UnitSession UnitKind = "session"
)

// UnitKey identifies one unit within a session. Keys are the members of
// the completed-units set.
type UnitKey struct {
	Kind UnitKind
	ID   string
}

// FileKey returns the unit key for one file's lifecycle.
func FileKey(filename string) UnitKey {
	return UnitKey{Kind: UnitFile, ID: filename}
}

// PhaseKey returns the unit key for a reasoning phase.
func PhaseKey(phaseNumber int) UnitKey {
	return UnitKey{Kind: UnitPhase, ID: fmt.Sprintf("%d", phaseNumber)}
}

// StepKey returns the unit key for a reasoning step.
func StepKey(stepNumber int) UnitKey {
	return UnitKey{Kind: UnitStep, ID: fmt.Sprintf("%d", stepNumber)}
}

// ToolKey returns the unit key for a tool invocation. Tool numbers only
// have meaning inside their enclosing phase, so the key carries both.
func ToolKey(phaseNumber, toolNumber int) UnitKey {
	return UnitKey{Kind: UnitTool, ID: fmt.Sprintf("%d/%d", phaseNumber, toolNumber)}
}

// BatchKey returns the unit key for the whole preprocessing batch.
func BatchKey() UnitKey {
	return UnitKey{Kind: UnitBatch, ID: "preprocessing"}
}

// SessionKey returns the unit key for the reasoning session itself.
func SessionKey(executionID string) UnitKey {
	return UnitKey{Kind: UnitSession, ID: executionID}
}

// State is the client-side reconstruction of one session, derived
// entirely from the ordered event log.
//
// Events is append-only and verbatim: it is the single source of truth
// the renderer walks. Completed is append-only within a session: once
// a unit key is present it is never removed, which is what lets the UI
// treat "not completed yet" as the only definition of "still running".
type State struct {
	// Events is the ordered log of every projected event.
	Events []event.Event

	// Completed holds the unit keys whose lifecycle has finished.
	Completed map[UnitKey]bool

	// CurrentPhase is the highest phase number observed; 0 before the
	// first phase_started.
	CurrentPhase int
	PhaseID      string
	PhaseName    string

	// TotalFiles mirrors the latest total_files correlation field.
	TotalFiles int

	// StepCount and TotalSteps track the running reasoning-step counter.
	StepCount  int
	TotalSteps int

	// Tools lists validation tools discovered so far, in first-seen
	// order.
	Tools []string

	ExecutionID string
	BundleID    string

	// Terminal session summary. Terminal is set by analysis_completed
	// and analysis_error only.
	Terminal      bool
	FraudDetected bool
	RiskLevel     string
	Err           string

	// openTool is the key of the tool invocation currently running, if
	// any. It is closed by the next tool_progress, any step_completed,
	// or a terminal event.
	openTool UnitKey
}

// NewState returns the empty initial state.
func NewState() State {
	return State{}
}

// clone copies s deeply enough that mutating the copy leaves s intact.
func (s State) clone() State {
	next := s
	next.Events = slices.Clip(s.Events)
	next.Completed = make(map[UnitKey]bool, len(s.Completed)+2)
	for k := range s.Completed {
		next.Completed[k] = true
	}
	next.Tools = slices.Clip(s.Tools)
	return next
}

// Project folds one event into the state and returns the new state.
//
// Project is a pure function of its inputs: replaying the same ordered
// event list from NewState always produces the same final state, and a
// prior state remains valid after being projected over. Duplicate
// completion events are idempotent; re-marking a completed unit is a
// no-op.
func Project(s State, e event.Event) State {
	if e.Type == event.TypeKeepalive {
		// Transport liveness only. Not even logged.
		return s
	}

	next := s.clone()
	next.Events = append(next.Events, e)

	switch e.Type {
	case event.TypeFileStarted:
		if e.TotalFiles > 0 {
			next.TotalFiles = e.TotalFiles
		}

	case event.TypePreprocessingStep:
		if e.Step == event.StepError {
			// The error marker terminates the file's lifecycle early.
			next.Completed[FileKey(e.Filename)] = true
		}

	case event.TypeFileCompleted:
		next.Completed[FileKey(e.Filename)] = true

	case event.TypePreprocessingCompleted:
		next.Completed[BatchKey()] = true

	case event.TypeAnalysisStarted:
		next.ExecutionID = e.ExecutionID
		next.BundleID = e.BundleID

	case event.TypePhaseStarted:
		// The previous phase has no end event; the next phase closes it.
		if next.CurrentPhase > 0 && e.PhaseNumber > next.CurrentPhase {
			next.Completed[PhaseKey(next.CurrentPhase)] = true
		}
		next.CurrentPhase = e.PhaseNumber
		next.PhaseID = e.PhaseID
		next.PhaseName = e.PhaseName
		next.closeOpenTool()

	case event.TypeStepCompleted:
		next.Completed[StepKey(e.StepNumber)] = true
		if e.StepNumber > next.StepCount {
			next.StepCount = e.StepNumber
		}
		if e.TotalSteps > 0 {
			next.TotalSteps = e.TotalSteps
		}
		if e.ToolUsed != "" {
			next.discoverTool(e.ToolUsed)
		}
		// A finished step closes whatever tool was running inside it.
		next.closeOpenTool()

	case event.TypeToolProgress:
		next.closeOpenTool()
		next.openTool = ToolKey(next.CurrentPhase, e.ToolNumber)
		next.discoverTool(e.ToolName)

	case event.TypeAnalysisCompleted:
		next.Terminal = true
		next.FraudDetected = e.FraudDetected
		next.RiskLevel = e.RiskLevel
		if e.ExecutionID != "" {
			next.ExecutionID = e.ExecutionID
		}
		next.finish()

	case event.TypeAnalysisError:
		next.Terminal = true
		next.Err = e.Error
		next.finish()
	}

	return next
}

// Replay projects an ordered event list from the empty initial state.
func Replay(events []event.Event) State {
	s := NewState()
	for _, e := range events {
		s = Project(s, e)
	}
	return s
}

// discoverTool records a tool name the first time it is seen.
func (s *State) discoverTool(name string) {
	if name == "" || slices.Contains(s.Tools, name) {
		return
	}
	s.Tools = append(slices.Clip(s.Tools), name)
}

// closeOpenTool marks the running tool invocation, if any, complete.
func (s *State) closeOpenTool() {
	if s.openTool != (UnitKey{}) {
		s.Completed[s.openTool] = true
		s.openTool = UnitKey{}
	}
}

// finish closes every unit still open when a terminal event arrives.
func (s *State) finish() {
	s.closeOpenTool()
	if s.CurrentPhase > 0 {
		s.Completed[PhaseKey(s.CurrentPhase)] = true
	}
	if s.ExecutionID != "" {
		s.Completed[SessionKey(s.ExecutionID)] = true
	}
}

// UnitCompleted reports whether the unit identified by key has finished.
func (s State) UnitCompleted(key UnitKey) bool {
	return s.Completed[key]
}
