package transcript

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amrandil/docstream/event"
)

// Line is one transcript record. Every projected event maps to exactly
// one line, in log order.
//
// Active is derived solely from the completed-units set: a line is
// active when the unit it opened has not been marked complete and the
// session has not reached a terminal event. No timers are involved, so
// an indicator can never keep spinning after its unit finished.
type Line struct {
	// Event is the event behind this line, verbatim.
	Event event.Event

	// Text is the rendered, human-readable record.
	Text string

	// Active reports that the line's unit is still in progress.
	Active bool

	// Err marks the single unambiguous error record of a failed
	// session or file.
	Err bool
}

// Render maps the full projected state to its chronological transcript.
func Render(s State) []Line {
	return RenderN(s, len(s.Events))
}

// RenderN renders only the first visible events of the log. This is the
// display-only pause affordance: a paused viewer freezes visible while
// the projector keeps folding new events, and resuming simply renders
// with the larger count. Completion state always comes from the full
// state, so a line that completed while paused never shows as active.
func RenderN(s State, visible int) []Line {
	if visible > len(s.Events) {
		visible = len(s.Events)
	}

	lines := make([]Line, 0, visible)
	// Phase numbers are re-tracked while walking so tool invocations
	// get the same keys the projector assigned them.
	currentPhase := 0
	for _, e := range s.Events[:visible] {
		if e.Type == event.TypePhaseStarted {
			currentPhase = e.PhaseNumber
		}
		lines = append(lines, renderLine(s, e, currentPhase))
	}
	return lines
}

func renderLine(s State, e event.Event, currentPhase int) Line {
	line := Line{Event: e}

	switch e.Type {
	case event.TypeConnection:
		line.Text = "Connected to analysis stream"

	case event.TypePreprocessingStarted:
		line.Text = e.Message
		if line.Text == "" {
			line.Text = "Preprocessing documents"
		}
		line.Active = !s.Terminal && !s.Completed[BatchKey()]

	case event.TypeFileStarted:
		line.Text = fmt.Sprintf("File %d/%d: %s", e.FileNumber, e.TotalFiles, e.Filename)
		line.Active = !s.Terminal && !s.Completed[FileKey(e.Filename)]

	case event.TypePreprocessingStep:
		line.Text = fmt.Sprintf("  %s: %s", e.Filename, stepText(e))
		line.Active = e.Step != event.StepError &&
			!s.Terminal && !s.Completed[FileKey(e.Filename)]
		line.Err = e.Step == event.StepError

	case event.TypeExtractedContent:
		line.Text = fmt.Sprintf("  %s: extracted %d chars (%s)",
			e.Filename, e.ContentLength, e.DocumentType)

	case event.TypeFileCompleted:
		line.Text = fmt.Sprintf("File %d/%d completed: %s", e.FileNumber, e.TotalFiles, e.Filename)

	case event.TypePreprocessingCompleted:
		line.Text = fmt.Sprintf("Preprocessed %d files in %dms", e.Count, e.DurationMS)

	case event.TypeAnalysisStarted:
		line.Text = fmt.Sprintf("Analysis started (execution %s)", e.ExecutionID)
		line.Active = !s.Terminal

	case event.TypePhaseStarted:
		line.Text = fmt.Sprintf("Phase %d: %s", e.PhaseNumber, e.PhaseName)
		line.Active = !s.Terminal && !s.Completed[PhaseKey(e.PhaseNumber)]

	case event.TypeStepCompleted:
		// Steps arrive already finished; they are never active.
		text := fmt.Sprintf("Step %d [%s]: %s", e.StepNumber, e.StepType, e.Content)
		if e.ToolUsed != "" {
			text += fmt.Sprintf(" (tool: %s)", e.ToolUsed)
		}
		line.Text = text

	case event.TypeToolProgress:
		line.Text = fmt.Sprintf("  Tool %d/%d: %s", e.ToolNumber, e.TotalTools, e.ToolName)
		line.Active = !s.Terminal && !s.Completed[ToolKey(currentPhase, e.ToolNumber)]

	case event.TypeAnalysisCompleted:
		verdict := "no fraud detected"
		if e.FraudDetected {
			verdict = "FRAUD DETECTED"
		}
		line.Text = fmt.Sprintf("Analysis complete: %s (risk %s)", verdict, e.RiskLevel)

	case event.TypeAnalysisError:
		line.Text = fmt.Sprintf("Analysis failed: %s", e.Error)
		line.Err = true

	default:
		// Forward compatibility: an unknown type still renders, as a
		// generic record of its raw fields.
		line.Text = fallbackText(e)
	}

	return line
}

func stepText(e event.Event) string {
	if e.Message != "" {
		return fmt.Sprintf("%s - %s", e.Step, e.Message)
	}
	if e.Step == event.StepError && e.Error != "" {
		return fmt.Sprintf("error - %s", e.Error)
	}
	return e.Step
}

// fallbackText renders an unknown event type from its raw payload with
// deterministic field ordering.
func fallbackText(e event.Event) string {
	typ := string(e.Type)
	if typ == "" {
		typ = "unknown"
	}

	keys := make([]string, 0, len(e.Raw))
	for k := range e.Raw {
		if k == "type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(typ)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Raw[k])
	}
	return b.String()
}

// ActiveCount returns how many rendered lines are still active. A
// terminal session always reports zero.
func ActiveCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Active {
			n++
		}
	}
	return n
}
