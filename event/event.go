// Package event defines the progress notifications exchanged between the
// document-analysis producer and a watching client.
//
// Every notification is a single Event value identified by its Type. The
// payload is flat: fields that do not apply to a given type are left at
// their zero value and omitted from the wire encoding. Each type carries
// enough correlation keys (filename, phase number, step number, tool
// number, execution id) to place it inside exactly one unit lifecycle.
//
// Events are produced in a single total order per session. A consumer
// that folds the ordered event list with the transcript package's
// projector reconstructs the full session state without any out-of-band
// signalling.
package event

import (
	"time"
)

// Type identifies the kind of progress notification an Event carries.
type Type string

const (
	// TypeConnection is the first event on a stream and confirms the
	// transport is established.
	TypeConnection Type = "connection"

	// TypePreprocessingStarted marks the beginning of batch file
	// preprocessing.
	TypePreprocessingStarted Type = "preprocessing_started"

	// TypeFileStarted opens one file's lifecycle. Carries Filename,
	// FileNumber and TotalFiles.
	TypeFileStarted Type = "file_started"

	// TypePreprocessingStep reports sub-stage progress within a single
	// file. The Step field holds one of the Step* constants.
	TypePreprocessingStep Type = "preprocessing_step"

	// TypeExtractedContent delivers the extracted text payload for a
	// file once the content stage finishes.
	TypeExtractedContent Type = "extracted_content"

	// TypeFileCompleted closes one file's lifecycle.
	TypeFileCompleted Type = "file_completed"

	// TypePreprocessingCompleted marks the end of batch preprocessing.
	// Carries Count and DurationMS.
	TypePreprocessingCompleted Type = "preprocessing_completed"

	// TypeAnalysisStarted marks the beginning of the reasoning session.
	// Carries ExecutionID and BundleID.
	TypeAnalysisStarted Type = "analysis_started"

	// TypePhaseStarted opens a reasoning phase. Phase numbers are
	// 1-based and non-decreasing across a session. A phase has no end
	// event; it is closed by the next phase or by session completion.
	TypePhaseStarted Type = "phase_started"

	// TypeStepCompleted reports one finished reasoning step. Steps are
	// only ever reported in completed form; StepNumber strictly
	// increases by 1 across a session.
	TypeStepCompleted Type = "step_completed"

	// TypeToolProgress reports a running validation tool. ToolNumber is
	// monotonic within the enclosing step, bounded by TotalTools.
	TypeToolProgress Type = "tool_progress"

	// TypeAnalysisCompleted is the terminal success event. Carries
	// FraudDetected, RiskLevel and ExecutionID.
	TypeAnalysisCompleted Type = "analysis_completed"

	// TypeAnalysisError is the terminal failure event.
	TypeAnalysisError Type = "analysis_error"

	// TypeKeepalive carries no payload and exists only to hold the
	// transport open past idle timeouts. Consumers must treat it as a
	// no-op.
	TypeKeepalive Type = "keepalive"
)

// Preprocessing sub-stage names carried in the Step field of
// preprocessing_step events.
const (
	StepStart       = "start"
	StepUploading   = "uploading"
	StepUploaded    = "uploaded"
	StepExtracting  = "extracting"
	StepExtracted   = "extracted"
	StepSummarizing = "summarizing"
	StepCompleted   = "completed"
	StepError       = "error"
)

// Risk levels reported in analysis_completed events, ordered by severity.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Event is one progress notification.
//
// Only Type is always present. The remaining fields are populated
// according to the event type; zero values are omitted on the wire. Raw
// holds the decoded payload of events whose type is not part of the
// closed set above, so unknown types survive a round trip and can still
// be rendered as a generic fallback record.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Message   string    `json:"message,omitempty"`

	// File-scoped correlation.
	Filename      string `json:"filename,omitempty"`
	FileNumber    int    `json:"file_number,omitempty"`
	TotalFiles    int    `json:"total_files,omitempty"`
	Step          string `json:"step,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`

	// Phase-scoped correlation.
	PhaseNumber int    `json:"phase_number,omitempty"`
	PhaseID     string `json:"phase_id,omitempty"`
	PhaseName   string `json:"phase_name,omitempty"`

	// Step-scoped correlation.
	StepNumber int    `json:"step_number,omitempty"`
	StepType   string `json:"step_type,omitempty"`
	ToolUsed   string `json:"tool_used,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`

	// Tool-scoped correlation.
	ToolName   string `json:"tool_name,omitempty"`
	ToolNumber int    `json:"tool_number,omitempty"`
	TotalTools int    `json:"total_tools,omitempty"`

	// Session-scoped correlation.
	ExecutionID string `json:"execution_id,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`

	// Terminal and summary payloads.
	FraudDetected bool    `json:"fraud_detected,omitempty"`
	RiskLevel     string  `json:"risk_level,omitempty"`
	Error         string  `json:"error,omitempty"`
	DurationMS    int64   `json:"duration_ms,omitempty"`
	Count         int     `json:"count,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	// Raw is the full decoded payload for events of an unknown type.
	// It is never populated for known types and never re-encoded.
	Raw map[string]interface{} `json:"-"`
}

// Known reports whether t belongs to the closed set of event types this
// version of the protocol understands. Unknown types are still carried
// end to end and rendered as generic records.
func (t Type) Known() bool {
	switch t {
	case TypeConnection, TypePreprocessingStarted, TypeFileStarted,
		TypePreprocessingStep, TypeExtractedContent, TypeFileCompleted,
		TypePreprocessingCompleted, TypeAnalysisStarted, TypePhaseStarted,
		TypeStepCompleted, TypeToolProgress, TypeAnalysisCompleted,
		TypeAnalysisError, TypeKeepalive:
		return true
	}
	return false
}

// Terminal reports whether e ends the session from the consumer's point
// of view.
func (e Event) Terminal() bool {
	return e.Type == TypeAnalysisCompleted || e.Type == TypeAnalysisError
}

// RiskLevelForConfidence maps an overall confidence score to the risk
// level reported in the terminal summary.
func RiskLevelForConfidence(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return RiskCritical
	case confidence >= 0.6:
		return RiskHigh
	case confidence >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}
