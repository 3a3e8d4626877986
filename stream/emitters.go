package stream

import (
	"fmt"
	"time"

	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/metrics"
)

// PreprocessEmitter emits the batch-preprocessing lifecycle: the batch
// frame, one file lifecycle per document, and the batch summary.
//
// The emitter owns the file numbering so callers cannot produce a
// file_completed before its file_started or reuse a file number. It is
// driven from the session's single sequential path and is not safe for
// concurrent use.
type PreprocessEmitter struct {
	mux        *Mux
	totalFiles int

	fileNumber int
	current    string
	completed  int
	startedAt  time.Time
}

// NewPreprocessEmitter creates an emitter for a batch of totalFiles
// documents.
func NewPreprocessEmitter(m *Mux, totalFiles int) *PreprocessEmitter {
	return &PreprocessEmitter{mux: m, totalFiles: totalFiles}
}

// BatchStarted emits preprocessing_started and starts the batch timer.
func (p *PreprocessEmitter) BatchStarted() error {
	p.startedAt = p.mux.clock()
	return p.mux.Emit(event.Event{
		Type:    event.TypePreprocessingStarted,
		Message: fmt.Sprintf("Preprocessing %d files", p.totalFiles),
	})
}

// FileStarted opens the lifecycle of the next file in the batch.
func (p *PreprocessEmitter) FileStarted(filename string) error {
	p.fileNumber++
	p.current = filename
	return p.mux.Emit(event.Event{
		Type:       event.TypeFileStarted,
		Filename:   filename,
		FileNumber: p.fileNumber,
		TotalFiles: p.totalFiles,
		Message:    fmt.Sprintf("Processing %s (%d/%d)", filename, p.fileNumber, p.totalFiles),
	})
}

// FileStep reports one sub-stage of the current file. step is one of the
// event.Step* constants.
func (p *PreprocessEmitter) FileStep(step, message string) error {
	return p.mux.Emit(event.Event{
		Type:     event.TypePreprocessingStep,
		Filename: p.current,
		Step:     step,
		Message:  message,
	})
}

// FileError marks the current file as failed. It emits a
// preprocessing_step with step="error"; whether the batch continues is
// the runner's policy decision, not the emitter's.
func (p *PreprocessEmitter) FileError(fileErr error) error {
	metrics.FilesProcessed.WithLabelValues("error").Inc()
	return p.mux.Emit(event.Event{
		Type:     event.TypePreprocessingStep,
		Filename: p.current,
		Step:     event.StepError,
		Error:    fileErr.Error(),
		Message:  fmt.Sprintf("Preprocessing failed for %s: %s", p.current, fileErr),
	})
}

// ExtractedContent delivers the text extracted from the current file.
func (p *PreprocessEmitter) ExtractedContent(documentType, content string) error {
	return p.mux.Emit(event.Event{
		Type:          event.TypeExtractedContent,
		Filename:      p.current,
		DocumentType:  documentType,
		Content:       content,
		ContentLength: len(content),
	})
}

// FileCompleted closes the current file's lifecycle.
func (p *PreprocessEmitter) FileCompleted() error {
	p.completed++
	metrics.FilesProcessed.WithLabelValues("ok").Inc()
	return p.mux.Emit(event.Event{
		Type:       event.TypeFileCompleted,
		Filename:   p.current,
		FileNumber: p.fileNumber,
		TotalFiles: p.totalFiles,
		Message:    fmt.Sprintf("Completed %s (%d/%d)", p.current, p.fileNumber, p.totalFiles),
	})
}

// BatchCompleted emits the preprocessing summary: how many files
// finished and how long the whole batch took.
func (p *PreprocessEmitter) BatchCompleted() error {
	return p.mux.Emit(event.Event{
		Type:       event.TypePreprocessingCompleted,
		Count:      p.completed,
		DurationMS: p.mux.clock().Sub(p.startedAt).Milliseconds(),
		Message:    fmt.Sprintf("Preprocessed %d files", p.completed),
	})
}

// AnalysisEmitter emits the reasoning-session lifecycle: phases, steps
// and tool invocations.
//
// Phase and step numbering lives here so the wire invariants hold by
// construction: phase numbers start at 1 and never decrease, step
// numbers increase by exactly 1 across the session. Not safe for
// concurrent use.
type AnalysisEmitter struct {
	mux         *Mux
	executionID string
	bundleID    string

	phaseNumber int
	stepNumber  int
}

// NewAnalysisEmitter creates an emitter for one reasoning session.
func NewAnalysisEmitter(m *Mux, executionID, bundleID string) *AnalysisEmitter {
	return &AnalysisEmitter{mux: m, executionID: executionID, bundleID: bundleID}
}

// Started emits analysis_started with the session's correlation ids.
func (a *AnalysisEmitter) Started(documentCount int) error {
	return a.mux.Emit(event.Event{
		Type:        event.TypeAnalysisStarted,
		ExecutionID: a.executionID,
		BundleID:    a.bundleID,
		Count:       documentCount,
		Message:     fmt.Sprintf("Starting fraud analysis of %d documents", documentCount),
	})
}

// PhaseStarted opens the next reasoning phase.
func (a *AnalysisEmitter) PhaseStarted(phaseID, phaseName string) error {
	a.phaseNumber++
	return a.mux.Emit(event.Event{
		Type:        event.TypePhaseStarted,
		PhaseNumber: a.phaseNumber,
		PhaseID:     phaseID,
		PhaseName:   phaseName,
		Message:     fmt.Sprintf("Phase %d: %s", a.phaseNumber, phaseName),
	})
}

// StepCompleted reports one finished reasoning step. Steps only exist in
// completed form; there is no step_started event.
func (a *AnalysisEmitter) StepCompleted(stepType, content, toolUsed, toolOutput string) error {
	a.stepNumber++
	return a.mux.Emit(event.Event{
		Type:       event.TypeStepCompleted,
		StepNumber: a.stepNumber,
		StepType:   stepType,
		Content:    content,
		ToolUsed:   toolUsed,
		ToolOutput: toolOutput,
		TotalSteps: a.stepNumber,
	})
}

// ToolProgress reports a validation tool currently running inside the
// open step.
func (a *AnalysisEmitter) ToolProgress(toolName string, toolNumber, totalTools int) error {
	return a.mux.Emit(event.Event{
		Type:       event.TypeToolProgress,
		ToolName:   toolName,
		ToolNumber: toolNumber,
		TotalTools: totalTools,
		Message:    fmt.Sprintf("Running %s (%d/%d)", toolName, toolNumber, totalTools),
	})
}

// Completed emits the terminal success summary. The risk level is
// derived from the overall confidence score.
func (a *AnalysisEmitter) Completed(fraudDetected bool, confidence float64) error {
	return a.mux.Emit(event.Event{
		Type:          event.TypeAnalysisCompleted,
		ExecutionID:   a.executionID,
		FraudDetected: fraudDetected,
		Confidence:    confidence,
		RiskLevel:     event.RiskLevelForConfidence(confidence),
		Message:       "Analysis completed",
	})
}

// Error emits the terminal failure event. This is the producer's
// best-effort last gasp: the returned error only matters to callers
// that still have a live transport.
func (a *AnalysisEmitter) Error(sessionErr error) error {
	return a.mux.Emit(event.Event{
		Type:        event.TypeAnalysisError,
		ExecutionID: a.executionID,
		Error:       sessionErr.Error(),
		Message:     fmt.Sprintf("Analysis failed: %s", sessionErr),
	})
}
