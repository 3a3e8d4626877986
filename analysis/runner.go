package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/metrics"
	"github.com/amrandil/docstream/stream"
	"github.com/amrandil/docstream/tracing"
)

// NewBundleID returns a fresh short bundle identifier, e.g.
// "bundle_3fa85f64".
func NewBundleID() string {
	return "bundle_" + uuid.NewString()[:8]
}

// Runner executes one analysis session end to end on a single
// goroutine: connection frame, per-file preprocessing, the reasoning
// loop, then exactly one terminal event. Event ordering on the wire
// follows from that sequential execution; there is no cross-goroutine
// coordination to get wrong.
type Runner struct {
	log       logr.Logger
	extractor Extractor
	engine    Engine

	// abortOnFileError stops the batch at the first failed file
	// instead of analyzing the surviving subset.
	abortOnFileError bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(log logr.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithExtractor replaces the default plain-text extractor.
func WithExtractor(ex Extractor) RunnerOption {
	return func(r *Runner) { r.extractor = ex }
}

// WithEngine sets the reasoning engine. Without one the runner falls
// back to a scripted engine over the extracted bundle.
func WithEngine(e Engine) RunnerOption {
	return func(r *Runner) { r.engine = e }
}

// WithContinueOnFileError makes the runner skip failed files and
// analyze the rest instead of aborting the session.
func WithContinueOnFileError() RunnerOption {
	return func(r *Runner) { r.abortOnFileError = false }
}

// NewRunner creates a Runner with the given options applied.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		log:              logr.Discard(),
		extractor:        TextExtractor{},
		abortOnFileError: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives a complete session over mux. It returns nil when the
// session reached analysis_completed; any other outcome, including a
// consumer disconnect, returns the causing error. Errors inside the
// session are reported to the consumer with a best-effort terminal
// event before Run returns.
func (r *Runner) Run(ctx context.Context, mux *stream.Mux, docs []Document, opts Options) error {
	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	started := time.Now()

	err := r.run(ctx, mux, docs, opts)

	outcome := metrics.OutcomeCompleted
	switch {
	case errors.Is(err, stream.ErrCancelled), errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	metrics.SessionsActive.Dec()
	metrics.SessionsCompleted.WithLabelValues(outcome).Inc()
	metrics.SessionDuration.Observe(time.Since(started).Seconds())
	return err
}

func (r *Runner) run(ctx context.Context, mux *stream.Mux, docs []Document, opts Options) error {
	opts = opts.Normalize()
	bundleID := NewBundleID()
	executionID := uuid.NewString()
	log := r.log.WithValues("bundle_id", bundleID)

	ctx, span := tracing.StartNewSpan(ctx, "analysis-session",
		attribute.String("bundle_id", bundleID),
		attribute.Int("files", len(docs)),
	)
	defer span.End()

	if err := mux.Emit(event.Event{
		Type:     event.TypeConnection,
		BundleID: bundleID,
		Message:  "Connected to analysis stream",
	}); err != nil {
		return err
	}

	pre := stream.NewPreprocessEmitter(mux, len(docs))
	if err := pre.BatchStarted(); err != nil {
		return err
	}

	an := stream.NewAnalysisEmitter(mux, executionID, bundleID)

	extracted := make([]Extracted, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ex, err := r.processFile(ctx, pre, doc)
		if err != nil {
			if mux.Cancelled() {
				return err
			}
			log.Error(err, "preprocessing failed", "filename", doc.Filename)
			if emitErr := pre.FileError(err); emitErr != nil {
				return emitErr
			}
			if r.abortOnFileError {
				span.RecordError(err)
				// Last gasp: tell the consumer why the session died.
				_ = an.Error(fmt.Errorf("preprocessing aborted: %w", err))
				return err
			}
			continue
		}
		extracted = append(extracted, ex)
	}
	if err := pre.BatchCompleted(); err != nil {
		return err
	}

	if err := an.Started(len(extracted)); err != nil {
		return err
	}

	engine := r.engine
	if engine == nil {
		engine = &ScriptedEngine{Phases: DefaultScript(extracted)}
	}

	var phaseSpan trace.Span
	cb := Callbacks{
		PhaseStarted: func(phaseID, phaseName string) error {
			if phaseSpan != nil {
				phaseSpan.End()
			}
			_, phaseSpan = tracing.StartNewSpan(ctx, "analysis-phase",
				attribute.String("phase_id", phaseID),
			)
			return an.PhaseStarted(phaseID, phaseName)
		},
		ToolProgress:  an.ToolProgress,
		StepCompleted: an.StepCompleted,
	}
	result, err := engine.Analyze(ctx, extracted, opts, cb)
	if phaseSpan != nil {
		phaseSpan.End()
	}
	if err != nil {
		if mux.Cancelled() || errors.Is(err, stream.ErrCancelled) {
			return err
		}
		span.RecordError(err)
		log.Error(err, "analysis failed")
		_ = an.Error(err)
		return err
	}

	if err := an.Completed(result.FraudDetected, result.Confidence); err != nil {
		return err
	}
	log.Info("session completed",
		"fraud_detected", result.FraudDetected,
		"confidence", result.Confidence,
		"risk_level", result.RiskLevel(),
	)
	return nil
}

func (r *Runner) processFile(ctx context.Context, pre *stream.PreprocessEmitter, doc Document) (Extracted, error) {
	ctx, span := tracing.StartNewSpan(ctx, "preprocess-file",
		attribute.String("filename", doc.Filename),
	)
	defer span.End()

	if err := pre.FileStarted(doc.Filename); err != nil {
		return Extracted{}, err
	}

	var emitErr error
	cb := ExtractCallbacks{OnStep: func(step, message string) {
		if err := pre.FileStep(step, message); err != nil && emitErr == nil {
			emitErr = err
		}
	}}
	ex, err := r.extractor.Extract(ctx, doc, cb)
	if emitErr != nil {
		return Extracted{}, emitErr
	}
	if err != nil {
		span.RecordError(err)
		return Extracted{}, err
	}

	if err := pre.ExtractedContent(ex.DocumentType, ex.Content); err != nil {
		return Extracted{}, err
	}
	if err := pre.FileCompleted(); err != nil {
		return Extracted{}, err
	}
	return ex, nil
}
