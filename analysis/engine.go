package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amrandil/docstream/event"
)

// Options tunes a single analysis session. The zero value is usable;
// Normalize fills in the defaults.
type Options struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	DetailedAnalysis    bool    `json:"detailed_analysis" yaml:"detailed_analysis"`
	MaxPhases           int     `json:"max_phases" yaml:"max_phases"`
}

// DefaultConfidenceThreshold is the minimum confidence at which a
// session reports fraud as detected.
const DefaultConfidenceThreshold = 0.5

// Normalize returns a copy with defaults applied and out-of-range
// values clamped.
func (o Options) Normalize() Options {
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if o.ConfidenceThreshold > 1 {
		o.ConfidenceThreshold = 1
	}
	if o.MaxPhases < 0 {
		o.MaxPhases = 0
	}
	return o
}

// Callbacks receives engine progress. Each callback returns the emit
// error of the underlying stream so the engine stops promptly once the
// consumer is gone. Any callback may be nil.
type Callbacks struct {
	PhaseStarted  func(phaseID, phaseName string) error
	ToolProgress  func(toolName string, toolNumber, totalTools int) error
	StepCompleted func(stepType, content, toolUsed, toolOutput string) error
}

func (cb Callbacks) phaseStarted(id, name string) error {
	if cb.PhaseStarted == nil {
		return nil
	}
	return cb.PhaseStarted(id, name)
}

func (cb Callbacks) toolProgress(name string, n, total int) error {
	if cb.ToolProgress == nil {
		return nil
	}
	return cb.ToolProgress(name, n, total)
}

func (cb Callbacks) stepCompleted(stepType, content, toolUsed, toolOutput string) error {
	if cb.StepCompleted == nil {
		return nil
	}
	return cb.StepCompleted(stepType, content, toolUsed, toolOutput)
}

// Result is the terminal verdict of an analysis session.
type Result struct {
	FraudDetected bool
	Confidence    float64
}

// RiskLevel derives the categorical risk from the confidence score.
func (r Result) RiskLevel() string {
	return event.RiskLevelForConfidence(r.Confidence)
}

// Engine runs the reasoning loop over extracted documents, reporting
// phases, steps and tool invocations as they happen.
type Engine interface {
	Analyze(ctx context.Context, docs []Extracted, opts Options, cb Callbacks) (Result, error)
}

// AvailableTools lists the validators an engine can invoke.
func AvailableTools() []string {
	return []string{
		"validate_quantity_consistency",
		"validate_weight_consistency",
		"validate_entity_consistency",
		"validate_product_descriptions",
		"validate_value_consistency",
		"validate_geographic_consistency",
		"validate_unit_calculations",
		"validate_weight_ratios",
		"validate_package_calculations",
		"detect_round_number_patterns",
		"detect_product_substitution",
		"detect_origin_manipulation",
		"detect_entity_variations",
		"synthesize_fraud_evidence",
	}
}

// FraudTypes lists the fraud categories the engine reports on.
func FraudTypes() []string {
	return []string{
		"valuation_fraud",
		"quantity_manipulation",
		"weight_manipulation",
		"origin_manipulation",
		"product_substitution",
		"entity_misrepresentation",
	}
}

// ScriptedTool is one tool invocation within a scripted step.
type ScriptedTool struct {
	Name   string
	Output string
}

// ScriptedStep is one reasoning step in a scripted phase.
type ScriptedStep struct {
	Type    string
	Content string
	Tools   []ScriptedTool
}

// ScriptedPhase groups the steps of one investigation phase.
type ScriptedPhase struct {
	ID    string
	Name  string
	Steps []ScriptedStep
}

// ScriptedEngine replays a fixed phase script. It backs the demo binary
// and any deployment that has no reasoning backend configured, and it
// exercises the full event surface deterministically.
type ScriptedEngine struct {
	Phases    []ScriptedPhase
	Verdict   Result
	StepDelay time.Duration
}

// Analyze walks the script, honoring ctx cancellation, MaxPhases
// truncation and callback errors.
func (se *ScriptedEngine) Analyze(ctx context.Context, docs []Extracted, opts Options, cb Callbacks) (Result, error) {
	opts = opts.Normalize()
	phases := se.Phases
	if opts.MaxPhases > 0 && len(phases) > opts.MaxPhases {
		phases = phases[:opts.MaxPhases]
	}

	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := cb.phaseStarted(phase.ID, phase.Name); err != nil {
			return Result{}, err
		}
		for _, step := range phase.Steps {
			if err := se.pause(ctx); err != nil {
				return Result{}, err
			}
			toolUsed, toolOutput := "", ""
			for i, tool := range step.Tools {
				if err := cb.toolProgress(tool.Name, i+1, len(step.Tools)); err != nil {
					return Result{}, err
				}
				toolUsed, toolOutput = tool.Name, tool.Output
			}
			if err := cb.stepCompleted(step.Type, step.Content, toolUsed, toolOutput); err != nil {
				return Result{}, err
			}
		}
	}

	verdict := se.Verdict
	verdict.FraudDetected = verdict.Confidence >= opts.ConfidenceThreshold
	return verdict, nil
}

func (se *ScriptedEngine) pause(ctx context.Context) error {
	if se.StepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(se.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultScript builds a plausible three-phase investigation over the
// given documents: observation, cross-document validation, synthesis.
func DefaultScript(docs []Extracted) []ScriptedPhase {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = fmt.Sprintf("%s (%s)", d.Filename, d.DocumentType)
	}
	bundle := strings.Join(names, ", ")
	if bundle == "" {
		bundle = "empty bundle"
	}

	return []ScriptedPhase{
		{
			ID:   "observation",
			Name: "Initial Observation",
			Steps: []ScriptedStep{
				{Type: "observation", Content: "Reviewing bundle: " + bundle},
				{Type: "thought", Content: "Cross-document quantity and weight checks are the highest-signal starting point."},
			},
		},
		{
			ID:   "validation",
			Name: "Cross-Document Validation",
			Steps: []ScriptedStep{
				{
					Type:    "action",
					Content: "Comparing declared quantities across documents",
					Tools:   []ScriptedTool{{Name: "validate_quantity_consistency", Output: "Quantities consistent across documents"}},
				},
				{
					Type:    "action",
					Content: "Comparing declared weights across documents",
					Tools:   []ScriptedTool{{Name: "validate_weight_consistency", Output: "Gross weight within tolerance of net weight plus packaging"}},
				},
			},
		},
		{
			ID:   "synthesis",
			Name: "Evidence Synthesis",
			Steps: []ScriptedStep{
				{
					Type:    "conclusion",
					Content: "Weighing collected evidence against known fraud patterns",
					Tools:   []ScriptedTool{{Name: "synthesize_fraud_evidence", Output: "No corroborated fraud indicators"}},
				},
			},
		},
	}
}
