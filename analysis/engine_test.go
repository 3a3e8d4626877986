package analysis

import (
	"context"
	"errors"
	"testing"
)

func scripted() *ScriptedEngine {
	return &ScriptedEngine{
		Phases: []ScriptedPhase{
			{ID: "observation", Name: "Observation", Steps: []ScriptedStep{
				{Type: "observation", Content: "looking"},
			}},
			{ID: "validation", Name: "Validation", Steps: []ScriptedStep{
				{Type: "action", Content: "checking", Tools: []ScriptedTool{
					{Name: "validate_quantity_consistency", Output: "ok"},
					{Name: "validate_weight_consistency", Output: "ok"},
				}},
			}},
			{ID: "synthesis", Name: "Synthesis", Steps: []ScriptedStep{
				{Type: "conclusion", Content: "done"},
			}},
		},
		Verdict: Result{Confidence: 0.7},
	}
}

func TestScriptedEngineCallbackOrder(t *testing.T) {
	var calls []string
	cb := Callbacks{
		PhaseStarted: func(id, name string) error {
			calls = append(calls, "phase:"+id)
			return nil
		},
		ToolProgress: func(name string, n, total int) error {
			calls = append(calls, "tool:"+name)
			return nil
		},
		StepCompleted: func(stepType, content, toolUsed, toolOutput string) error {
			calls = append(calls, "step:"+stepType)
			return nil
		},
	}
	res, err := scripted().Analyze(context.Background(), nil, Options{}, cb)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []string{
		"phase:observation", "step:observation",
		"phase:validation", "tool:validate_quantity_consistency", "tool:validate_weight_consistency", "step:action",
		"phase:synthesis", "step:conclusion",
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls %v, want %d", len(calls), calls, len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
	if !res.FraudDetected {
		t.Error("confidence 0.7 over default threshold should flag fraud")
	}
}

func TestScriptedEngineMaxPhases(t *testing.T) {
	var phases int
	cb := Callbacks{PhaseStarted: func(id, name string) error {
		phases++
		return nil
	}}
	if _, err := scripted().Analyze(context.Background(), nil, Options{MaxPhases: 2}, cb); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if phases != 2 {
		t.Errorf("ran %d phases, want 2", phases)
	}
}

func TestScriptedEngineConfidenceThreshold(t *testing.T) {
	res, err := scripted().Analyze(context.Background(), nil, Options{ConfidenceThreshold: 0.9}, Callbacks{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.FraudDetected {
		t.Error("confidence 0.7 under threshold 0.9 should not flag fraud")
	}
}

func TestScriptedEngineStopsOnCallbackError(t *testing.T) {
	sentinel := errors.New("consumer gone")
	var steps int
	cb := Callbacks{StepCompleted: func(stepType, content, toolUsed, toolOutput string) error {
		steps++
		return sentinel
	}}
	if _, err := scripted().Analyze(context.Background(), nil, Options{}, cb); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if steps != 1 {
		t.Errorf("engine kept going after callback error, %d steps", steps)
	}
}

func TestScriptedEngineHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := scripted().Analyze(ctx, nil, Options{}, Callbacks{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOptionsNormalize(t *testing.T) {
	o := Options{}.Normalize()
	if o.ConfidenceThreshold != DefaultConfidenceThreshold {
		t.Errorf("default threshold = %v", o.ConfidenceThreshold)
	}
	o = Options{ConfidenceThreshold: 1.5, MaxPhases: -2}.Normalize()
	if o.ConfidenceThreshold != 1 {
		t.Errorf("threshold not clamped: %v", o.ConfidenceThreshold)
	}
	if o.MaxPhases != 0 {
		t.Errorf("MaxPhases not clamped: %v", o.MaxPhases)
	}
}
