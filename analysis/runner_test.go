package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/frame"
	"github.com/amrandil/docstream/stream"
	"github.com/amrandil/docstream/transcript"
)

func decodeEvents(t *testing.T, raw []byte) []event.Event {
	t.Helper()
	dec := frame.NewDecoder()
	var events []event.Event
	for _, payload := range dec.Feed(raw) {
		var e event.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			t.Fatalf("bad payload %q: %v", payload, err)
		}
		events = append(events, e)
	}
	return events
}

func testDocs() []Document {
	return []Document{
		{Filename: "commercial_invoice.txt", Data: []byte("Invoice total: 12,000 USD")},
		{Filename: "packing_list.txt", Data: []byte("40 cartons, gross 940 kg")},
	}
}

func TestRunnerHappyPathOrdering(t *testing.T) {
	var buf bytes.Buffer
	mux := stream.NewMux(&buf)
	defer mux.Close()

	r := NewRunner(WithEngine(scripted()))
	if err := r.Run(context.Background(), mux, testDocs(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())

	fileLifecycle := []event.Type{
		event.TypeFileStarted,
		event.TypePreprocessingStep, // start
		event.TypePreprocessingStep, // uploading
		event.TypePreprocessingStep, // uploaded
		event.TypePreprocessingStep, // extracting
		event.TypePreprocessingStep, // extracted
		event.TypePreprocessingStep, // completed
		event.TypeExtractedContent,
		event.TypeFileCompleted,
	}
	want := []event.Type{event.TypeConnection, event.TypePreprocessingStarted}
	want = append(want, fileLifecycle...)
	want = append(want, fileLifecycle...)
	want = append(want,
		event.TypePreprocessingCompleted,
		event.TypeAnalysisStarted,
		event.TypePhaseStarted,
		event.TypeStepCompleted,
		event.TypePhaseStarted,
		event.TypeToolProgress,
		event.TypeToolProgress,
		event.TypeStepCompleted,
		event.TypePhaseStarted,
		event.TypeStepCompleted,
		event.TypeAnalysisCompleted,
	)

	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Errorf("event %d: type %q, want %q", i, e.Type, want[i])
		}
	}

	if !strings.HasPrefix(events[0].BundleID, "bundle_") {
		t.Errorf("connection bundle id %q lacks bundle_ prefix", events[0].BundleID)
	}

	terminal := events[len(events)-1]
	if terminal.ExecutionID == "" {
		t.Error("terminal event missing execution id")
	}
	if !terminal.FraudDetected || terminal.RiskLevel != event.RiskHigh {
		t.Errorf("terminal verdict = detected %v risk %q", terminal.FraudDetected, terminal.RiskLevel)
	}

	summary := events[len(fileLifecycle)*2+2]
	if summary.Count != 2 {
		t.Errorf("preprocessing summary count = %d, want 2", summary.Count)
	}
}

func TestRunnerOutputProjectsClean(t *testing.T) {
	var buf bytes.Buffer
	mux := stream.NewMux(&buf)
	defer mux.Close()

	if err := NewRunner(WithEngine(scripted())).Run(context.Background(), mux, testDocs(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state := transcript.Replay(decodeEvents(t, buf.Bytes()))
	if !state.Terminal {
		t.Fatal("replayed state not terminal")
	}
	if n := transcript.ActiveCount(transcript.Render(state)); n != 0 {
		t.Errorf("%d indicators still active after terminal event", n)
	}
	if state.TotalFiles != 2 || state.CurrentPhase != 3 {
		t.Errorf("state files=%d phase=%d", state.TotalFiles, state.CurrentPhase)
	}
}

func TestRunnerAbortsOnFileError(t *testing.T) {
	var buf bytes.Buffer
	mux := stream.NewMux(&buf)
	defer mux.Close()

	docs := []Document{
		{Filename: "scan.bin", Data: []byte{0x00, 0x01}},
		{Filename: "invoice.txt", Data: []byte("never reached")},
	}
	err := NewRunner(WithEngine(scripted())).Run(context.Background(), mux, docs, Options{})
	if err == nil {
		t.Fatal("Run should fail on binary upload")
	}

	events := decodeEvents(t, buf.Bytes())
	last := events[len(events)-1]
	if last.Type != event.TypeAnalysisError {
		t.Fatalf("last event %q, want analysis_error", last.Type)
	}
	if last.Error == "" {
		t.Error("terminal error event has no error text")
	}
	for _, e := range events {
		if e.Filename == "invoice.txt" {
			t.Error("second file processed after abort")
		}
	}

	var sawErrorStep bool
	for _, e := range events {
		if e.Type == event.TypePreprocessingStep && e.Step == event.StepError {
			sawErrorStep = true
		}
	}
	if !sawErrorStep {
		t.Error("no error step emitted for the failed file")
	}
}

func TestRunnerContinuesPastFileError(t *testing.T) {
	var buf bytes.Buffer
	mux := stream.NewMux(&buf)
	defer mux.Close()

	docs := []Document{
		{Filename: "scan.bin", Data: []byte{0x00, 0x01}},
		{Filename: "invoice.txt", Data: []byte("Invoice total: 12,000 USD")},
	}
	r := NewRunner(WithEngine(scripted()), WithContinueOnFileError())
	if err := r.Run(context.Background(), mux, docs, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	var summaryCount, analysisCount int
	for _, e := range events {
		switch e.Type {
		case event.TypePreprocessingCompleted:
			summaryCount = e.Count
		case event.TypeAnalysisStarted:
			analysisCount = e.Count
		}
	}
	if summaryCount != 1 {
		t.Errorf("summary count = %d, want 1 (failed file excluded)", summaryCount)
	}
	if analysisCount != 1 {
		t.Errorf("analysis document count = %d, want 1", analysisCount)
	}
	if events[len(events)-1].Type != event.TypeAnalysisCompleted {
		t.Errorf("session did not complete: last event %q", events[len(events)-1].Type)
	}
}

type failAfter struct {
	okWrites int
	writes   int
}

func (w *failAfter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.okWrites {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestRunnerStopsWhenConsumerGone(t *testing.T) {
	w := &failAfter{okWrites: 5}
	mux := stream.NewMux(w)
	defer mux.Close()

	err := NewRunner(WithEngine(scripted())).Run(context.Background(), mux, testDocs(), Options{})
	if err == nil {
		t.Fatal("Run should surface the transport failure")
	}
	if !mux.Cancelled() {
		t.Error("mux not cancelled after write failure")
	}
	// One failed write cancels the session; nothing is retried.
	if w.writes != w.okWrites+1 {
		t.Errorf("%d writes after failure, want none", w.writes-w.okWrites-1)
	}
}

func TestRunnerDefaultEngine(t *testing.T) {
	var buf bytes.Buffer
	mux := stream.NewMux(&buf)
	defer mux.Close()

	if err := NewRunner().Run(context.Background(), mux, testDocs(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := decodeEvents(t, buf.Bytes())
	if events[len(events)-1].Type != event.TypeAnalysisCompleted {
		t.Errorf("default engine did not complete: last event %q", events[len(events)-1].Type)
	}
}
