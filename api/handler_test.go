package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/config"
	"github.com/amrandil/docstream/event"
	"github.com/amrandil/docstream/frame"
)

func testHandler() *Handler {
	engine := &analysis.ScriptedEngine{
		Phases: []analysis.ScriptedPhase{
			{ID: "observation", Name: "Observation", Steps: []analysis.ScriptedStep{
				{Type: "observation", Content: "looking"},
			}},
			{ID: "validation", Name: "Validation", Steps: []analysis.ScriptedStep{
				{Type: "action", Content: "checking", Tools: []analysis.ScriptedTool{
					{Name: "validate_quantity_consistency", Output: "ok"},
				}},
			}},
		},
		Verdict: analysis.Result{Confidence: 0.3},
	}
	runner := analysis.NewRunner(analysis.WithEngine(engine))

	cfg := config.Default()
	cfg.KeepaliveSeconds = -1
	return New(cfg, runner, logr.Discard())
}

func bundleRequest(t *testing.T, options string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(content))
	}
	if options != "" {
		mw.WriteField("options", options)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/stream", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func streamedEvents(t *testing.T, body []byte) []event.Event {
	t.Helper()
	dec := frame.NewDecoder()
	var events []event.Event
	for _, payload := range dec.Feed(body) {
		var e event.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			t.Fatalf("bad payload %q: %v", payload, err)
		}
		events = append(events, e)
	}
	return events
}

func TestAnalyzeStream(t *testing.T) {
	h := testHandler()
	req := bundleRequest(t, "", map[string]string{
		"commercial_invoice.txt": "Invoice total: 12,000 USD",
		"packing_list.txt":       "40 cartons, gross 940 kg",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("proxy buffering not disabled")
	}

	events := streamedEvents(t, rec.Body.Bytes())
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	if events[0].Type != event.TypeConnection {
		t.Errorf("first event %q, want connection", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != event.TypeAnalysisCompleted {
		t.Errorf("last event %q, want analysis_completed", last.Type)
	}
	if last.FraudDetected {
		t.Error("confidence 0.3 should not flag fraud")
	}

	var files int
	for _, e := range events {
		if e.Type == event.TypeFileCompleted {
			files++
		}
	}
	if files != 2 {
		t.Errorf("%d files completed, want 2", files)
	}
}

func TestAnalyzeStreamUniquifiesDuplicateNames(t *testing.T) {
	h := testHandler()

	// Two uploads whose paths collapse to the same basename.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, content := range []string{"Invoice A", "Invoice B"} {
		fw, err := mw.CreateFormFile("files", "dir/invoice.txt")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/stream", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	events := streamedEvents(t, rec.Body.Bytes())
	started := map[string]int{}
	var completed int
	for _, e := range events {
		switch e.Type {
		case event.TypeFileStarted:
			started[e.Filename]++
		case event.TypeFileCompleted:
			completed++
		}
	}
	for name, n := range started {
		if n != 1 {
			t.Errorf("file_started emitted %d times for %q", n, name)
		}
	}
	if len(started) != 2 || completed != 2 {
		t.Errorf("started %v, completed %d, want two distinct file lifecycles", started, completed)
	}
	if started["invoice.txt"] != 1 || started["invoice_2.txt"] != 1 {
		t.Errorf("duplicate basename not uniquified: %v", started)
	}
	if last := events[len(events)-1]; last.Type != event.TypeAnalysisCompleted {
		t.Errorf("last event %q, want analysis_completed", last.Type)
	}
}

func TestAnalyzeStreamOptionsOverride(t *testing.T) {
	h := testHandler()
	req := bundleRequest(t, `{"confidence_threshold":0.2,"max_phases":1}`,
		map[string]string{"invoice.txt": "Invoice"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	events := streamedEvents(t, rec.Body.Bytes())
	var phases int
	for _, e := range events {
		if e.Type == event.TypePhaseStarted {
			phases++
		}
	}
	if phases != 1 {
		t.Errorf("%d phases, want 1 after max_phases override", phases)
	}
	last := events[len(events)-1]
	if !last.FraudDetected {
		t.Error("threshold 0.2 under confidence 0.3 should flag fraud")
	}
}

func TestAnalyzeStreamRejectsEmptyBundle(t *testing.T) {
	h := testHandler()
	req := bundleRequest(t, "", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if body["detail"] == "" {
		t.Error("error body missing detail")
	}
}

func TestAnalyzeStreamRejectsBadOptions(t *testing.T) {
	h := testHandler()
	req := bundleRequest(t, "{not json", map[string]string{"invoice.txt": "Invoice"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestAnalyzeStreamFileErrorArrivesInBand(t *testing.T) {
	h := testHandler()
	req := bundleRequest(t, "", map[string]string{"scan.bin": "\x00\x01\x02"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// The stream is already committed, so the failure is an event.
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	events := streamedEvents(t, rec.Body.Bytes())
	last := events[len(events)-1]
	if last.Type != event.TypeAnalysisError {
		t.Errorf("last event %q, want analysis_error", last.Type)
	}
}

func TestAgentInfo(t *testing.T) {
	h := testHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var info struct {
		AgentType  string   `json:"agent_type"`
		ToolsCount int      `json:"tools_count"`
		Tools      []string `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.AgentType != "FraudDetectionAgent" {
		t.Errorf("agent_type %q", info.AgentType)
	}
	if info.ToolsCount != len(info.Tools) || info.ToolsCount == 0 {
		t.Errorf("tools_count %d, tools %d", info.ToolsCount, len(info.Tools))
	}
}

func TestHealth(t *testing.T) {
	h := testHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("unexpected health body %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docstream_sessions_started_total") {
		t.Error("metrics body missing session counter")
	}
}
