// Package api exposes the HTTP surface: the streaming analysis
// endpoint, agent metadata, health and Prometheus metrics.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amrandil/docstream/analysis"
	"github.com/amrandil/docstream/config"
	"github.com/amrandil/docstream/metrics"
	"github.com/amrandil/docstream/stream"
)

const (
	serviceName    = "docstream"
	serviceVersion = "0.1.0"
)

// Handler routes the service's HTTP endpoints.
type Handler struct {
	log    logr.Logger
	cfg    config.Config
	runner *analysis.Runner
	mux    *http.ServeMux
}

// New builds the HTTP handler around a session runner.
func New(cfg config.Config, runner *analysis.Runner, log logr.Logger) *Handler {
	h := &Handler{
		log:    log,
		cfg:    cfg,
		runner: runner,
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /api/v1/analyze/stream", h.analyzeStream)
	h.mux.HandleFunc("GET /api/v1/agent/info", h.agentInfo)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// analyzeStream accepts a multipart document bundle and streams the
// session's events back on the same response. The response status is
// committed before the session runs, so failures inside the session
// arrive as terminal events, not HTTP errors.
func (h *Handler) analyzeStream(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %s", err))
		return
	}

	opts := h.cfg.Analysis
	if blob := r.FormValue("options"); blob != "" {
		if err := json.Unmarshal([]byte(blob), &opts); err != nil {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid options: %s", err))
			return
		}
	}

	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		httpError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	tmpDir, err := os.MkdirTemp("", "docstream-upload-*")
	if err != nil {
		h.log.Error(err, "failed to create upload dir")
		httpError(w, http.StatusInternalServerError, "upload staging failed")
		return
	}

	docs, err := stageUploads(tmpDir, uploads)
	if err != nil {
		os.RemoveAll(tmpDir)
		httpError(w, http.StatusBadRequest, fmt.Sprintf("upload failed: %s", err))
		return
	}
	var bundleBytes int
	for _, doc := range docs {
		bundleBytes += len(doc.Data)
	}
	metrics.UploadBytes.Observe(float64(bundleBytes))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := h.log.WithValues("remote", r.RemoteAddr)
	sessionMux := stream.NewMux(w,
		stream.WithLogger(log),
		stream.WithKeepalive(h.cfg.KeepaliveInterval()),
		stream.WithCleanup(func() {
			if err := os.RemoveAll(tmpDir); err != nil {
				log.Error(err, "failed to remove upload dir", "dir", tmpDir)
			}
		}),
	)
	defer sessionMux.Close()

	if err := h.runner.Run(r.Context(), sessionMux, docs, opts); err != nil {
		log.V(1).Info("session ended with error", "error", err.Error())
	}
}

// stageUploads copies each upload into dir and returns the documents to
// analyze, with every document's bytes read back from its staged path.
// The staged copies are the session's transient artifacts; the stream
// cleanup hook removes the directory when the session ends.
//
// Filenames are reduced to basenames, and duplicates are uniquified
// (invoice.txt, invoice_2.txt, ...) so each file keeps a lifecycle of
// its own: the filename is the file's identity on the stream, and two
// files must never share one.
func stageUploads(dir string, uploads []*multipart.FileHeader) ([]analysis.Document, error) {
	docs := make([]analysis.Document, 0, len(uploads))
	used := make(map[string]bool, len(uploads))
	for _, fh := range uploads {
		base := filepath.Base(fh.Filename)
		name := base
		for i := 2; used[name]; i++ {
			ext := filepath.Ext(base)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), i, ext)
		}
		used[name] = true

		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		path := filepath.Join(dir, name)
		dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		if closeErr := dst.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return nil, fmt.Errorf("stage %s: %w", name, copyErr)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read staged %s: %w", name, err)
		}
		docs = append(docs, analysis.Document{Filename: name, Data: data})
	}
	return docs, nil
}

func (h *Handler) agentInfo(w http.ResponseWriter, r *http.Request) {
	tools := analysis.AvailableTools()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_type":               "FraudDetectionAgent",
		"tools_count":              len(tools),
		"tools":                    tools,
		"supported_document_types": analysis.DocumentTypes(),
		"fraud_types_detected":     analysis.FraudTypes(),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
