// Package metrics exposes Prometheus instrumentation for the streaming
// analysis service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docstream_sessions_started_total",
		Help: "Total number of streaming analysis sessions started.",
	})

	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstream_sessions_completed_total",
		Help: "Total number of sessions reaching a terminal state, labelled by outcome.",
	}, []string{"outcome"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docstream_sessions_active",
		Help: "Number of streaming sessions currently producing events.",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstream_events_emitted_total",
		Help: "Total number of progress events written to transports, labelled by event type.",
	}, []string{"type"})

	TransportWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docstream_transport_write_failures_total",
		Help: "Total number of frame writes that failed, cancelling their session.",
	})

	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstream_files_processed_total",
		Help: "Total number of files run through preprocessing, labelled by status.",
	}, []string{"status"})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docstream_session_duration_seconds",
		Help:    "End-to-end duration of streaming analysis sessions.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docstream_upload_bytes",
		Help:    "Size of uploaded document bundles in bytes.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
)

// Session outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)
