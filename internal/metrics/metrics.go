package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Job metrics
var (
	JobsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videra_jobs_created_total",
			Help: "Total number of compression jobs created",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videra_jobs_finished_total",
			Help: "Total number of compression jobs that ended, by outcome",
		},
		[]string{"outcome"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videra_jobs_active",
			Help: "Number of job records currently held in memory",
		},
	)

	JobCreationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videra_job_creation_failures_total",
			Help: "Uploads that did not become a job, by reason",
		},
		[]string{"reason"}, // "incomplete", "metadata", "infeasible", "other"
	)
)

// Encoder metrics
var (
	EncodePassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videra_encode_pass_duration_seconds",
			Help:    "Wall time of each ffmpeg pass",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"pass", "encoder"},
	)

	EncoderInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "videra_encoder_info",
			Help: "Encoder selected at startup (value is always 1)",
		},
		[]string{"codec", "hwaccel"},
	)
)

// Upload metrics
var (
	UploadChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videra_upload_chunks_total",
			Help: "Total number of upload chunks stored",
		},
	)

	UploadAssembledBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videra_upload_assembled_bytes_total",
			Help: "Bytes written by upload assembly",
		},
	)

	UploadSessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "videra_upload_sessions_reaped_total",
			Help: "Idle upload sessions removed by the reaper",
		},
	)
)

// InitializeMetrics pre-populates label combinations so every series is
// exported from the first scrape.
func InitializeMetrics() {
	for _, outcome := range []string{OutcomeCompleted, OutcomeFailed, OutcomeCancelled} {
		JobsFinishedTotal.WithLabelValues(outcome)
	}
	for _, reason := range []string{"incomplete", "metadata", "infeasible", "other"} {
		JobCreationFailures.WithLabelValues(reason)
	}
}
