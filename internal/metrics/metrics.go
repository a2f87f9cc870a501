package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_total",
			Help: "Total number of research runs",
		},
		[]string{"status"}, // status: completed, failed
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	PhasesPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_phases_per_run",
			Help:    "Number of research phases executed per run",
			Buckets: []float64{1, 2, 3, 4},
		},
	)

	QuestionsPerPhase = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_questions_per_phase",
			Help:    "Number of sub-questions generated per phase",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
		},
	)

	// Token metrics
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_tokens_total",
			Help: "Total upstream tokens consumed",
		},
		[]string{"stage"}, // stage: decompose, answer, validate, summarize
	)

	TokensPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_tokens_per_run",
			Help:    "Token usage per research run",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	// Streaming metrics
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_total",
			Help: "Total number of protocol events emitted to clients",
		},
		[]string{"type"},
	)

	// Upstream metrics
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_upstream_errors_total",
			Help: "Total number of upstream service errors",
		},
		[]string{"service", "kind"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)
)

// RunRecorder tracks metrics for a single research run.
type RunRecorder struct {
	start time.Time
}

// NewRunRecorder starts timing a research run.
func NewRunRecorder() *RunRecorder {
	return &RunRecorder{start: time.Now()}
}

// RecordCompleted records a successful run.
func (r *RunRecorder) RecordCompleted(phases, totalTokens int) {
	RunsTotal.WithLabelValues("completed").Inc()
	RunDuration.WithLabelValues("completed").Observe(time.Since(r.start).Seconds())
	PhasesPerRun.Observe(float64(phases))
	TokensPerRun.Observe(float64(totalTokens))
}

// RecordFailed records a failed run.
func (r *RunRecorder) RecordFailed(phases, totalTokens int) {
	RunsTotal.WithLabelValues("failed").Inc()
	RunDuration.WithLabelValues("failed").Observe(time.Since(r.start).Seconds())
	if phases > 0 {
		PhasesPerRun.Observe(float64(phases))
	}
	if totalTokens > 0 {
		TokensPerRun.Observe(float64(totalTokens))
	}
}

// RecordStage adds stage-attributed token usage.
func RecordStage(stage string, tokens int) {
	if tokens > 0 {
		TokensTotal.WithLabelValues(stage).Add(float64(tokens))
	}
}

// RecordUpstreamError counts an upstream failure.
func RecordUpstreamError(service, kind string) {
	UpstreamErrorsTotal.WithLabelValues(service, kind).Inc()
}
