package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects run, model and tool metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
type Metrics struct {
	// RunsTotal counts finished runs.
	// Labels: status (success|error|canceled)
	RunsTotal *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	// Labels: status
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is the number of runs currently executing.
	ActiveRuns prometheus.Gauge

	// ModelAttempts counts individual model calls including retries.
	// Labels: provider, outcome (success|transient|fatal)
	ModelAttempts *prometheus.CounterVec

	// ModelRetries counts backoff waits taken before a retry.
	// Labels: provider
	ModelRetries *prometheus.CounterVec

	// ModelDuration measures a single model attempt in seconds.
	// Labels: provider
	ModelDuration *prometheus.HistogramVec

	// TokensTotal tracks token consumption.
	// Labels: type (input|output)
	TokensTotal *prometheus.CounterVec

	// ToolCalls counts tool invocations.
	// Labels: tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_runs_total",
				Help: "Total number of finished runs by status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_run_duration_seconds",
				Help:    "Duration of runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrun_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		ModelAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_model_attempts_total",
				Help: "Total number of model call attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ModelRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_model_retries_total",
				Help: "Total number of model call retries after a transient error",
			},
			[]string{"provider"},
		),
		ModelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_model_attempt_duration_seconds",
				Help:    "Duration of single model call attempts in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_tokens_total",
				Help: "Total number of tokens reported by the model by type",
			},
			[]string{"type"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_tool_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ModelAttempt records one model call attempt.
func (m *Metrics) ModelAttempt(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelAttempts.WithLabelValues(provider, outcome).Inc()
	m.ModelDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ModelRetry records a backoff wait before the next attempt.
func (m *Metrics) ModelRetry(provider string) {
	if m == nil {
		return
	}
	m.ModelRetries.WithLabelValues(provider).Inc()
}

// Tokens adds reported token usage.
func (m *Metrics) Tokens(input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(output))
	}
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
