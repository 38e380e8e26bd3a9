package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Pilot. A Metrics built with
// metrics disabled is a no-op; every Record method is safe to call.
type Metrics struct {
	config MetricsConfig

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Bridge metrics
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	rollbacks     *prometheus.CounterVec
	activeRuns    prometheus.Gauge

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  prometheus.Histogram

	// Policy metrics
	policyDenials *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "route"},
		),

		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_invocations_total",
				Help:      "Total number of bridge invocations by operation and result",
			},
			[]string{"operation", "result"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bridge_invocation_duration_seconds",
				Help:      "Duration of bridge invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of project runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of project runs finished by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of project runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of run rollbacks by cause",
			},
			[]string{"cause"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of plan steps executed by status",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of plan step execution in seconds",
				Buckets:   buckets,
			},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of operations denied by admission policy",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.invocations,
		m.invocationDuration,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.rollbacks,
		m.activeRuns,
		m.stepsExecuted,
		m.stepDuration,
		m.policyDenials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// HTTP Metrics

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Bridge Metrics

// RecordInvocation records one bridge invocation and the kind of result it produced.
func (m *Metrics) RecordInvocation(operation, result string, duration time.Duration) {
	if m == nil || m.invocations == nil {
		return
	}
	m.invocations.WithLabelValues(operation, result).Inc()
	m.invocationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished records a finished run with its outcome and duration.
func (m *Metrics) RecordRunFinished(outcome string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordRollback records one rollback of a run.
func (m *Metrics) RecordRollback(cause string) {
	if m == nil || m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(cause).Inc()
}

// Step Metrics

// RecordStepExecution records the execution of a single plan step.
func (m *Metrics) RecordStepExecution(status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(status).Inc()
	m.stepDuration.Observe(duration.Seconds())
}

// RecordPolicyDenial records an admission denial.
func (m *Metrics) RecordPolicyDenial(operation string) {
	if m == nil || m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(operation).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts a dedicated HTTP server exposing metrics when
// a listen address is configured. Errors after startup are reported to
// the given logger.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return nil
}
