package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the rule engine. A nil *Metrics and
// a disabled one both accept every call and record nothing.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	taskInvocations *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec

	invalidations    *prometheus.CounterVec
	nodesInvalidated prometheus.Counter
	cycles           prometheus.Counter

	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	graphNodes     prometheus.Gauge
	graphCompleted prometheus.Gauge
	activeRuns     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_completed_total",
			Help:      "Total number of runs completed",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs in seconds",
			Buckets:   buckets,
		}, []string{"status"}),

		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "node_steps_total",
			Help:      "Total number of node steps by node kind and resulting state",
		}, []string{"kind", "state"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "node_step_duration_seconds",
			Help:      "Duration of node steps in seconds",
			Buckets:   buckets,
		}, []string{"kind"}),

		taskInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "task_invocations_total",
			Help:      "Total number of task function invocations",
		}, []string{"rule", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "task_duration_seconds",
			Help:      "Duration of task function invocations in seconds",
			Buckets:   buckets,
		}, []string{"rule"}),

		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "invalidations_total",
			Help:      "Total number of graph invalidations",
		}, []string{"reason"}),
		nodesInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "nodes_invalidated_total",
			Help:      "Total number of nodes removed by invalidation",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cycles_detected_total",
			Help:      "Total number of dependency edges rejected because they closed a cycle",
		}),

		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_by_kind_total",
			Help:      "Total number of errors by error kind",
		}, []string{"kind"}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_by_code_total",
			Help:      "Total number of errors by error code",
		}, []string{"code"}),

		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "graph_nodes",
			Help:      "Current number of nodes in the product graph",
		}),
		graphCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "graph_completed_nodes",
			Help:      "Current number of memoized nodes in the product graph",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_runs",
			Help:      "Current number of active runs",
		}),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.steps,
		m.stepDuration,
		m.taskInvocations,
		m.taskDuration,
		m.invalidations,
		m.nodesInvalidated,
		m.cycles,
		m.errorsByKind,
		m.errorsByCode,
		m.graphNodes,
		m.graphCompleted,
		m.activeRuns,
	)
	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStep records one node step.
func (m *Metrics) RecordStep(kind, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.steps.WithLabelValues(kind, state).Inc()
	m.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTaskInvocation records one call of a task function.
func (m *Metrics) RecordTaskInvocation(rule, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.taskInvocations.WithLabelValues(rule, outcome).Inc()
	m.taskDuration.WithLabelValues(rule).Observe(duration.Seconds())
}

// RecordInvalidation records a graph invalidation.
func (m *Metrics) RecordInvalidation(reason string, removed int) {
	if !m.enabled() {
		return
	}
	m.invalidations.WithLabelValues(reason).Inc()
	m.nodesInvalidated.Add(float64(removed))
}

// RecordCycle counts a dependency edge rejected as cyclic.
func (m *Metrics) RecordCycle() {
	if !m.enabled() {
		return
	}
	m.cycles.Inc()
}

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// SetGraphSize sets the product graph gauges.
func (m *Metrics) SetGraphSize(nodes, completed int) {
	if !m.enabled() {
		return
	}
	m.graphNodes.Set(float64(nodes))
	m.graphCompleted.Set(float64(completed))
}

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if !m.enabled() {
		return
	}
	m.activeRuns.Set(count)
}

// Gatherer returns the registry metrics are registered with, or nil.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves metrics on the configured address until the
// returned server is shut down. It returns nil when no address is set.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.enabled() || m.config.ListenAddress == "" {
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
	return server
}
