package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides the Prometheus instrumentation surface for a run of
// the deployer: run-level counters, per-step dispatch/completion
// counters broken out by action, scheduler queue depth and checkpoint
// duration.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics, broken out by action (Create/Update/ConditionalUpdate/
	// Destroy/NoChange).
	stepsDispatched *prometheus.CounterVec
	stepsFinished   *prometheus.CounterVec // labels: action, outcome
	stepDuration    *prometheus.HistogramVec

	// Engine dispatcher metrics.
	engineCalls    *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	engineErrors   *prometheus.CounterVec

	// Error metrics.
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Scheduler/checkpoint system metrics.
	activeRuns          prometheus.Gauge
	schedulerQueueDepth prometheus.Gauge
	checkpointDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance: every recorder method guards
		// on a nil collector.
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started, by command.",
			},
			[]string{"command"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed, by status.",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full run in seconds.",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_dispatched_total",
				Help:      "Total number of steps dispatched to a worker, by action.",
			},
			[]string{"action"},
		),
		stepsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_finished_total",
				Help:      "Total number of steps reaching a terminal state, by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds, by action.",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		engineCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_calls_total",
				Help:      "Total number of engine dispatches, by engine and command.",
			},
			[]string{"engine", "command"},
		),
		engineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_call_duration_seconds",
				Help:      "Duration of engine dispatches in seconds, by engine and command.",
				Buckets:   buckets,
			},
			[]string{"engine", "command"},
		),
		engineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_errors_total",
				Help:      "Total number of engine dispatch failures, by engine and command.",
			},
			[]string{"engine", "command"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by retry class.",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by taxonomy code.",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of in-flight runs.",
			},
		),
		schedulerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_queue_depth",
				Help:      "Current number of steps Ready but not yet dispatched to a worker.",
			},
		),
		checkpointDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "checkpoint_duration_seconds",
				Help:      "Duration of a state store checkpoint write in seconds.",
				Buckets:   buckets,
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsDispatched,
		m.stepsFinished,
		m.stepDuration,
		m.engineCalls,
		m.engineDuration,
		m.engineErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.schedulerQueueDepth,
		m.checkpointDuration,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs (command is
// one of orga/list/preview/apply/update-hash/remove-orphans).
func (m *Metrics) RecordRunStarted(command string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(command).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordStepDispatched records a step being handed to an idle worker.
func (m *Metrics) RecordStepDispatched(action string) {
	if m.stepsDispatched == nil {
		return
	}
	m.stepsDispatched.WithLabelValues(action).Inc()
}

// RecordStepFinished records a step reaching a terminal state (outcome
// is Completed/Failed/Skipped) along with how long it ran.
func (m *Metrics) RecordStepFinished(action, outcome string, duration time.Duration) {
	if m.stepsFinished == nil {
		return
	}
	m.stepsFinished.WithLabelValues(action, outcome).Inc()
	m.stepDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordEngineCall records one engine dispatch (prepare+subprocess+
// postprocess) and its duration.
func (m *Metrics) RecordEngineCall(engine, command string, duration time.Duration) {
	if m.engineCalls == nil {
		return
	}
	m.engineCalls.WithLabelValues(engine, command).Inc()
	m.engineDuration.WithLabelValues(engine, command).Observe(duration.Seconds())
}

// RecordEngineError records an engine dispatch that ended in failure.
func (m *Metrics) RecordEngineError(engine, command string) {
	if m.engineErrors == nil {
		return
	}
	m.engineErrors.WithLabelValues(engine, command).Inc()
}

// RecordError records an error by retry class and, when known, taxonomy
// code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// SetSchedulerQueueDepth sets the current count of Ready-but-undispatched
// steps.
func (m *Metrics) SetSchedulerQueueDepth(count float64) {
	if m.schedulerQueueDepth == nil {
		return
	}
	m.schedulerQueueDepth.Set(count)
}

// RecordCheckpointDuration records how long a state store checkpoint
// write took.
func (m *Metrics) RecordCheckpointDuration(duration time.Duration) {
	if m.checkpointDuration == nil {
		return
	}
	m.checkpointDuration.Observe(duration.Seconds())
}

// SetActiveRuns sets the current number of in-flight runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
