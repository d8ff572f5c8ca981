// Package telemetry exports Prometheus metrics for schedulers, roots and
// the signal hub.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/reactive/pkg/reactive"
)

// Config configures the metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "reactive").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "reactive",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// passBuckets bound the number of drain passes one Stable call needed.
var passBuckets = []float64{1, 2, 3, 5, 8, 13, 21, 34}

// Metrics holds the collectors. Create one per registry.
type Metrics struct {
	actionsScheduled *prometheus.CounterVec
	actionsCancelled *prometheus.CounterVec
	actionsRun       *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec

	effectRuns     *prometheus.CounterVec
	effectDuration prometheus.Histogram

	stableTotal    *prometheus.CounterVec
	stablePasses   prometheus.Histogram
	stableDuration prometheus.Histogram

	activeRoots   prometheus.Gauge
	signalWrites  *prometheus.CounterVec
	failedActions prometheus.Counter
}

var _ reactive.Observer = (*Metrics)(nil)

// New registers the metrics with the configured registry.
//
// Metrics collected:
//   - reactive_actions_scheduled_total: actions queued, by strategy
//   - reactive_actions_cancelled_total: actions cancelled before running, by strategy
//   - reactive_actions_run_total: actions executed, by strategy and status
//   - reactive_action_duration_seconds: action execution time, by strategy
//   - reactive_effect_runs_total: effect runs by status
//   - reactive_effect_duration_seconds: effect run time
//   - reactive_stable_total: Stable calls by result
//   - reactive_stable_passes: drain passes per Stable call
//   - reactive_stable_duration_seconds: time spent in Stable
//   - reactive_active_roots: roots currently open in the hub
//   - reactive_signal_writes_total: hub writes by signal name
//   - reactive_failed_actions_total: failures reported to error handlers
//
// Registering twice with the same registry panics, as with promauto.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		actionsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_scheduled_total",
			Help:        "Total number of actions handed to a scheduler",
			ConstLabels: config.ConstLabels,
		}, []string{"strategy"}),

		actionsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_cancelled_total",
			Help:        "Total number of actions cancelled before they ran",
			ConstLabels: config.ConstLabels,
		}, []string{"strategy"}),

		actionsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_run_total",
			Help:        "Total number of actions executed",
			ConstLabels: config.ConstLabels,
		}, []string{"strategy", "status"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "action_duration_seconds",
			Help:        "Action execution time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"strategy"}),

		effectRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "effect_runs_total",
			Help:        "Total number of effect runs",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		effectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "effect_duration_seconds",
			Help:        "Effect run time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		stableTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stable_total",
			Help:        "Total number of stability waits by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		stablePasses: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stable_passes",
			Help:        "Drain passes needed to reach a fixed point",
			ConstLabels: config.ConstLabels,
			Buckets:     passBuckets,
		}),

		stableDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stable_duration_seconds",
			Help:        "Time spent waiting for stability in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		activeRoots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_roots",
			Help:        "Number of roots currently open",
			ConstLabels: config.ConstLabels,
		}),

		signalWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "signal_writes_total",
			Help:        "Total number of signal writes received by the hub",
			ConstLabels: config.ConstLabels,
		}, []string{"signal"}),

		failedActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "failed_actions_total",
			Help:        "Total number of action failures reported to an error handler",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// ObserveEffectRun implements reactive.Observer.
func (m *Metrics) ObserveEffectRun(d time.Duration, panicked bool) {
	status := "ok"
	if panicked {
		status = "panic"
	}
	m.effectRuns.WithLabelValues(status).Inc()
	m.effectDuration.Observe(d.Seconds())
}

// ObserveStable implements reactive.Observer.
func (m *Metrics) ObserveStable(passes int, d time.Duration, err error) {
	m.stableTotal.WithLabelValues(stableResult(err)).Inc()
	m.stablePasses.Observe(float64(passes))
	m.stableDuration.Observe(d.Seconds())
}

// RootOpened records a new root.
func (m *Metrics) RootOpened() {
	m.activeRoots.Inc()
}

// RootClosed records a disposed root.
func (m *Metrics) RootClosed() {
	m.activeRoots.Dec()
}

// RecordSignalWrite records a write to the named signal.
func (m *Metrics) RecordSignalWrite(name string) {
	m.signalWrites.WithLabelValues(name).Inc()
}

// ErrorHandler returns a handler that counts a failure and passes it on to
// next. A nil next drops the error after counting.
func (m *Metrics) ErrorHandler(next func(error)) func(error) {
	return func(err error) {
		m.failedActions.Inc()
		if next != nil {
			next(err)
		}
	}
}

// stableResult keeps the label set small.
func stableResult(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
