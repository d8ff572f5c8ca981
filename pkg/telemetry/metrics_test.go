package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/reactive/pkg/reactive"
	"github.com/vango-dev/reactive/pkg/scheduler"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogram(t *testing.T, o prometheus.Observer) *dto.Histogram {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram()
}

func newTestMetrics() *Metrics {
	return New(WithRegistry(prometheus.NewRegistry()))
}

func TestInstrumentCountsActions(t *testing.T) {
	m := newTestMetrics()
	manual := scheduler.NewManual(scheduler.WithErrorHandler(func(error) {}))
	s := m.Instrument(manual, "manual")

	s.Schedule(func() {})
	s.Schedule(func() { panic("boom") })
	cancel := s.Schedule(func() { t.Error("cancelled action ran") })
	cancel()
	cancel()

	if s.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", s.Pending())
	}
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if got := metricCounterValue(t, m.actionsScheduled.WithLabelValues("manual")); got != 3 {
		t.Errorf("actions_scheduled_total = %v, want 3", got)
	}
	if got := metricCounterValue(t, m.actionsCancelled.WithLabelValues("manual")); got != 1 {
		t.Errorf("actions_cancelled_total = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.actionsRun.WithLabelValues("manual", "ok")); got != 1 {
		t.Errorf("actions_run_total(ok) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.actionsRun.WithLabelValues("manual", "panic")); got != 1 {
		t.Errorf("actions_run_total(panic) = %v, want 1", got)
	}
	if got := metricHistogram(t, m.actionDuration.WithLabelValues("manual")).GetSampleCount(); got != 2 {
		t.Errorf("action_duration_seconds count = %d, want 2", got)
	}
}

func TestCancelAfterRunIsNotCounted(t *testing.T) {
	m := newTestMetrics()
	s := m.Instrument(scheduler.NewManual(), "manual")

	cancel := s.Schedule(func() {})
	if _, err := scheduler.Flush(s); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	cancel()

	if got := metricCounterValue(t, m.actionsCancelled.WithLabelValues("manual")); got != 0 {
		t.Errorf("actions_cancelled_total = %v, want 0", got)
	}
}

func TestInstrumentUnwrapsForFlush(t *testing.T) {
	m := newTestMetrics()
	manual := scheduler.NewManual()
	s := m.Instrument(manual, "manual")

	if s.Unwrap() != manual {
		t.Fatal("Unwrap() should return the decorated scheduler")
	}
	ran := false
	s.Schedule(func() { ran = true })
	flushed, err := scheduler.Flush(s)
	if !flushed || err != nil || !ran {
		t.Errorf("Flush() = %v, %v; ran=%v", flushed, err, ran)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on a manual scheduler = %v", err)
	}
}

func TestObserverFromRoot(t *testing.T) {
	m := newTestMetrics()
	s := m.Instrument(scheduler.NewManual(scheduler.WithErrorHandler(m.ErrorHandler(nil))), "manual")
	root := reactive.NewRoot(s, nil, reactive.WithObserver(m))
	defer root.Dispose()

	count := reactive.NewSignal(0)
	root.Effect(func() {
		if n := count.Get(); n < 2 {
			count.Set(n + 1)
		}
	})
	root.Effect(func() { panic("bad effect") })

	if err := root.Stable(context.Background()); err != nil {
		t.Fatalf("Stable: %v", err)
	}

	if got := metricCounterValue(t, m.effectRuns.WithLabelValues("ok")); got != 3 {
		t.Errorf("effect_runs_total(ok) = %v, want 3", got)
	}
	if got := metricCounterValue(t, m.effectRuns.WithLabelValues("panic")); got != 1 {
		t.Errorf("effect_runs_total(panic) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.stableTotal.WithLabelValues("settled")); got != 1 {
		t.Errorf("stable_total(settled) = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.failedActions); got != 1 {
		t.Errorf("failed_actions_total = %v, want 1", got)
	}
	h := metricHistogram(t, m.stablePasses)
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 3 {
		t.Errorf("stable_passes count=%d sum=%v, want 1 and 3", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestStableResultLabels(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "settled"},
		{context.DeadlineExceeded, "deadline"},
		{context.Canceled, "canceled"},
		{scheduler.ErrDrainInLoop, "error"},
		{errors.Join(errors.New("wrapped"), context.Canceled), "canceled"},
	}
	for _, tt := range tests {
		if got := stableResult(tt.err); got != tt.want {
			t.Errorf("stableResult(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRootGaugeAndWrites(t *testing.T) {
	m := newTestMetrics()
	m.RootOpened()
	m.RootOpened()
	m.RootClosed()
	m.RecordSignalWrite("count")
	m.RecordSignalWrite("count")
	m.ObserveStable(2, time.Millisecond, context.Canceled)

	if got := metricGaugeValue(t, m.activeRoots); got != 1 {
		t.Errorf("active_roots = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.signalWrites.WithLabelValues("count")); got != 2 {
		t.Errorf("signal_writes_total = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.stableTotal.WithLabelValues("canceled")); got != 1 {
		t.Errorf("stable_total(canceled) = %v, want 1", got)
	}
}

func TestNamespaceAndRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("app"), WithSubsystem("graph"),
		WithConstLabels(prometheus.Labels{"env": "test"}), WithBuckets([]float64{0.1, 1}))
	m.RecordSignalWrite("x")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "app_graph_signal_writes_total" {
			found = true
			labels := f.GetMetric()[0].GetLabel()
			hasEnv := false
			for _, l := range labels {
				if l.GetName() == "env" && l.GetValue() == "test" {
					hasEnv = true
				}
			}
			if !hasEnv {
				t.Error("const label env=test missing")
			}
		}
	}
	if !found {
		t.Error("app_graph_signal_writes_total not registered")
	}
}
