package telemetry

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/vango-dev/reactive/pkg/scheduler"
)

// Scheduler decorates a scheduler.Scheduler with metrics.
type Scheduler struct {
	next     scheduler.Scheduler
	strategy string
	m        *Metrics
}

var _ scheduler.Unwrapper = (*Scheduler)(nil)

// Instrument wraps s so every scheduled action is counted and timed under
// the given strategy label.
func (m *Metrics) Instrument(s scheduler.Scheduler, strategy string) *Scheduler {
	return &Scheduler{next: s, strategy: strategy, m: m}
}

// Schedule implements scheduler.Scheduler.
func (s *Scheduler) Schedule(action scheduler.Action) scheduler.CancelFunc {
	var started atomic.Bool
	s.m.actionsScheduled.WithLabelValues(s.strategy).Inc()

	cancel := s.next.Schedule(func() {
		started.Store(true)
		start := time.Now()
		status := "panic"
		defer func() {
			s.m.actionDuration.WithLabelValues(s.strategy).Observe(time.Since(start).Seconds())
			s.m.actionsRun.WithLabelValues(s.strategy, status).Inc()
		}()
		action()
		status = "ok"
	})

	var cancelled atomic.Bool
	return func() {
		cancel()
		if !started.Load() && cancelled.CompareAndSwap(false, true) {
			s.m.actionsCancelled.WithLabelValues(s.strategy).Inc()
		}
	}
}

// Pending implements scheduler.Scheduler.
func (s *Scheduler) Pending() int {
	return s.next.Pending()
}

// Drain implements scheduler.Scheduler.
func (s *Scheduler) Drain(ctx context.Context) error {
	return s.next.Drain(ctx)
}

// Unwrap returns the decorated scheduler.
func (s *Scheduler) Unwrap() scheduler.Scheduler {
	return s.next
}

// Close closes the decorated scheduler if it can be closed.
func (s *Scheduler) Close() error {
	if c, ok := s.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
