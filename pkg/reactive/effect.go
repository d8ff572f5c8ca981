package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/reactive/pkg/scheduler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Effect is a side effect registered on a Root. It re-runs through the
// root's scheduler whenever a signal it read during its last run notifies.
type Effect struct {
	id       uint64
	root     *Root
	fn       func()
	consumer *Consumer

	// pending is set while a run is scheduled and not yet started.
	pending atomic.Bool

	// stale is set when a run was skipped because the root was disconnected.
	stale atomic.Bool

	disposed atomic.Bool

	mu     sync.Mutex
	cancel scheduler.CancelFunc
	gen    uint64
	runs   uint64
}

// ID returns the unique identifier for this effect.
func (e *Effect) ID() uint64 { return e.id }

// Runs returns how many times the effect body has run.
func (e *Effect) Runs() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Pending reports whether a run is scheduled.
func (e *Effect) Pending() bool { return e.pending.Load() }

// Dispose cancels a pending run and drops every dependency.
func (e *Effect) Dispose() {
	if !e.disposed.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	e.consumer.Dispose()
	e.root.remove(e)
}

// schedule queues a run unless one is already pending.
func (e *Effect) schedule() {
	if e.disposed.Load() {
		return
	}
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	cancel := e.root.sched.Schedule(e.run)

	// A run may already have scheduled its successor; keep the newest cancel.
	e.mu.Lock()
	if e.gen == gen {
		e.cancel = cancel
	}
	e.mu.Unlock()

	if e.disposed.Load() {
		cancel()
	}
}

// run executes the body with dependency tracking. The pending flag is
// cleared first so writes made by the body schedule a fresh run.
func (e *Effect) run() {
	e.pending.Store(false)
	if e.disposed.Load() {
		return
	}
	if !e.root.conn.Connected() {
		e.stale.Store(true)
		return
	}
	e.stale.Store(false)

	_, span := e.root.tracer.Start(context.Background(), "reactive.effect",
		trace.WithAttributes(
			attribute.String("reactive.root", e.root.name),
			attribute.Int64("reactive.effect", int64(e.id)),
		))
	start := time.Now()
	panicked := true
	defer func() {
		e.root.observer.ObserveEffectRun(time.Since(start), panicked)
		if panicked {
			span.SetStatus(codes.Error, "effect panicked")
		}
		span.End()
	}()

	e.mu.Lock()
	e.runs++
	e.mu.Unlock()

	e.consumer.Record(e.fn)
	panicked = false
}
