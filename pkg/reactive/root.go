package reactive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/reactive/pkg/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrDisposed is returned by operations on a disposed Root.
var ErrDisposed = errors.New("reactive: root disposed")

const defaultTracerName = "reactive"

// Connectable reports whether the host of a Root is live. Effects of a
// disconnected root do not run.
type Connectable interface {
	Connected() bool
}

// ConnectableFunc adapts a function to Connectable.
type ConnectableFunc func() bool

// Connected calls f.
func (f ConnectableFunc) Connected() bool { return f() }

// AlwaysConnected is a Connectable that is always live.
var AlwaysConnected Connectable = ConnectableFunc(func() bool { return true })

// Observer receives timing for effect runs and stability waits.
type Observer interface {
	ObserveEffectRun(d time.Duration, panicked bool)
	ObserveStable(passes int, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveEffectRun(time.Duration, bool)   {}
func (nopObserver) ObserveStable(int, time.Duration, error) {}

// RootOption configures a Root.
type RootOption func(*Root)

// WithLogger sets the root's logger.
func WithLogger(logger *slog.Logger) RootOption {
	return func(r *Root) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for effect and stable spans.
func WithTracer(tracer trace.Tracer) RootOption {
	return func(r *Root) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithObserver reports effect runs and stability waits to o.
func WithObserver(o Observer) RootOption {
	return func(r *Root) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithName labels the root in logs and spans.
func WithName(name string) RootOption {
	return func(r *Root) {
		r.name = name
	}
}

// Root binds one scheduler and one liveness source. It registers effects
// and waits for the graph to settle.
//
// A Root is the only way to create effects. The host that constructs it
// owns its lifetime and must call Dispose when the host goes away.
type Root struct {
	id       uint64
	name     string
	sched    scheduler.Scheduler
	conn     Connectable
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer

	mu       sync.Mutex
	effects  map[uint64]*Effect
	disposed bool
}

// NewRoot creates a root. A nil conn means always connected.
func NewRoot(sched scheduler.Scheduler, conn Connectable, opts ...RootOption) *Root {
	if conn == nil {
		conn = AlwaysConnected
	}
	r := &Root{
		id:       nextID(),
		name:     "root",
		sched:    sched,
		conn:     conn,
		tracer:   otel.Tracer(defaultTracerName),
		observer: nopObserver{},
		effects:  make(map[uint64]*Effect),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "reactive", "root", r.name)
	}
	return r
}

// ID returns the unique identifier for this root.
func (r *Root) ID() uint64 { return r.id }

// Name returns the root's label.
func (r *Root) Name() string { return r.name }

// Scheduler returns the scheduler effects run on.
func (r *Root) Scheduler() scheduler.Scheduler { return r.sched }

// Effect registers fn as an effect. The first run is scheduled, never run
// inline. Each later notification from a dependency schedules another run;
// notifications arriving while a run is pending coalesce into it.
//
// Effects registered on a disposed root never run.
func (r *Root) Effect(fn func()) *Effect {
	e, _ := r.TryEffect(fn)
	return e
}

// TryEffect is Effect, but reports ErrDisposed when the root is disposed.
// The returned effect is inert in that case.
func (r *Root) TryEffect(fn func()) (*Effect, error) {
	e := &Effect{
		id:       nextID(),
		root:     r,
		fn:       fn,
		consumer: NewConsumer(),
	}
	e.consumer.Listen(e.schedule)

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		e.disposed.Store(true)
		e.consumer.Dispose()
		return e, ErrDisposed
	}
	r.effects[e.id] = e
	r.mu.Unlock()

	e.schedule()
	return e, nil
}

// Effects returns the number of live effects.
func (r *Root) Effects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.effects)
}

// Stable blocks until the scheduler has no pending work and a drain pass
// produced none. It never fails on its own: action failures follow the
// scheduler's error path, and only ctx ending is returned.
//
// An effect that keeps rescheduling itself keeps Stable waiting until ctx
// ends. Stable must not be called from the scheduler's loop goroutine.
func (r *Root) Stable(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "reactive.stable",
		trace.WithAttributes(attribute.String("reactive.root", r.name)))
	defer span.End()

	start := time.Now()
	passes, err := scheduler.Settle(ctx, r.sched)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("reactive.passes", passes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("stable wait ended early", "passes", passes, "error", err)
	}
	r.observer.ObserveStable(passes, elapsed, err)
	return err
}

// Ref returns a façade over this root's scheduler that can only wait for
// stability.
func (r *Root) Ref() *ComponentRef {
	return NewComponentRef(r.sched)
}

// Reconnected schedules every effect that skipped a run while the root was
// disconnected. Call it when the Connectable becomes live again.
func (r *Root) Reconnected() {
	r.mu.Lock()
	stale := make([]*Effect, 0, len(r.effects))
	for _, e := range r.effects {
		if e.stale.Load() {
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.schedule()
	}
}

// Dispose cancels pending runs and unlinks every effect. It is idempotent.
func (r *Root) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	effects := make([]*Effect, 0, len(r.effects))
	for _, e := range r.effects {
		effects = append(effects, e)
	}
	r.mu.Unlock()

	for _, e := range effects {
		e.Dispose()
	}
	r.logger.Debug("root disposed", "effects", len(effects))
}

// Disposed reports whether Dispose has been called.
func (r *Root) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

func (r *Root) remove(e *Effect) {
	r.mu.Lock()
	delete(r.effects, e.id)
	r.mu.Unlock()
}
