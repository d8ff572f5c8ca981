// Package loop runs tasks one at a time on an event loop goroutine.
//
// A Loop wraps a github.com/joeycumines/go-eventloop Loop. Tasks submitted
// from any goroutine run serially, in submission order, on the event loop's
// goroutine. This gives deferred schedulers the single logical thread the
// reactive graph expects: effects never run in parallel with each other.
//
// A panicking task does not stop the loop. The panic is recovered and handed
// to the configured handler (by default an slog error record), and the next
// task runs.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-eventloop"
	"github.com/vango-dev/reactive/internal/goid"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("loop: closed")

// PanicHandler receives a recovered panic value and the stack of the
// goroutine that panicked.
type PanicHandler func(value any, stack []byte)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used by the default panic handler.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPanicHandler replaces the default panic handler.
func WithPanicHandler(fn PanicHandler) Option {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// Loop runs submitted tasks serially on a dedicated goroutine.
type Loop struct {
	el *eventloop.Loop

	mu     sync.RWMutex
	closed bool

	queued atomic.Int64
	worker atomic.Uint64
	done   chan struct{}

	shutdownOnce sync.Once

	logger  *slog.Logger
	onPanic PanicHandler
}

// New creates a loop and starts its event loop goroutine. It fails only
// when the event loop cannot be created.
func New(opts ...Option) (*Loop, error) {
	el, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		el:     el,
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.onPanic == nil {
		l.onPanic = l.logPanic
	}

	go func() {
		defer close(l.done)
		if err := el.Run(context.Background()); err != nil {
			l.logger.Error("event loop stopped", "error", err)
		}
	}()

	started := make(chan struct{})
	if err := el.Submit(func() {
		l.worker.Store(goid.ID())
		close(started)
	}); err != nil {
		_ = el.Shutdown(context.Background())
		return nil, err
	}
	<-started
	return l, nil
}

// Submit queues task to run on the loop goroutine.
// It never blocks on task execution.
func (l *Loop) Submit(task func()) error {
	if task == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	l.queued.Add(1)
	if err := l.el.Submit(func() { l.exec(task) }); err != nil {
		l.queued.Add(-1)
		return ErrClosed
	}
	return nil
}

// InLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) InLoop() bool {
	return l.worker.Load() == goid.ID()
}

// Len returns the number of tasks waiting to run.
func (l *Loop) Len() int {
	return int(l.queued.Load())
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Close stops accepting tasks, lets the already-submitted ones finish, and
// waits for the loop goroutine to exit. Called from the loop goroutine itself
// it does not wait. Close is idempotent.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	if l.InLoop() {
		go l.shutdown()
		return nil
	}
	l.shutdown()
	<-l.done
	return nil
}

func (l *Loop) shutdown() {
	l.shutdownOnce.Do(func() {
		if err := l.el.Shutdown(context.Background()); err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
			l.logger.Warn("event loop shutdown", "error", err)
		}
	})
}

func (l *Loop) exec(task func()) {
	l.queued.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			l.onPanic(r, debug.Stack())
		}
	}()
	task()
}

func (l *Loop) logPanic(value any, stack []byte) {
	l.logger.Error("task panicked", "panic", value, "stack", string(stack))
}
