// Package scheduler provides pluggable deferred-execution strategies for the
// reactive core.
//
// Every strategy implements the same Scheduler contract:
//
//	cancel := s.Schedule(func() { /* work */ })
//	cancel() // idempotent; a no-op once the action has run
//
// # Strategies
//
//   - Sync runs the action inside Schedule. Nothing is ever pending.
//   - Macrotask gives every action its own zero-delay timer tick.
//   - Frame gives every action its own request for the next frame boundary.
//   - Manual never runs anything until Flush is called. Use it in tests.
//
// Macrotask and Frame execute their actions on a single loop goroutine, so
// actions of one scheduler never run concurrently with each other, and they
// run in the order they were scheduled. Sync and Manual run actions on the
// calling goroutine but hold a per-scheduler lock while they do, so they
// give the same guarantee when several goroutines write or flush.
//
// # Stability
//
// Settle drives a scheduler to quiescence: it drains, checks whether the
// drain left new work behind, and repeats until a drain ends with nothing
// pending. A self-rescheduling action keeps Settle from returning; pass a
// context with a deadline if that matters to the caller.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/reactive/internal/loop"
)

// Action is a unit of deferred work.
type Action func()

// CancelFunc removes a not-yet-run action. Calling it more than once, or
// after the action ran, does nothing.
type CancelFunc func()

// Scheduler defers the execution of actions.
type Scheduler interface {
	// Schedule queues action according to the strategy and returns a
	// function that cancels it.
	Schedule(action Action) CancelFunc

	// Pending returns the number of queued actions that have not started.
	Pending() int

	// Drain performs one drain pass. It returns when the actions that were
	// pending have been executed (or cancelled), or when ctx is done.
	Drain(ctx context.Context) error
}

// Settle drains s until a drain pass leaves nothing pending. It returns the
// number of passes performed. The only errors are ctx errors and
// ErrDrainInLoop.
func Settle(ctx context.Context, s Scheduler) (int, error) {
	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return passes, err
		}
		if err := s.Drain(ctx); err != nil {
			return passes, err
		}
		passes++
		if s.Pending() == 0 {
			return passes, nil
		}
	}
}

// Unwrapper is implemented by schedulers that decorate another scheduler.
type Unwrapper interface {
	Unwrap() Scheduler
}

// Flush runs every action currently queued on s if s (or a scheduler it
// decorates) is a *Manual. It reports false when there is nothing to flush.
func Flush(s Scheduler) (bool, error) {
	for s != nil {
		if m, ok := s.(*Manual); ok {
			return true, m.Flush()
		}
		u, ok := s.(Unwrapper)
		if !ok {
			return false, nil
		}
		s = u.Unwrap()
	}
	return false, nil
}

// ErrorHandler receives failures that have no caller to return to: panics on
// the loop goroutine and flush errors raised while draining.
type ErrorHandler func(err error)

// Option configures a scheduler. Options that do not apply to a strategy
// are ignored.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	loop     *loop.Loop
	interval time.Duration
	onError  ErrorHandler
}

// DefaultFrameInterval is the frame period used by Frame (60 Hz).
const DefaultFrameInterval = time.Second / 60

func defaultOptions(component string) options {
	return options{
		logger:   slog.Default().With("component", component),
		interval: DefaultFrameInterval,
	}
}

// WithLogger sets the logger used to report failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoop runs Macrotask or Frame actions on l instead of a private loop.
// A shared loop is not closed by the scheduler.
func WithLoop(l *loop.Loop) Option {
	return func(o *options) {
		o.loop = l
	}
}

// WithInterval sets the frame period of a Frame scheduler.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithErrorHandler sets the handler for failures that cannot be returned.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) {
		o.onError = fn
	}
}

func (o *options) errorHandler() ErrorHandler {
	if o.onError != nil {
		return o.onError
	}
	logger := o.logger
	return func(err error) {
		logger.Error("scheduled action failed", "error", err)
	}
}
