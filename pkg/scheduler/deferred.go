package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/reactive/internal/loop"
)

// deferFunc arranges for tick to be submitted to the loop later. The
// returned stop function makes a best effort to withdraw the request.
type deferFunc func(tick func()) (stop func() bool)

// Deferred is a scheduler whose actions run later on a loop goroutine.
// The deferral mechanism is injected: NewMacrotask uses one zero-delay
// timer per action, NewFrame one next-frame request per action.
//
// Each tick runs the oldest queued action rather than the action that
// requested it, so actions run in the order they were scheduled even when
// timers fire out of order.
type Deferred struct {
	strategy string
	q        *queue
	loop     *loop.Loop
	ownsLoop bool
	deferFn  deferFunc
	onError  ErrorHandler
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewMacrotask creates a scheduler that gives every action its own
// zero-delay timer tick.
func NewMacrotask(opts ...Option) (*Deferred, error) {
	d, _, err := newDeferred("macrotask", opts)
	if err != nil {
		return nil, err
	}
	d.deferFn = func(tick func()) func() bool {
		t := time.AfterFunc(0, func() { d.submit(tick) })
		return t.Stop
	}
	return d, nil
}

// NewFrame creates a scheduler that runs every action on its own request
// for the next frame boundary. Frames are aligned to multiples of the
// configured interval (WithInterval, default DefaultFrameInterval) since
// the scheduler was created.
func NewFrame(opts ...Option) (*Deferred, error) {
	d, o, err := newDeferred("frame", opts)
	if err != nil {
		return nil, err
	}
	clock := &frameClock{epoch: time.Now(), interval: o.interval}
	d.deferFn = func(tick func()) func() bool {
		t := time.AfterFunc(clock.untilNext(time.Now()), func() { d.submit(tick) })
		return t.Stop
	}
	return d, nil
}

func newDeferred(strategy string, opts []Option) (*Deferred, options, error) {
	o := defaultOptions("scheduler." + strategy)
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deferred{
		strategy: strategy,
		q:        newQueue(),
		onError:  o.errorHandler(),
		logger:   o.logger,
	}
	if o.loop != nil {
		d.loop = o.loop
	} else {
		l, err := loop.New(
			loop.WithLogger(o.logger),
			loop.WithPanicHandler(func(v any, stack []byte) {
				d.onError(&PanicError{Value: v, Stack: stack})
			}),
		)
		if err != nil {
			return nil, o, fmt.Errorf("scheduler: start %s loop: %w", strategy, err)
		}
		d.loop = l
		d.ownsLoop = true
	}
	return d, o, nil
}

// Strategy returns "macrotask" or "frame".
func (d *Deferred) Strategy() string {
	return d.strategy
}

// Loop returns the loop the actions run on.
func (d *Deferred) Loop() *loop.Loop {
	return d.loop
}

// Schedule queues action and requests one tick for it.
// After Close the action is dropped and the returned cancel does nothing.
func (d *Deferred) Schedule(action Action) CancelFunc {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.logger.Warn("action dropped", "error", ErrClosed, "strategy", d.strategy)
		return func() {}
	}

	e := d.q.push(action)
	stop := d.deferFn(d.tick)
	return cancelOnce(func() {
		if d.q.cancel(e) {
			stop()
		}
	})
}

// Pending returns the number of queued actions that have not started.
func (d *Deferred) Pending() int {
	return d.q.len()
}

// Drain waits until nothing is queued or running. It must not be called
// from the loop goroutine.
func (d *Deferred) Drain(ctx context.Context) error {
	if d.loop.InLoop() {
		return ErrDrainInLoop
	}
	select {
	case <-d.q.idleChan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops every pending action and, when the loop is private, stops it.
func (d *Deferred) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.q.cancelAll()
	if d.ownsLoop {
		return d.loop.Close()
	}
	return nil
}

func (d *Deferred) submit(tick func()) {
	if err := d.loop.Submit(tick); err != nil {
		// The loop is gone; nothing will ever run the queued actions.
		d.q.cancelAll()
	}
}

// tick runs on the loop goroutine.
func (d *Deferred) tick() {
	e := d.q.takeHead()
	if e == nil {
		return
	}
	defer d.q.finish(e)
	if err := d.q.execute(e); err != nil {
		d.onError(err)
	}
}

// frameClock computes delays to frame boundaries.
type frameClock struct {
	epoch    time.Time
	interval time.Duration
}

func (c *frameClock) untilNext(now time.Time) time.Duration {
	elapsed := now.Sub(c.epoch)
	if elapsed < 0 {
		return c.interval
	}
	next := (elapsed/c.interval + 1) * c.interval
	return next - elapsed
}
