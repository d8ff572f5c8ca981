package scheduler

import "context"

// Manual queues actions until Flush is called. It is meant for tests and
// for callers that want full control over when reactive work happens.
type Manual struct {
	q       *queue
	onError ErrorHandler
	serial  serial
}

// NewManual creates a manual scheduler. WithErrorHandler (or WithLogger)
// controls where flush failures go when the flush is triggered by Drain.
func NewManual(opts ...Option) *Manual {
	o := defaultOptions("scheduler.manual")
	for _, opt := range opts {
		opt(&o)
	}
	return &Manual{
		q:       newQueue(),
		onError: o.errorHandler(),
	}
}

// Schedule queues action for the next Flush.
func (m *Manual) Schedule(action Action) CancelFunc {
	e := m.q.push(action)
	return cancelOnce(func() { m.q.cancel(e) })
}

// Pending returns the number of queued actions.
func (m *Manual) Pending() int {
	return m.q.len()
}

// Flush runs the actions queued when it was called, oldest first. Each
// action leaves the queue before it runs, so anything it schedules waits
// for the next Flush. A panicking action does not stop the others; all
// failures are returned together as a *FlushError.
//
// Concurrent flushes run one after the other.
func (m *Manual) Flush() error {
	m.serial.lock()
	defer m.serial.unlock()

	var errs []error
	for _, e := range m.q.snapshot() {
		if !m.q.take(e) {
			// cancelled by an earlier action of this flush
			continue
		}
		err := m.q.execute(e)
		m.q.finish(e)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &FlushError{Errs: errs}
	}
	return nil
}

// Drain flushes once. Flush failures go to the error handler, so draining
// never fails because of an action.
func (m *Manual) Drain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Flush(); err != nil {
		m.onError(err)
	}
	return nil
}
