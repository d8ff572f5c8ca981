package scheduler

import "context"

// Sync runs every action immediately, inside Schedule.
// A panicking action propagates to the caller of Schedule.
//
// Actions scheduled from different goroutines do not overlap: a second
// goroutine blocks in Schedule until the running action returns. Actions
// scheduled by a running action run inline on its goroutine.
type Sync struct {
	serial serial
}

// NewSync returns a synchronous scheduler.
func NewSync() *Sync {
	return &Sync{}
}

// Schedule runs action and returns a no-op cancel.
func (s *Sync) Schedule(action Action) CancelFunc {
	s.serial.run(action)
	return func() {}
}

// Pending always returns 0.
func (*Sync) Pending() int { return 0 }

// Drain returns ctx.Err(); there is never anything to wait for.
func (*Sync) Drain(ctx context.Context) error { return ctx.Err() }
