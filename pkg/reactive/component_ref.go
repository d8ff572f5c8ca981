package reactive

import (
	"context"

	"github.com/vango-dev/reactive/pkg/scheduler"
)

// ComponentRef gives lifecycle code a way to wait for settlement without
// the ability to register effects.
type ComponentRef struct {
	sched scheduler.Scheduler
}

// NewComponentRef wraps sched.
func NewComponentRef(sched scheduler.Scheduler) *ComponentRef {
	return &ComponentRef{sched: sched}
}

// Stable blocks until sched has settled or ctx ends.
func (c *ComponentRef) Stable(ctx context.Context) error {
	_, err := scheduler.Settle(ctx, c.sched)
	return err
}
