package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is reported when an action is scheduled on a closed scheduler.
var ErrClosed = errors.New("scheduler: closed")

// ErrDrainInLoop is returned when a deferred scheduler is drained from its
// own loop goroutine, which would wait on itself forever.
var ErrDrainInLoop = errors.New("scheduler: drain called from the scheduler's loop goroutine")

// PanicError wraps a value recovered from a panicking action.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduler: action panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// FlushError collects every failure of a single Manual.Flush.
type FlushError struct {
	Errs []error
}

// Error implements the error interface.
func (e *FlushError) Error() string {
	if len(e.Errs) == 1 {
		return "scheduler: 1 action failed during flush: " + e.Errs[0].Error()
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("scheduler: %d actions failed during flush: %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *FlushError) Unwrap() []error {
	return e.Errs
}
