package scheduler

import (
	"container/list"
	"runtime/debug"
	"sync"
)

type entryState uint8

const (
	statePending entryState = iota
	stateRunning
	stateDone
	stateCancelled
)

// entry is one scheduled action.
type entry struct {
	action Action
	state  entryState
	elem   *list.Element
}

// queue is the FIFO of pending actions shared by the Manual and deferred
// strategies. It also tracks actions in flight so waiters can tell when the
// scheduler is idle.
type queue struct {
	mu      sync.Mutex
	items   list.List
	running int

	// idle is closed while nothing is queued or running.
	idle       chan struct{}
	idleClosed bool
}

func newQueue() *queue {
	q := &queue{idle: make(chan struct{})}
	q.items.Init()
	close(q.idle)
	q.idleClosed = true
	return q
}

func (q *queue) push(action Action) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.idleClosed {
		q.idle = make(chan struct{})
		q.idleClosed = false
	}
	e := &entry{action: action}
	e.elem = q.items.PushBack(e)
	return e
}

// cancel removes e if it has not started. It reports whether it did.
func (q *queue) cancel(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.state != statePending {
		return false
	}
	q.items.Remove(e.elem)
	e.state = stateCancelled
	q.settleLocked()
	return true
}

// take claims a specific pending entry for execution.
func (q *queue) take(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.state != statePending {
		return false
	}
	q.items.Remove(e.elem)
	e.state = stateRunning
	q.running++
	return true
}

// takeHead claims the oldest pending entry, or returns nil.
func (q *queue) takeHead() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil
	}
	e := q.items.Remove(front).(*entry)
	e.state = stateRunning
	q.running++
	return e
}

func (q *queue) finish(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.state = stateDone
	q.running--
	q.settleLocked()
}

// cancelAll drops every pending entry.
func (q *queue) cancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for el := q.items.Front(); el != nil; el = el.Next() {
		el.Value.(*entry).state = stateCancelled
	}
	q.items.Init()
	q.settleLocked()
}

func (q *queue) snapshot() []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*entry, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry))
	}
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *queue) idleChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *queue) settleLocked() {
	if q.items.Len() == 0 && q.running == 0 && !q.idleClosed {
		close(q.idle)
		q.idleClosed = true
	}
}

// execute runs e's action, converting a panic into a *PanicError.
// The caller must call finish afterwards.
func (q *queue) execute(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	e.action()
	return nil
}

// cancelOnce wraps fn so only the first call has an effect.
func cancelOnce(fn func()) CancelFunc {
	var once sync.Once
	return func() { once.Do(fn) }
}
