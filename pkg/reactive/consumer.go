package reactive

import "sync"

// Consumer is one tracked, re-runnable evaluation: the engine behind an
// effect or a cached signal.
//
// Record runs a function while the Consumer is the active one on the
// current goroutine. Every producer polled during that run becomes a
// dependency, and dependencies from the previous run that were not read
// again are dropped. When any dependency notifies, the callback registered
// with Listen is invoked.
type Consumer struct {
	id uint64

	mu        sync.Mutex
	producers []*producerNode
	onNotify  func()
	disposed  bool
}

// NewConsumer creates a consumer with no dependencies.
func NewConsumer() *Consumer {
	return &Consumer{id: nextID()}
}

// ID returns the unique identifier for this consumer.
func (c *Consumer) ID() uint64 {
	return c.id
}

// Listen sets the function invoked when a dependency notifies.
func (c *Consumer) Listen(fn func()) {
	c.mu.Lock()
	c.onNotify = fn
	c.mu.Unlock()
}

// Record runs fn with c as the active consumer and then replaces c's
// dependency set with exactly the producers fn read.
//
// If fn panics, the tracking stack is restored, the dependencies read
// before the panic are kept, and the panic continues to the caller.
func (c *Consumer) Record(fn func()) {
	s := enter(c)
	defer func() {
		s.exit()
		c.commit(s.frame.deps)
	}()
	fn()
}

// Dependencies returns the number of producers c currently depends on.
func (c *Consumer) Dependencies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.producers)
}

// Dispose unsubscribes c from every producer. A disposed consumer is never
// notified again and records no dependencies.
func (c *Consumer) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	prev := c.producers
	c.producers = nil
	c.onNotify = nil
	c.mu.Unlock()

	for _, p := range prev {
		p.unsubscribe(c)
	}
}

// Disposed reports whether Dispose has been called.
func (c *Consumer) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

func (c *Consumer) notify() {
	c.mu.Lock()
	fn := c.onNotify
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// commit installs next as the dependency set. Producers read this run are
// already subscribed (Poll subscribes immediately), so only stale edges
// need removing.
func (c *Consumer) commit(next []*producerNode) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		for _, p := range next {
			p.unsubscribe(c)
		}
		return
	}
	prev := c.producers
	c.producers = next
	c.mu.Unlock()

	for _, p := range prev {
		if !containsNode(next, p) {
			p.unsubscribe(c)
		}
	}
}

func containsNode(nodes []*producerNode, n *producerNode) bool {
	for _, x := range nodes {
		if x == n {
			return true
		}
	}
	return false
}
