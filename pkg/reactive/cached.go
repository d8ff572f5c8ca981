package reactive

import "sync"

// Cached is a memoized computation that tracks its own dependencies.
//
// Cached values are lazy: fn runs on the first Get and again only after a
// producer it read has notified. If several dependencies notify before the
// next read, fn runs once. Every upstream notification is forwarded to
// downstream consumers, whether or not the recomputed value differs.
type Cached[T any] struct {
	fn       func() T
	consumer *Consumer
	producer *Producer[T]

	mu    sync.Mutex
	value T
	dirty bool

	// epoch counts invalidations. A recomputation only clears dirty if no
	// invalidation arrived while fn was running.
	epoch uint64
}

// NewCached creates a cached computation. fn does not run until the first read.
func NewCached[T any](fn func() T) *Cached[T] {
	c := &Cached[T]{
		fn:       fn,
		consumer: NewConsumer(),
		dirty:    true,
	}
	c.producer = NewProducer(c.pull)
	c.consumer.Listen(c.invalidate)
	return c
}

// Get returns the cached value, recomputing if a dependency changed, and
// subscribes the current consumer.
func (c *Cached[T]) Get() T {
	return c.producer.Poll()
}

// Peek returns the cached value without subscribing.
// Still recomputes if the value is stale.
func (c *Cached[T]) Peek() T {
	return c.pull()
}

// Kind returns KindComputed.
func (c *Cached[T]) Kind() Kind { return KindComputed }

// ID returns the unique identifier for this cached value.
func (c *Cached[T]) ID() uint64 {
	return c.producer.ID()
}

// Dispose drops every dependency. Later reads recompute each time.
func (c *Cached[T]) Dispose() {
	c.consumer.Dispose()
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

func (c *Cached[T]) pull() T {
	c.mu.Lock()
	if !c.dirty {
		v := c.value
		c.mu.Unlock()
		return v
	}
	epoch := c.epoch
	c.mu.Unlock()

	var v T
	c.consumer.Record(func() { v = c.fn() })

	c.mu.Lock()
	c.value = v
	if c.epoch == epoch && !c.consumer.Disposed() {
		c.dirty = false
	}
	c.mu.Unlock()
	return v
}

func (c *Cached[T]) invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.epoch++
	c.mu.Unlock()

	c.producer.NotifyConsumers()
}
