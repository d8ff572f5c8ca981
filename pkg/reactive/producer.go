package reactive

import "sync"

// producerNode is the type-erased half of a Producer: the subscriber list
// and the observe hook. Consumers hold producerNodes so one consumer can
// depend on producers of any value type.
type producerNode struct {
	id uint64

	// subs are the consumers subscribed to this producer, in subscription order.
	subs  []*Consumer
	subMu sync.Mutex

	// observe starts listening to an external change source; it returns the
	// function that stops listening. stop is non-nil while observed.
	observe func() func()
	stop    func()
	hookMu  sync.Mutex
}

// subscribe adds c to the subscribers. Deduplicates by identity.
func (n *producerNode) subscribe(c *Consumer) {
	n.subMu.Lock()
	for _, existing := range n.subs {
		if existing == c {
			n.subMu.Unlock()
			return
		}
	}
	n.subs = append(n.subs, c)
	first := len(n.subs) == 1
	n.subMu.Unlock()

	if first && n.observe != nil {
		n.activate()
	}
}

// unsubscribe removes c from the subscribers, keeping the order of the rest.
func (n *producerNode) unsubscribe(c *Consumer) {
	n.subMu.Lock()
	removed := false
	for i, existing := range n.subs {
		if existing == c {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			removed = true
			break
		}
	}
	last := removed && len(n.subs) == 0
	n.subMu.Unlock()

	if last && n.observe != nil {
		n.deactivate()
	}
}

func (n *producerNode) subscriberCount() int {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	return len(n.subs)
}

// activate runs the observe hook if the producer has subscribers and is
// not already observed. The hook mutex serializes activate and deactivate
// so the external listener is started and stopped exactly once per cycle.
func (n *producerNode) activate() {
	n.hookMu.Lock()
	defer n.hookMu.Unlock()

	if n.stop != nil || n.subscriberCount() == 0 {
		return
	}
	stop := n.observe()
	if stop == nil {
		stop = func() {}
	}
	n.stop = stop
}

func (n *producerNode) deactivate() {
	n.hookMu.Lock()
	defer n.hookMu.Unlock()

	if n.stop == nil || n.subscriberCount() > 0 {
		return
	}
	stop := n.stop
	n.stop = nil
	stop()
}

// notify calls every subscriber's notification callback.
// Uses copy-before-notify so callbacks may subscribe or unsubscribe freely.
func (n *producerNode) notify() {
	n.subMu.Lock()
	subs := make([]*Consumer, len(n.subs))
	copy(subs, n.subs)
	n.subMu.Unlock()

	for _, c := range subs {
		c.notify()
	}
}

// Producer is a readable, notifiable value source.
// Poll returns the current value and, inside a tracked evaluation, subscribes
// the recording Consumer. NotifyConsumers tells every subscriber the value
// has changed.
type Producer[T any] struct {
	node *producerNode
	pull func() T
}

// ProducerOption configures a Producer.
type ProducerOption func(*producerNode)

// WithObserve registers a hook that runs when the producer gains its first
// consumer. The function it returns runs when the last consumer leaves.
// Use it to listen to an external change source only while someone cares.
func WithObserve(observe func() (stop func())) ProducerOption {
	return func(n *producerNode) {
		n.observe = observe
	}
}

// NewProducer creates a producer around pull.
func NewProducer[T any](pull func() T, opts ...ProducerOption) *Producer[T] {
	n := &producerNode{id: nextID()}
	for _, opt := range opts {
		opt(n)
	}
	return &Producer[T]{node: n, pull: pull}
}

// Poll returns pull() and records a dependency for the active consumer.
func (p *Producer[T]) Poll() T {
	track(p.node)
	return p.pull()
}

// NotifyConsumers notifies every subscribed consumer synchronously.
func (p *Producer[T]) NotifyConsumers() {
	p.node.notify()
}

// Observed reports whether at least one consumer is subscribed.
func (p *Producer[T]) Observed() bool {
	return p.node.subscriberCount() > 0
}

// ID returns the unique identifier for this producer.
func (p *Producer[T]) ID() uint64 {
	return p.node.id
}
