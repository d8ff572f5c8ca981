package reactive

// ProxyOptions supplies the accessors of a proxy signal.
type ProxyOptions[T any] struct {
	Get func() T
	Set func(T)
}

// Proxy is a writeable signal with no storage of its own. Reads call the
// supplied getter and writes call the supplied setter, so externally owned
// state stays the single source of truth.
type Proxy[T any] struct {
	producer *Producer[T]
	set      func(T)
}

// NewProxy creates a proxy signal. Both accessors are required.
func NewProxy[T any](opts ProxyOptions[T]) *Proxy[T] {
	if opts.Get == nil || opts.Set == nil {
		panic("reactive: NewProxy requires both Get and Set")
	}
	return &Proxy[T]{
		producer: NewProducer(opts.Get),
		set:      opts.Set,
	}
}

// Get calls the getter and subscribes the current consumer.
func (p *Proxy[T]) Get() T {
	return p.producer.Poll()
}

// Set calls the setter and notifies subscribers.
func (p *Proxy[T]) Set(value T) {
	p.set(value)
	p.producer.NotifyConsumers()
}

// Notify announces a change made to the underlying state without Set.
func (p *Proxy[T]) Notify() {
	p.producer.NotifyConsumers()
}

// Readonly returns a view that shares this proxy's producer.
func (p *Proxy[T]) Readonly() Signal[T] {
	return readonly[T]{producer: p.producer, kind: KindProperty}
}

// Kind returns KindProperty.
func (p *Proxy[T]) Kind() Kind { return KindProperty }
