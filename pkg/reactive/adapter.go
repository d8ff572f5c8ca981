package reactive

// Observable is an external value with its own change notifications.
// Listen registers onChange and returns the function that removes it.
type Observable[T any] interface {
	Get() T
	Set(value T)
	Listen(onChange func()) (unlisten func())
}

// External is a signal backed by an Observable. It listens to the source
// only while at least one consumer depends on it.
type External[T any] struct {
	src      Observable[T]
	producer *Producer[T]
}

// ToSignal adapts src into a writeable signal.
func ToSignal[T any](src Observable[T]) *External[T] {
	e := &External[T]{src: src}
	e.producer = NewProducer(src.Get, WithObserve(func() func() {
		return src.Listen(e.producer.NotifyConsumers)
	}))
	return e
}

// Get reads the source and subscribes the current consumer.
func (e *External[T]) Get() T {
	return e.producer.Poll()
}

// Set writes through to the source. Subscribers hear about it through the
// source's own notification.
func (e *External[T]) Set(value T) {
	e.src.Set(value)
}

// Readonly returns a view that shares this signal's producer.
func (e *External[T]) Readonly() Signal[T] {
	return readonly[T]{producer: e.producer, kind: KindDeferred}
}

// Kind returns KindDeferred.
func (e *External[T]) Kind() Kind { return KindDeferred }

// Listening reports whether the source listener is currently installed.
func (e *External[T]) Listening() bool {
	return e.producer.Observed()
}

// FromSignal exposes s as an Observable.
func FromSignal[T any](s WriteableSignal[T]) Observable[T] {
	return signalObservable[T]{s: s}
}

type signalObservable[T any] struct {
	s WriteableSignal[T]
}

func (o signalObservable[T]) Get() T {
	return UntrackedGet[T](o.s)
}

func (o signalObservable[T]) Set(value T) {
	o.s.Set(value)
}

// Listen subscribes a private consumer to the signal. The consumer never
// re-records, so its single dependency lasts until unlisten.
func (o signalObservable[T]) Listen(onChange func()) func() {
	c := NewConsumer()
	c.Listen(onChange)
	c.Record(func() { o.s.Get() })
	return c.Dispose
}
