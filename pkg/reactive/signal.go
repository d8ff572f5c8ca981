package reactive

import "sync"

// Kind discriminates the signal variants so binding code can special-case
// them without reflection.
type Kind uint8

const (
	// KindPlain is a signal with its own storage, created by NewSignal.
	KindPlain Kind = iota + 1
	// KindDeferred is backed by an external observable (ToSignal).
	KindDeferred
	// KindProperty is bound to externally owned state (NewProxy).
	KindProperty
	// KindComputed is a memoized derivation (NewCached).
	KindComputed
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindDeferred:
		return "deferred"
	case KindProperty:
		return "property"
	case KindComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Tagged is implemented by every signal value.
type Tagged interface {
	Kind() Kind
}

// Signal is the read view of a reactive value. Get inside a tracked
// evaluation subscribes the active consumer.
type Signal[T any] interface {
	Tagged
	Get() T
}

// WriteableSignal is a Signal that can be replaced.
type WriteableSignal[T any] interface {
	Signal[T]
	Set(value T)
	Readonly() Signal[T]
}

// IsSignal reports whether v carries a signal kind tag.
func IsSignal(v any) bool {
	_, ok := v.(Tagged)
	return ok
}

// KindOf returns the kind of v, or 0 when v is not a signal.
func KindOf(v any) Kind {
	if t, ok := v.(Tagged); ok {
		return t.Kind()
	}
	return 0
}

// State is a plain reactive value container.
//
// Set never compares the old and new value: every write notifies every
// subscriber, so values do not need to be comparable.
type State[T any] struct {
	producer *Producer[T]

	// value is the current value.
	value T

	// mu protects the value.
	mu sync.RWMutex

	// update serializes Update calls without holding mu while fn runs.
	update sync.Mutex
}

// NewSignal creates a new signal with the given initial value.
func NewSignal[T any](initial T) *State[T] {
	s := &State[T]{value: initial}
	s.producer = NewProducer(s.Peek)
	return s
}

// Get returns the current value and subscribes the current consumer.
func (s *State[T]) Get() T {
	return s.producer.Poll()
}

// Peek returns the current value without subscribing.
func (s *State[T]) Peek() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *State[T]) Set(value T) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()

	s.producer.NotifyConsumers()
}

// Update reads and replaces the value, then notifies. The function
// receives the current value and returns the new value. Concurrent Updates
// apply one after the other. fn may read the signal but must not call
// Update on it.
func (s *State[T]) Update(fn func(T) T) {
	s.apply(fn)
	s.producer.NotifyConsumers()
}

func (s *State[T]) apply(fn func(T) T) {
	s.update.Lock()
	defer s.update.Unlock()

	next := fn(s.Peek())
	s.mu.Lock()
	s.value = next
	s.mu.Unlock()
}

// Readonly returns a view that shares this signal's producer.
func (s *State[T]) Readonly() Signal[T] {
	return readonly[T]{producer: s.producer, kind: KindPlain}
}

// Kind returns KindPlain.
func (s *State[T]) Kind() Kind { return KindPlain }

// ID returns the unique identifier for this signal.
func (s *State[T]) ID() uint64 {
	return s.producer.ID()
}

// Observed reports whether any consumer depends on this signal.
func (s *State[T]) Observed() bool {
	return s.producer.Observed()
}

// readonly is a Signal view over another signal's producer.
type readonly[T any] struct {
	producer *Producer[T]
	kind     Kind
}

func (r readonly[T]) Get() T     { return r.producer.Poll() }
func (r readonly[T]) Kind() Kind { return r.kind }
