package reactive

import (
	"sync"
	"testing"
	"time"
)

func TestSignalGetSet(t *testing.T) {
	s := NewSignal(10)
	if s.Get() != 10 {
		t.Errorf("Get() = %d, want 10", s.Get())
	}
	s.Set(20)
	if s.Peek() != 20 {
		t.Errorf("Peek() = %d, want 20", s.Peek())
	}
	s.Update(func(n int) int { return n + 1 })
	if s.Get() != 21 {
		t.Errorf("Get() after Update = %d, want 21", s.Get())
	}
}

func TestUpdateMayReadSignal(t *testing.T) {
	s := NewSignal(2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Update(func(n int) int { return n + s.Peek() + s.Get() })
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update deadlocked when fn read the signal")
	}
	if got := s.Peek(); got != 6 {
		t.Errorf("Peek() = %d, want 6", got)
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s := NewSignal(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(n int) int { return n + 1 })
		}()
	}
	wg.Wait()

	if got := s.Peek(); got != 50 {
		t.Errorf("Peek() = %d, want 50", got)
	}
}

func TestSignalSetSameValueNotifies(t *testing.T) {
	s := NewSignal(1)
	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = s.Get() })

	s.Set(1)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSignalUncomparableValue(t *testing.T) {
	s := NewSignal(map[string]int{"a": 1})
	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = s.Get() })

	s.Set(map[string]int{"a": 1})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestReadonlySharesProducer(t *testing.T) {
	s := NewSignal("x")
	ro := s.Readonly()

	if ro.Kind() != KindPlain {
		t.Errorf("Kind() = %v, want plain", ro.Kind())
	}
	if _, ok := ro.(WriteableSignal[string]); ok {
		t.Error("readonly view must not be writeable")
	}

	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = ro.Get() })

	s.Set("y")
	if calls != 1 || ro.Get() != "y" {
		t.Errorf("calls=%d value=%q, want 1 and y", calls, ro.Get())
	}
}

func TestKindTagging(t *testing.T) {
	val := 0
	tests := []struct {
		name string
		v    any
		want Kind
	}{
		{"plain", NewSignal(0), KindPlain},
		{"computed", NewCached(func() int { return 1 }), KindComputed},
		{"property", NewProxy(ProxyOptions[int]{Get: func() int { return val }, Set: func(v int) { val = v }}), KindProperty},
		{"deferred", ToSignal[int](newFakeObservable(0)), KindDeferred},
		{"func", func() int { return 0 }, 0},
		{"int", 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.v); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if got := IsSignal(tt.v); got != (tt.want != 0) {
				t.Errorf("IsSignal() = %v", got)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindComputed.String() != "computed" || Kind(0).String() != "unknown" {
		t.Errorf("unexpected Kind strings: %s %s", KindComputed, Kind(0))
	}
}

func TestCachedComputesOnce(t *testing.T) {
	dep := NewSignal(2)
	calls := 0
	c := NewCached(func() int {
		calls++
		return dep.Get() * 10
	})

	for i := 0; i < 3; i++ {
		if got := c.Get(); got != 20 {
			t.Fatalf("Get() = %d, want 20", got)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCachedIsLazy(t *testing.T) {
	dep := NewSignal(1)
	calls := 0
	c := NewCached(func() int {
		calls++
		return dep.Get()
	})
	if calls != 0 {
		t.Fatal("cached should not compute before the first read")
	}

	_ = c.Get()
	dep.Set(2)
	dep.Set(3)
	if calls != 1 {
		t.Errorf("recomputed at notify time: calls = %d", calls)
	}
	if got := c.Get(); got != 3 {
		t.Errorf("Get() = %d, want 3", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCachedNotifiesDownstream(t *testing.T) {
	dep := NewSignal(1)
	parity := NewCached(func() bool { return dep.Get()%2 == 0 })

	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = parity.Get() })

	// Same parity, but notifications are never filtered.
	dep.Set(3)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCachedChain(t *testing.T) {
	base := NewSignal(1)
	double := NewCached(func() int { return base.Get() * 2 })
	quad := NewCached(func() int { return double.Get() * 2 })

	if quad.Get() != 4 {
		t.Fatalf("quad = %d, want 4", quad.Get())
	}
	base.Set(3)
	if quad.Get() != 12 {
		t.Errorf("quad = %d, want 12", quad.Get())
	}
	if quad.Peek() != 12 {
		t.Errorf("Peek() = %d, want 12", quad.Peek())
	}
}

func TestCachedDispose(t *testing.T) {
	dep := NewSignal(1)
	calls := 0
	c := NewCached(func() int {
		calls++
		return dep.Get()
	})
	_ = c.Get()
	c.Dispose()

	if dep.Observed() {
		t.Error("disposed cached still subscribed")
	}
	_ = c.Get()
	_ = c.Get()
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (no memoization after Dispose)", calls)
	}
}

func TestProxyDelegates(t *testing.T) {
	var mu sync.Mutex
	backing := "initial"
	p := NewProxy(ProxyOptions[string]{
		Get: func() string {
			mu.Lock()
			defer mu.Unlock()
			return backing
		},
		Set: func(v string) {
			mu.Lock()
			backing = v
			mu.Unlock()
		},
	})

	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = p.Get() })

	p.Set("next")
	if backing != "next" || p.Get() != "next" {
		t.Errorf("backing=%q Get()=%q, want next", backing, p.Get())
	}
	if calls != 1 {
		t.Errorf("calls after Set = %d, want 1", calls)
	}

	mu.Lock()
	backing = "external"
	mu.Unlock()
	p.Notify()
	if calls != 2 {
		t.Errorf("calls after Notify = %d, want 2", calls)
	}
	if p.Readonly().Get() != "external" || p.Readonly().Kind() != KindProperty {
		t.Error("readonly view should read through the getter")
	}
}

func TestProxyRequiresAccessors(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewProxy without Set should panic")
		}
	}()
	NewProxy(ProxyOptions[int]{Get: func() int { return 0 }})
}

// fakeObservable is an Observable with observable listener bookkeeping.
type fakeObservable struct {
	mu        sync.Mutex
	value     int
	listeners map[int]func()
	next      int
	listens   int
}

func newFakeObservable(v int) *fakeObservable {
	return &fakeObservable{value: v, listeners: make(map[int]func())}
}

func (f *fakeObservable) Get() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeObservable) Set(v int) {
	f.mu.Lock()
	f.value = v
	fns := make([]func(), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeObservable) Listen(onChange func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listens++
	f.listeners[id] = onChange
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeObservable) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func TestToSignalListensWhileObserved(t *testing.T) {
	src := newFakeObservable(1)
	s := ToSignal[int](src)

	if got := s.Get(); got != 1 {
		t.Fatalf("Get() = %d, want 1", got)
	}
	if src.active() != 0 || s.Listening() {
		t.Fatal("untracked read should not install a listener")
	}

	c1, c2 := NewConsumer(), NewConsumer()
	calls := 0
	c1.Listen(func() { calls++ })
	c1.Record(func() { _ = s.Get() })
	c2.Record(func() { _ = s.Get() })

	if src.active() != 1 {
		t.Fatalf("active listeners = %d, want 1", src.active())
	}

	s.Set(5)
	if calls != 1 || s.Get() != 5 {
		t.Errorf("calls=%d value=%d, want 1 and 5", calls, s.Get())
	}

	c1.Dispose()
	if src.active() != 1 {
		t.Error("listener removed while a consumer remains")
	}
	c2.Dispose()
	if src.active() != 0 {
		t.Error("listener should be removed with the last consumer")
	}
	if src.listens != 1 {
		t.Errorf("listens = %d, want 1", src.listens)
	}
}

func TestFromSignalObservable(t *testing.T) {
	s := NewSignal(1)
	obs := FromSignal[int](s)

	changes := 0
	unlisten := obs.Listen(func() { changes++ })

	obs.Set(2)
	if changes != 1 || obs.Get() != 2 {
		t.Errorf("changes=%d value=%d, want 1 and 2", changes, obs.Get())
	}

	s.Set(3)
	if changes != 2 {
		t.Errorf("changes = %d, want 2", changes)
	}

	unlisten()
	s.Set(4)
	if changes != 2 {
		t.Error("listener called after unlisten")
	}
	if s.Observed() {
		t.Error("signal still observed after unlisten")
	}
}

func TestRoundTripAdapters(t *testing.T) {
	s := NewSignal(10)
	back := ToSignal(FromSignal[int](s))

	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = back.Get() })

	s.Set(11)
	if calls != 1 || back.Get() != 11 {
		t.Errorf("calls=%d value=%d, want 1 and 11", calls, back.Get())
	}
	c.Dispose()
	if s.Observed() {
		t.Error("round trip should release the inner subscription")
	}
}
