package reactive

import (
	"sync"
	"testing"
)

func TestRecordTracksPolledProducers(t *testing.T) {
	a := NewSignal(1)
	b := NewSignal(2)
	c := NewConsumer()

	c.Record(func() {
		_ = a.Get()
		_ = b.Get()
		_ = a.Get()
	})

	if got := c.Dependencies(); got != 2 {
		t.Fatalf("Dependencies() = %d, want 2", got)
	}
	if !a.Observed() || !b.Observed() {
		t.Error("both signals should have a subscriber")
	}
}

func TestNotifyCallsListener(t *testing.T) {
	s := NewSignal(0)
	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = s.Get() })

	s.Set(1)
	s.Set(2)

	if calls != 2 {
		t.Errorf("listener calls = %d, want 2", calls)
	}
}

func TestUntrackedReadDoesNotSubscribe(t *testing.T) {
	s := NewSignal(1)
	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })

	c.Record(func() {
		Untracked(func() {
			_ = s.Get()
		})
		_ = UntrackedGet[int](s)
		_ = s.Peek()
	})

	s.Set(2)
	if calls != 0 {
		t.Errorf("listener calls = %d, want 0", calls)
	}
	if c.Dependencies() != 0 {
		t.Errorf("Dependencies() = %d, want 0", c.Dependencies())
	}
}

func TestReadOutsideRecordDoesNotSubscribe(t *testing.T) {
	s := NewSignal(1)
	_ = s.Get()
	if s.Observed() {
		t.Error("read with no active consumer should not subscribe")
	}
	if CurrentConsumer() != nil {
		t.Error("CurrentConsumer() should be nil outside Record")
	}
}

func TestDynamicDependencyPruning(t *testing.T) {
	cond := NewSignal(true)
	a := NewSignal("a")
	b := NewSignal("b")

	c := NewConsumer()
	body := func() {
		if cond.Get() {
			_ = a.Get()
		} else {
			_ = b.Get()
		}
	}
	runs := 0
	c.Listen(func() {
		runs++
		c.Record(body)
	})
	c.Record(body)

	cond.Set(false)
	if runs != 1 {
		t.Fatalf("runs after cond switch = %d, want 1", runs)
	}
	if a.Observed() {
		t.Error("a should have been dropped after the switch")
	}

	a.Set("a2")
	if runs != 1 {
		t.Errorf("notifying a re-ran the consumer: runs = %d", runs)
	}

	b.Set("b2")
	if runs != 2 {
		t.Errorf("notifying b should re-run: runs = %d, want 2", runs)
	}
}

func TestRecordPanicRestoresStack(t *testing.T) {
	s := NewSignal(0)
	outer := NewConsumer()
	inner := NewConsumer()

	outer.Record(func() {
		func() {
			defer func() {
				if r := recover(); r != "inner failed" {
					t.Errorf("recover() = %v, want inner failed", r)
				}
			}()
			inner.Record(func() {
				_ = s.Get()
				panic("inner failed")
			})
		}()

		if got := CurrentConsumer(); got != outer {
			t.Errorf("CurrentConsumer() after inner panic = %v, want outer", got)
		}
	})

	if CurrentConsumer() != nil {
		t.Error("stack should be empty after Record")
	}
	if inner.Dependencies() != 1 {
		t.Errorf("inner Dependencies() = %d, want 1 (read before the panic)", inner.Dependencies())
	}
	if outer.Dependencies() != 0 {
		t.Errorf("outer Dependencies() = %d, want 0", outer.Dependencies())
	}
}

func TestNestedRecordOwnsFrames(t *testing.T) {
	a := NewSignal(1)
	b := NewSignal(2)
	outer := NewConsumer()
	inner := NewConsumer()

	outer.Record(func() {
		_ = a.Get()
		inner.Record(func() { _ = b.Get() })
	})

	if outer.Dependencies() != 1 || inner.Dependencies() != 1 {
		t.Errorf("outer=%d inner=%d, want 1 and 1", outer.Dependencies(), inner.Dependencies())
	}
}

func TestDisposeUnlinksConsumer(t *testing.T) {
	s := NewSignal(0)
	c := NewConsumer()
	calls := 0
	c.Listen(func() { calls++ })
	c.Record(func() { _ = s.Get() })

	c.Dispose()
	c.Dispose()
	s.Set(1)

	if calls != 0 {
		t.Errorf("disposed consumer notified %d times", calls)
	}
	if s.Observed() {
		t.Error("signal should have no subscribers after Dispose")
	}

	c.Record(func() { _ = s.Get() })
	if s.Observed() {
		t.Error("disposed consumer should not record dependencies")
	}
}

func TestNotifySnapshotsSubscribers(t *testing.T) {
	s := NewSignal(0)
	late := NewConsumer()
	lateCalls := 0
	late.Listen(func() { lateCalls++ })

	first := NewConsumer()
	first.Listen(func() {
		// Subscribing during notification must not affect this round.
		late.Record(func() { _ = s.Get() })
		first.Dispose()
	})
	first.Record(func() { _ = s.Get() })

	s.Set(1)
	if lateCalls != 0 {
		t.Errorf("consumer added during notify was notified in the same round")
	}

	s.Set(2)
	if lateCalls != 1 {
		t.Errorf("lateCalls = %d, want 1", lateCalls)
	}
}

func TestObserveIsReferenceCounted(t *testing.T) {
	starts, stops := 0, 0
	p := NewProducer(func() int { return 7 }, WithObserve(func() func() {
		starts++
		return func() { stops++ }
	}))

	c1 := NewConsumer()
	c2 := NewConsumer()
	c1.Record(func() { _ = p.Poll() })
	c2.Record(func() { _ = p.Poll() })

	if starts != 1 || stops != 0 {
		t.Fatalf("after two consumers: starts=%d stops=%d, want 1/0", starts, stops)
	}

	c1.Dispose()
	if stops != 0 {
		t.Errorf("stopped with a consumer still attached")
	}

	c2.Dispose()
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	c1 = NewConsumer()
	c1.Record(func() { _ = p.Poll() })
	if starts != 2 {
		t.Errorf("starts = %d, want 2 after re-observe", starts)
	}
}

func TestTrackingIsPerGoroutine(t *testing.T) {
	s := NewSignal(0)
	c := NewConsumer()

	var wg sync.WaitGroup
	c.Record(func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if CurrentConsumer() != nil {
				t.Error("other goroutine saw the active consumer")
			}
			_ = s.Get()
		}()
		wg.Wait()
	})

	if s.Observed() {
		t.Error("read on another goroutine should not subscribe")
	}
}

func TestIDsAreUnique(t *testing.T) {
	a := NewConsumer()
	b := NewConsumer()
	p := NewProducer(func() int { return 0 })
	if a.ID() == b.ID() || a.ID() == p.ID() || b.ID() == p.ID() {
		t.Errorf("duplicate IDs: %d %d %d", a.ID(), b.ID(), p.ID())
	}
}
