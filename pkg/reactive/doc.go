// Package reactive implements fine-grained dependency tracking.
//
// # Graph
//
// A Producer is a readable, notifiable value source. A Consumer is one
// tracked evaluation. While Consumer.Record runs a function, every
// Producer polled on the same goroutine becomes a dependency of that
// Consumer; when the function returns, dependencies that were not read
// again are dropped. A notifying Producer calls every subscribed
// Consumer's listener synchronously.
//
// # Signals
//
//	count := reactive.NewSignal(0)
//	double := reactive.NewCached(func() int { return count.Get() * 2 })
//
//	root := reactive.NewRoot(scheduler.NewManual(), nil)
//	root.Effect(func() {
//	    fmt.Println(count.Get(), double.Get())
//	})
//
//	count.Set(1)
//	_ = root.Stable(ctx)
//
// Writes always notify. There is no equality check, so setting a signal to
// the value it already holds re-runs its dependents.
//
// Signal variants are told apart with Kind rather than reflection:
// NewSignal (KindPlain), ToSignal (KindDeferred), NewProxy (KindProperty)
// and NewCached (KindComputed).
//
// # Effects and stability
//
// Effects belong to a Root, which binds a scheduler.Scheduler and a
// Connectable. Effect runs always go through the scheduler, including the
// first one. Root.Stable waits until the scheduler reaches a fixed point:
// a drain pass that leaves nothing pending.
//
// # Goroutines
//
// The tracking stack is kept per goroutine. Writes from any goroutine are
// safe, and effects sharing a scheduler never run concurrently: deferred
// schedulers run them on their loop goroutine, while Sync and Manual
// serialize the goroutines that write or flush. An effect must therefore not
// block waiting for another goroutine that writes to its graph.
package reactive
