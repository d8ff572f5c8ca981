package reactive

import (
	"sync"

	"github.com/vango-dev/reactive/internal/goid"
)

// trackingFrame is one entry of a goroutine's tracking stack. It collects
// the producers read while its consumer is recording. Frames pushed by
// Untracked have a nil consumer and collect nothing.
type trackingFrame struct {
	consumer *Consumer
	deps     []*producerNode
}

// link records p as a dependency of the frame. It reports false when p was
// already read during this run.
func (f *trackingFrame) link(p *producerNode) bool {
	for _, d := range f.deps {
		if d == p {
			return false
		}
	}
	f.deps = append(f.deps, p)
	return true
}

// TrackingContext holds the reactive state for a goroutine.
// Each goroutine has its own stack of active consumers, so graphs evaluated
// on different goroutines never see each other's consumers.
type TrackingContext struct {
	frames []*trackingFrame
}

// trackingContexts stores per-goroutine tracking contexts.
var trackingContexts sync.Map

// lookupTrackingContext returns the context of the current goroutine, or
// nil when nothing is being tracked on it.
func lookupTrackingContext() (*TrackingContext, uint64) {
	gid := goid.ID()
	if ctx, ok := trackingContexts.Load(gid); ok {
		return ctx.(*TrackingContext), gid
	}
	return nil, gid
}

// trackingScope is a pushed frame. exit pops it and every frame above it,
// so the stack is restored on every exit path, including panics.
type trackingScope struct {
	ctx   *TrackingContext
	gid   uint64
	depth int
	frame *trackingFrame
}

// enter pushes a frame for c (nil for an untracked frame).
func enter(c *Consumer) *trackingScope {
	ctx, gid := lookupTrackingContext()
	if ctx == nil {
		ctx = &TrackingContext{}
		trackingContexts.Store(gid, ctx)
	}
	frame := &trackingFrame{consumer: c}
	s := &trackingScope{ctx: ctx, gid: gid, depth: len(ctx.frames), frame: frame}
	ctx.frames = append(ctx.frames, frame)
	return s
}

func (s *trackingScope) exit() {
	for i := s.depth; i < len(s.ctx.frames); i++ {
		s.ctx.frames[i] = nil
	}
	s.ctx.frames = s.ctx.frames[:s.depth]
	if s.depth == 0 {
		// Contexts are lightweight, but goroutines come and go.
		trackingContexts.Delete(s.gid)
	}
}

// activeFrame returns the top frame of the current goroutine, or nil.
func activeFrame() *trackingFrame {
	ctx, _ := lookupTrackingContext()
	if ctx == nil || len(ctx.frames) == 0 {
		return nil
	}
	return ctx.frames[len(ctx.frames)-1]
}

// track links the active consumer, if any, to p.
func track(p *producerNode) {
	frame := activeFrame()
	if frame == nil || frame.consumer == nil {
		return
	}
	if frame.link(p) {
		p.subscribe(frame.consumer)
	}
}

// CurrentConsumer returns the consumer recording on this goroutine, or nil
// when reads are not being tracked.
func CurrentConsumer() *Consumer {
	frame := activeFrame()
	if frame == nil {
		return nil
	}
	return frame.consumer
}

// Untracked runs a function without tracking signal reads as dependencies.
//
// Example:
//
//	Untracked(func() {
//	    // Reading count here won't subscribe the running effect
//	    fmt.Println("Current value:", count.Get())
//	})
//
// For a single read, Peek on the signal is clearer.
func Untracked(fn func()) {
	s := enter(nil)
	defer s.exit()
	fn()
}

// UntrackedGet reads any signal without creating a dependency.
func UntrackedGet[T any](s Signal[T]) T {
	var v T
	Untracked(func() { v = s.Get() })
	return v
}
