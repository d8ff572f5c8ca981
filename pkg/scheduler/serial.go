package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/vango-dev/reactive/internal/goid"
)

// serial lets one goroutine at a time execute actions. The holder may
// re-enter, which Sync needs when an action's writes run further actions
// inline.
type serial struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

func (s *serial) lock() {
	id := goid.ID()
	if s.owner.Load() == id {
		s.depth++
		return
	}
	s.mu.Lock()
	s.owner.Store(id)
	s.depth = 1
}

func (s *serial) unlock() {
	s.depth--
	if s.depth == 0 {
		s.owner.Store(0)
		s.mu.Unlock()
	}
}

// run executes action while holding the lock.
func (s *serial) run(action func()) {
	s.lock()
	defer s.unlock()
	action()
}
