package hub

import "sync"

// semaphore bounds parallel transfers and can be resized while in use.
// Capacity zero or below means no limit.
type semaphore struct {
	cond     sync.Cond
	capacity int
	current  int
}

func newSemaphore(capacity int) *semaphore {
	return &semaphore{
		cond:     sync.Cond{L: &sync.Mutex{}},
		capacity: capacity,
	}
}

// acquire blocks until a slot frees up. Every acquire must be matched by one
// release.
func (s *semaphore) acquire() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for s.capacity > 0 && s.current >= s.capacity {
		s.cond.Wait()
	}
	s.current++
}

func (s *semaphore) release() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.current--
	s.cond.Signal()
}

// resize adjusts capacity. Growing wakes pending acquires; shrinking never
// interrupts current holders.
func (s *semaphore) resize(capacity int) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.capacity = capacity
	s.cond.Broadcast()
}
