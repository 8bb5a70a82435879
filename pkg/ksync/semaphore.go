package ksync

import "sync"

// Semaphore is a counting semaphore. A negative count is the number of
// parked waiters.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters waitQueue
}

// NewSemaphore creates a semaphore holding count units.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{count: count}
}

// Up releases one unit and wakes one waiter if any.
func (s *Semaphore) Up(sw Switcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.count <= 0 {
		if w := s.waiters.pop(); w != nil {
			sw.Wakeup(w)
		}
	}
}

// Down takes one unit, parking the current task while none is left.
func (s *Semaphore) Down(sw Switcher) {
	s.mu.Lock()
	s.count--
	if s.count >= 0 {
		s.mu.Unlock()
		return
	}
	s.waiters.push(sw.Current())
	s.mu.Unlock()
	sw.Block()
}

// Count returns the current count.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
