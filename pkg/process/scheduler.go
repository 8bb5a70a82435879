package process

import "sync"

// Scheduler interface defines the contract for task scheduling.
type Scheduler interface {
	// Add appends a ready task to the run queue.
	Add(t *Task)
	// Fetch removes and returns the next task to run, or nil.
	Fetch() *Task
	// Remove takes t out of the run queue if it is there.
	Remove(t *Task) bool
	// Len returns the number of queued tasks.
	Len() int
}

// StrideScheduler picks the ready task with the smallest stride. Among
// equal strides the one queued first wins.
type StrideScheduler struct {
	mu    sync.Mutex
	ready []*Task
}

var _ Scheduler = (*StrideScheduler)(nil)

// NewStrideScheduler creates an empty stride scheduler.
func NewStrideScheduler() *StrideScheduler {
	return &StrideScheduler{}
}

// Add appends t to the run queue.
func (s *StrideScheduler) Add(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, t)
}

// Fetch removes the minimal-stride task from the run queue.
func (s *StrideScheduler) Fetch() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) == 0 {
		return nil
	}
	best := 0
	bestStride := s.ready[0].Stride()
	for i := 1; i < len(s.ready); i++ {
		if st := s.ready[i].Stride(); st.Less(bestStride) {
			best, bestStride = i, st
		}
	}
	t := s.ready[best]
	s.removeAt(best)
	return t
}

// Remove takes t out of the run queue.
func (s *StrideScheduler) Remove(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, q := range s.ready {
		if q == t {
			s.removeAt(i)
			return true
		}
	}
	return false
}

func (s *StrideScheduler) removeAt(i int) {
	copy(s.ready[i:], s.ready[i+1:])
	s.ready[len(s.ready)-1] = nil
	s.ready = s.ready[:len(s.ready)-1]
}

// Len returns the number of ready tasks.
func (s *StrideScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
