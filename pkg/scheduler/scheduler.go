// Package scheduler runs operations one at a time in submission order.
package scheduler

import "sync"

// Scheduler is a FIFO queue that admits a single running operation.
// An operation is considered done when its function returns, so an
// operation must deliver its result before returning.
type Scheduler struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func New() *Scheduler {
	return new(Scheduler)
}

// ScheduleOperation enqueues op and returns immediately. op runs on a
// scheduler goroutine after every previously scheduled operation returned.
func (s *Scheduler) ScheduleOperation(op func()) {
	s.mu.Lock()
	s.queue = append(s.queue, op)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

// ScheduledOperations reports whether an operation is running or queued.
func (s *Scheduler) ScheduledOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || len(s.queue) > 0
}

// Len returns the number of queued operations, not including a running one.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		op()
	}
}
