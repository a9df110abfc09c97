package synch

import "github.com/me/kthreads/internal/thread"

// Semaphore is a counting semaphore.
type Semaphore struct {
	k       Kernel
	name    string
	value   int
	waiters waitList
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(k Kernel, name string, value int) *Semaphore {
	if value < 0 {
		value = 0
	}
	return &Semaphore{k: k, name: name, value: value}
}

// Name returns the semaphore's name.
func (s *Semaphore) Name() string {
	return s.name
}

// Value returns the current value.
func (s *Semaphore) Value() int {
	return s.value
}

// Waiters returns the number of blocked threads.
func (s *Semaphore) Waiters() int {
	return s.waiters.len()
}

// Down waits for the value to become positive and decrements it.
// It may block, so it must not be called from an interrupt handler.
func (s *Semaphore) Down() {
	in := s.k.Intr()
	old := in.Disable()
	for s.value == 0 {
		s.waiters.push(s.k.Current())
		s.k.Block()
	}
	s.value--
	in.SetLevel(old)
}

// TryDown decrements the value if it is positive, without blocking.
func (s *Semaphore) TryDown() bool {
	in := s.k.Intr()
	old := in.Disable()
	defer in.SetLevel(old)
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the value and wakes the highest-priority waiter, which
// preempts the caller if it outranks it. Up may be called from an
// interrupt handler; the preemption then happens on return.
func (s *Semaphore) Up() {
	in := s.k.Intr()
	old := in.Disable()
	var woken *thread.Thread
	if t, ok := s.waiters.popHighest(); ok {
		s.k.Unblock(t)
		woken = t
	}
	s.value++
	in.SetLevel(old)

	if woken != nil {
		s.k.CheckPreemption()
	}
}
