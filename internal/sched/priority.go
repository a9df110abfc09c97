package sched

import (
	"fmt"
	"strconv"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// SetPriority sets the running thread's base priority. Its effective
// priority stays at least as high as any donation it holds. The thread
// yields if it no longer has the highest priority.
func (s *Scheduler) SetPriority(priority int) error {
	if s.mlfqsMode() {
		return fmt.Errorf("set priority: %w", model.ErrMLFQSActive)
	}
	if !model.ValidPriority(priority) {
		return fmt.Errorf("set priority %d: %w", priority, model.ErrInvalidPriority)
	}
	old := s.intr.Disable()
	cur := s.Current()
	cur.BasePriority = priority
	s.donor.Refresh(cur)
	s.intr.SetLevel(old)

	s.CheckPreemption()
	return nil
}

// Priority returns the running thread's effective priority.
func (s *Scheduler) Priority() int {
	return s.Current().Priority
}

// SetNice sets the running thread's nice value. In MLFQS mode its priority
// is recomputed at once and the thread yields if it is outranked.
func (s *Scheduler) SetNice(nice int) error {
	if !model.ValidNice(nice) {
		return fmt.Errorf("set nice %d: %w", nice, model.ErrInvalidNice)
	}
	old := s.intr.Disable()
	cur := s.Current()
	cur.Nice = nice
	s.emit(model.EventNice, cur, strconv.Itoa(nice))
	if s.mlfqsMode() {
		prev := cur.Priority
		if s.feedback.Recompute(cur) {
			s.priorityChanged(cur, prev)
		}
	}
	s.intr.SetLevel(old)

	s.CheckPreemption()
	return nil
}

// Nice returns the running thread's nice value.
func (s *Scheduler) Nice() int {
	return s.Current().Nice
}

// RecentCPU returns 100 times the running thread's recent_cpu, rounded.
func (s *Scheduler) RecentCPU() int {
	old := s.intr.Disable()
	defer s.intr.SetLevel(old)
	return s.Current().RecentCPU.Hundredths()
}

// LoadAvg returns 100 times the system load average, rounded.
func (s *Scheduler) LoadAvg() int {
	old := s.intr.Disable()
	defer s.intr.SetLevel(old)
	return s.feedback.LoadAvg().Hundredths()
}

// LockWillBlock is called by a lock before the running thread blocks
// acquiring it. The thread donates its priority along the holder chain.
// It does nothing in MLFQS mode.
func (s *Scheduler) LockWillBlock(lock thread.Lock) {
	if s.mlfqsMode() {
		return
	}
	old := s.intr.Disable()
	cur := s.Current()
	if holder := lock.Holder(); holder != nil {
		s.emit(model.EventDonate, cur, fmt.Sprintf("%s -> %s via %s", cur, holder, lock.Name()))
	}
	s.donor.Block(cur, lock)
	s.intr.SetLevel(old)
}

// LockAcquired is called by a lock once the running thread holds it.
func (s *Scheduler) LockAcquired(lock thread.Lock) {
	if s.mlfqsMode() {
		return
	}
	old := s.intr.Disable()
	s.donor.Acquired(s.Current(), lock)
	s.intr.SetLevel(old)
}

// LockReleased is called by a lock the running thread is releasing, before
// a waiter is woken. Donations received through the lock are returned.
func (s *Scheduler) LockReleased(lock thread.Lock) {
	if s.mlfqsMode() {
		return
	}
	old := s.intr.Disable()
	s.donor.Release(s.Current(), lock)
	s.intr.SetLevel(old)
}

// priorityChanged keeps the ready queue ordered after t's effective
// priority moved from old.
func (s *Scheduler) priorityChanged(t *thread.Thread, old int) {
	if t.Member.Kind == thread.QueueReady {
		s.ready.Reorder(t)
	}
	s.emit(model.EventPriority, t, fmt.Sprintf("%d -> %d", old, t.Priority))
}
