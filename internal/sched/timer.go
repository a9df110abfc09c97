package sched

import (
	"strconv"

	"github.com/me/kthreads/pkg/model"
)

// TimerInterrupt delivers one timer interrupt: it runs Tick as an external
// interrupt handler and, if the handler asked for it, yields the running
// thread once the handler has returned.
func (s *Scheduler) TimerInterrupt() {
	old := s.intr.Enter()
	s.Tick()
	s.intr.Leave(old)

	if s.yieldOnReturn {
		s.yieldOnReturn = false
		s.Yield()
	}
}

// Tick advances the clock by one tick. It accounts the tick to the running
// thread, runs the feedback-queue updates that are due, wakes every
// sleeper whose deadline has passed and requests preemption when the
// running thread used up its time slice or is outranked. Tick never
// switches threads.
func (s *Scheduler) Tick() {
	s.assertIntrOff("tick")
	s.ticks++

	cur := s.current
	if cur == s.idle {
		s.stats.IdleTicks++
	} else {
		s.stats.KernelTicks++
		cur.RunTicks++
	}
	cur.SliceTicks++

	if s.mlfqsMode() {
		s.feedbackTick()
	}

	for _, t := range s.sleepers.Expired(s.ticks) {
		s.emit(model.EventWake, t, "")
		s.unblock(t)
	}

	if cur != s.idle && cur.SliceTicks >= s.cfg.TimeSlice {
		s.yieldOnReturn = true
	}
	if s.outranked() {
		s.yieldOnReturn = true
	}
}

func (s *Scheduler) feedbackTick() {
	running := s.current
	if running == s.idle {
		running = nil
	}
	ready := s.ready.Len()
	if running != nil {
		ready++
	}
	if s.feedback.Tick(s.ticks, running, ready, s.threads, s.idle) {
		s.ready.Rebuild()
	}
	if s.ticks%int64(s.cfg.TimerFreq) == 0 {
		s.emit(model.EventLoadAvg, s.current, strconv.Itoa(s.feedback.LoadAvg().Hundredths()))
	}
}

// YieldPending reports whether the running thread will yield when the
// current interrupt handler returns.
func (s *Scheduler) YieldPending() bool {
	return s.yieldOnReturn
}

// Sleep suspends the running thread for at least ticks timer ticks.
// A non-positive count returns at once.
func (s *Scheduler) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	s.assertNotInContext("sleep")
	old := s.intr.Disable()
	cur := s.Current()
	if cur == s.idle {
		panic(invariant("sleep", cur, model.ErrInvalidTransition))
	}
	cur.WakeupTick = s.ticks + ticks
	s.transition("sleep", cur, model.ThreadBlocked)
	s.sleepers.Add(cur)
	s.emit(model.EventSleep, cur, strconv.FormatInt(cur.WakeupTick, 10))
	s.schedule()
	s.intr.SetLevel(old)
}

// outranked reports whether a ready thread should take the CPU from the
// running one. Any ready thread outranks the idle thread.
func (s *Scheduler) outranked() bool {
	head, ok := s.ready.Peek()
	if !ok {
		return false
	}
	return s.current == s.idle || head.Priority > s.current.Priority
}

// CheckPreemption yields the running thread if a ready thread has a
// higher priority. In interrupt context the yield is deferred until the
// handler returns.
func (s *Scheduler) CheckPreemption() {
	old := s.intr.Disable()
	preempt := s.outranked()
	s.intr.SetLevel(old)
	if !preempt {
		return
	}
	if s.intr.InContext() {
		s.yieldOnReturn = true
		return
	}
	s.Yield()
}
