package sched

import (
	"fmt"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Spawn creates a thread that will run entry(arg) and makes it READY.
// If the new thread outranks the caller, the caller yields (or, in
// interrupt context, yields on return). In MLFQS mode priority is ignored:
// the thread inherits the caller's nice and recent_cpu instead.
//
// On failure Spawn returns thread.IDError with model.ErrNoMemory,
// model.ErrNoID or model.ErrInvalidPriority.
func (s *Scheduler) Spawn(name string, priority int, entry func(arg any), arg any) (thread.ID, error) {
	if entry == nil {
		return thread.IDError, fmt.Errorf("spawn %q: nil entry", name)
	}
	if s.mlfqsMode() {
		priority = model.PriDefault
	}

	old := s.intr.Disable()
	t, err := s.threads.Allocate(name, priority)
	if err != nil {
		s.intr.SetLevel(old)
		return thread.IDError, fmt.Errorf("spawn: %w", err)
	}
	t.Entry = entry
	t.Arg = arg
	t.CreatedTick = s.ticks
	if s.mlfqsMode() {
		s.feedback.Inherit(t, s.current)
	}
	s.cpu.Launch(t)
	s.stats.Spawned++
	s.emit(model.EventSpawn, t, "")
	s.logger.Debug("thread spawned", "thread", t.String(), "priority", t.Priority)
	s.unblock(t)
	s.intr.SetLevel(old)

	s.CheckPreemption()
	return t.ID, nil
}

// EnterThread is the first code a newly launched thread runs. It finishes
// the switch that brought the thread onto the CPU, enables interrupts,
// runs the entry function and exits the thread when it returns.
func (s *Scheduler) EnterThread(t *thread.Thread) {
	s.switchTail()
	s.intr.Enable()
	t.Entry(t.Arg)
	s.Exit()
}

// idleLoop runs when no other thread is ready. It blocks so that the next
// Unblock makes another thread ready, then halts the CPU until the next
// timer interrupt.
func (s *Scheduler) idleLoop(any) {
	for {
		s.intr.Disable()
		s.block("idle")
		s.intr.Enable()
		s.cpu.Halt()
	}
}

// Block puts the running thread to sleep until Unblock. Interrupts must be
// off and the caller must not be an interrupt handler.
func (s *Scheduler) Block() {
	s.assertNotInContext("block")
	s.assertIntrOff("block")
	s.block("block")
}

func (s *Scheduler) block(op string) {
	cur := s.Current()
	s.transition(op, cur, model.ThreadBlocked)
	if cur != s.idle {
		s.emit(model.EventBlock, cur, op)
	}
	s.schedule()
}

// Unblock makes a BLOCKED thread READY. It does not preempt the caller,
// so it is safe from interrupt context with interrupts off. Callers that
// want the woken thread to run at once call CheckPreemption afterwards.
func (s *Scheduler) Unblock(t *thread.Thread) {
	old := s.intr.Disable()
	s.unblock(t)
	s.intr.SetLevel(old)
}

func (s *Scheduler) unblock(t *thread.Thread) {
	if t.IsCorrupted() {
		panic(invariant("unblock", t, model.ErrStackOverflow))
	}
	if t.Status != model.ThreadBlocked || t == s.idle {
		panic(invariant("unblock", t, fmt.Errorf("%w: %s is %s", model.ErrNotBlocked, t, t.Status)))
	}
	if t.Linked() {
		panic(invariant("unblock", t, fmt.Errorf("%w: %s on %s queue", model.ErrQueueMembership, t, t.Member.Kind)))
	}
	s.transition("unblock", t, model.ThreadReady)
	s.ready.Insert(t)
	s.emit(model.EventUnblock, t, "")
}

// Yield moves the running thread to the back of its priority level and
// runs the scheduler. The idle thread is never queued.
func (s *Scheduler) Yield() {
	s.assertNotInContext("yield")
	old := s.intr.Disable()
	cur := s.Current()
	if cur != s.idle {
		s.transition("yield", cur, model.ThreadReady)
		s.ready.Insert(cur)
		s.emit(model.EventYield, cur, "")
	}
	s.schedule()
	s.intr.SetLevel(old)
}

// Exit destroys the running thread. It is reaped by the thread that runs
// next. Exit returns only on a CPU that hands control back to dying
// threads, such as a recording CPU in tests.
func (s *Scheduler) Exit() {
	s.assertNotInContext("exit")
	s.intr.Disable()
	cur := s.Current()
	if cur == s.idle {
		panic(invariant("exit", cur, fmt.Errorf("%w: idle thread cannot exit", model.ErrInvalidTransition)))
	}
	if len(cur.Donations) > 0 {
		panic(invariant("exit", cur, fmt.Errorf("%w: %d waiters", model.ErrHeldLocks, len(cur.Donations))))
	}
	s.transition("exit", cur, model.ThreadDying)
	cur.ExitTick = s.ticks
	s.stats.Exited++
	s.dying = append(s.dying, cur)
	s.emit(model.EventExit, cur, "")
	s.logger.Debug("thread exiting", "thread", cur.String(), "run_ticks", cur.RunTicks)
	s.schedule()
}

// schedule switches from the running thread, which has already left the
// RUNNING state, to the highest-priority ready thread or the idle thread.
func (s *Scheduler) schedule() {
	prev := s.current
	if prev.IsCorrupted() {
		panic(invariant("schedule", prev, model.ErrStackOverflow))
	}

	next, ok := s.ready.PopHighest()
	if !ok {
		next = s.idle
	}
	if next.IsCorrupted() {
		panic(invariant("schedule", next, model.ErrStackOverflow))
	}
	if prev == s.idle && next != s.idle {
		prev.Status = model.ThreadBlocked
	}
	s.transition("schedule", next, model.ThreadRunning)
	next.SliceTicks = 0
	s.current = next

	if prev != next {
		s.stats.Switches++
		s.emit(model.EventDispatch, next, "")
		s.cpu.Switch(prev, next)
	}
	s.switchTail()
}

// switchTail runs on the incoming thread after every switch and reaps the
// threads that exited.
func (s *Scheduler) switchTail() {
	for _, t := range s.dying {
		s.reap(t)
	}
	clear(s.dying)
	s.dying = s.dying[:0]
}

func (s *Scheduler) reap(t *thread.Thread) {
	if t == s.current || t.Status != model.ThreadDying {
		panic(invariant("reap", t, fmt.Errorf("%w: reaping %s thread", model.ErrInvalidTransition, t.Status)))
	}
	if t.Linked() {
		panic(invariant("reap", t, fmt.Errorf("%w: %s on %s queue", model.ErrQueueMembership, t, t.Member.Kind)))
	}
	s.donor.Forget(t)
	s.threads.Remove(t)
	t.Frame = nil
	t.Entry = nil
	t.Arg = nil
}
