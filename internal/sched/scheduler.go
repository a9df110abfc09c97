// Package sched implements the dispatcher of a uniprocessor kernel: it owns
// the thread registry, the ready queue, the timer-wake list and the two
// priority policies, and decides which thread runs at every instant.
//
// All scheduler state lives in one Scheduler value. It has no mutex:
// every mutation happens with the simulated interrupt flag off, and the
// CPU runs one thread at a time.
package sched

import (
	"log/slog"

	"github.com/me/kthreads/internal/donation"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/mlfqs"
	"github.com/me/kthreads/internal/readyq"
	"github.com/me/kthreads/internal/sleepq"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// CPU is the context-switch primitive.
type CPU interface {
	// Launch prepares t to start executing EnterThread the first time it
	// is switched to.
	Launch(t *thread.Thread)
	// Switch suspends prev and resumes next. It returns when prev is
	// next scheduled. A DYING prev is never resumed.
	Switch(prev, next *thread.Thread)
	// Halt stops the processor until the next external interrupt and
	// delivers it. It is called by the idle thread with interrupts on.
	Halt()
}

// Listener receives every scheduler event. It is called with interrupts
// off and must not call back into the scheduler.
type Listener interface {
	OnEvent(ev model.Event)
}

// Config holds scheduler configuration.
type Config struct {
	Mode       model.SchedulingMode
	TimerFreq  int // ticks per second
	TimeSlice  int // ticks before a running thread is preempted
	MaxThreads int // live thread limit; 0 means unlimited
}

// DefaultConfig returns the defaults of the original kernel.
func DefaultConfig() Config {
	return Config{
		Mode:       model.ModePriority,
		TimerFreq:  100,
		TimeSlice:  4,
		MaxThreads: 64,
	}
}

// Stats holds cumulative scheduler counters.
type Stats struct {
	Ticks       int64 `json:"ticks"`
	IdleTicks   int64 `json:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks"`
	Switches    int64 `json:"switches"`
	Spawned     int64 `json:"spawned"`
	Exited      int64 `json:"exited"`
}

// Scheduler is the scheduler state object.
type Scheduler struct {
	cfg    Config
	cpu    CPU
	logger *slog.Logger
	intr   *intr.Controller

	threads  *thread.Registry
	ready    *readyq.Queue
	sleepers *sleepq.List
	donor    *donation.Engine
	feedback *mlfqs.Engine

	current *thread.Thread
	idle    *thread.Thread
	dying   []*thread.Thread

	ticks         int64
	yieldOnReturn bool
	stats         Stats

	listener Listener
	eventSeq int64
}

// New creates a scheduler and turns the calling context into the initial
// thread "main", RUNNING at mainPriority. It also creates the idle thread.
// Interrupts start off; the caller enables them once booted.
func New(cfg Config, cpu CPU, mainPriority int, logger *slog.Logger) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.TimerFreq <= 0 {
		cfg.TimerFreq = def.TimerFreq
	}
	if cfg.TimeSlice <= 0 {
		cfg.TimeSlice = def.TimeSlice
	}

	s := &Scheduler{
		cfg:      cfg,
		cpu:      cpu,
		logger:   logger.With("component", "sched"),
		intr:     &intr.Controller{},
		threads:  thread.NewRegistry(cfg.MaxThreads),
		ready:    readyq.New(),
		sleepers: sleepq.New(),
		feedback: mlfqs.NewEngine(cfg.TimerFreq),
	}
	s.donor = donation.New(s.threads, s.priorityChanged)

	if s.mlfqsMode() {
		mainPriority = model.PriDefault
	}
	main, err := s.threads.Allocate("main", mainPriority)
	if err != nil {
		return nil, err
	}
	main.Status = model.ThreadRunning
	if s.mlfqsMode() {
		s.feedback.Inherit(main, nil)
	}
	s.current = main

	idle, err := s.threads.Allocate("idle", model.PriMin)
	if err != nil {
		return nil, err
	}
	idle.Entry = s.idleLoop
	s.idle = idle
	cpu.Launch(idle)

	s.logger.Debug("scheduler initialized", "mode", cfg.Mode, "timer_freq", cfg.TimerFreq, "time_slice", cfg.TimeSlice)
	return s, nil
}

// Intr returns the interrupt controller.
func (s *Scheduler) Intr() *intr.Controller {
	return s.intr
}

// Mode returns the active priority policy.
func (s *Scheduler) Mode() model.SchedulingMode {
	return s.cfg.Mode
}

// SetListener installs l as the event listener. nil removes it.
func (s *Scheduler) SetListener(l Listener) {
	s.listener = l
}

// Current returns the running thread. It panics if the thread's control
// block has been overwritten.
func (s *Scheduler) Current() *thread.Thread {
	t := s.current
	if t.IsCorrupted() {
		panic(invariant("current", t, model.ErrStackOverflow))
	}
	return t
}

// Idle returns the idle thread.
func (s *Scheduler) Idle() *thread.Thread {
	return s.idle
}

// Lookup returns the live thread with the given id.
func (s *Scheduler) Lookup(id thread.ID) (*thread.Thread, bool) {
	return s.threads.Lookup(id)
}

// Ticks returns the number of timer ticks since boot.
func (s *Scheduler) Ticks() int64 {
	return s.ticks
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Ticks = s.ticks
	return st
}

// Pending returns the number of ready and sleeping threads.
func (s *Scheduler) Pending() (ready, sleeping int) {
	return s.ready.Len(), s.sleepers.Len()
}

// NextWakeup returns the earliest sleeper deadline.
func (s *Scheduler) NextWakeup() (int64, bool) {
	return s.sleepers.NextWakeup()
}

// ReadyOrder returns the ready threads in dispatch order.
func (s *Scheduler) ReadyOrder() []*thread.Thread {
	return s.ready.Snapshot()
}

// Snapshot returns the state of every live thread in creation order.
func (s *Scheduler) Snapshot() []model.ThreadInfo {
	return s.threads.Snapshot()
}

func (s *Scheduler) mlfqsMode() bool {
	return s.cfg.Mode == model.ModeMLFQS
}

func (s *Scheduler) emit(kind model.EventKind, t *thread.Thread, detail string) {
	if s.listener == nil {
		return
	}
	s.eventSeq++
	s.listener.OnEvent(model.Event{
		Seq:        s.eventSeq,
		Tick:       s.ticks,
		Kind:       kind,
		ThreadID:   int(t.ID),
		ThreadName: t.Name,
		Priority:   t.Priority,
		Detail:     detail,
	})
}

// Note records a free-form event on behalf of the running thread.
func (s *Scheduler) Note(detail string) {
	old := s.intr.Disable()
	s.emit(model.EventNote, s.current, detail)
	s.intr.SetLevel(old)
}

func invariant(op string, t *thread.Thread, err error) *model.InvariantError {
	id := int(thread.IDError)
	if t != nil {
		id = int(t.ID)
	}
	return &model.InvariantError{Op: op, ThreadID: id, Err: err}
}

func (s *Scheduler) assertIntrOff(op string) {
	if s.intr.Level() != intr.Off {
		panic(invariant(op, s.current, model.ErrInterruptsOn))
	}
}

func (s *Scheduler) assertNotInContext(op string) {
	if s.intr.InContext() {
		panic(invariant(op, s.current, model.ErrInterruptContext))
	}
}

// transition moves t to status to. The idle thread is exempt from the
// state machine: it is never queued and alternates between RUNNING and
// BLOCKED on its own.
func (s *Scheduler) transition(op string, t *thread.Thread, to model.ThreadStatus) {
	if t != s.idle && !t.Status.CanTransitionTo(to) {
		panic(invariant(op, t, &model.InvalidTransitionError{
			Entity: "thread",
			ID:     t.String(),
			From:   t.Status.String(),
			To:     to.String(),
		}))
	}
	t.Status = to
}
