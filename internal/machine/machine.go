// Package machine simulates the uniprocessor the scheduler runs on. Every
// kernel thread is backed by a goroutine, but control is handed from one
// goroutine to the next through per-thread channels, so exactly one of
// them executes kernel code at any instant. The machine owns the timer:
// a tick is delivered whenever the running thread spins or the idle
// thread halts.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/me/kthreads/internal/sched"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

var (
	// ErrDeadlock is returned by Run when every thread is blocked and no
	// thread is sleeping, so no timer tick can ever wake one.
	ErrDeadlock = errors.New("machine: every thread is blocked")
	// ErrTickLimit is returned by Run when the tick budget is spent.
	ErrTickLimit = errors.New("machine: tick limit exceeded")
)

// Config holds machine configuration.
type Config struct {
	Sched        sched.Config
	MainPriority int
	MaxTicks     int64 // 0 means unlimited
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Sched:        sched.DefaultConfig(),
		MainPriority: model.PriDefault,
		MaxTicks:     100000,
	}
}

// Machine is a simulated uniprocessor running one scheduler.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	sched  *sched.Scheduler
	ctx    context.Context

	wg       sync.WaitGroup
	halted   chan struct{}
	haltOnce sync.Once
	err      error
}

// frame is the saved execution state of a thread: the channel its
// goroutine parks on while another thread runs.
type frame struct {
	resume  chan struct{}
	started bool
}

// New creates a powered-off machine and boots its scheduler.
func New(cfg Config, logger *slog.Logger) (*Machine, error) {
	m := &Machine{
		cfg:    cfg,
		logger: logger.With("component", "machine"),
		halted: make(chan struct{}),
	}
	s, err := sched.New(cfg.Sched, cpu{m}, cfg.MainPriority, logger)
	if err != nil {
		return nil, fmt.Errorf("boot scheduler: %w", err)
	}
	m.sched = s
	return m, nil
}

// Sched returns the scheduler. Its methods may only be called from code
// running on the machine.
func (m *Machine) Sched() *sched.Scheduler {
	return m.sched
}

// Run powers the machine on and runs main as the initial thread. It
// returns nil when main returns, or the error that halted the machine:
// a kernel panic, ErrDeadlock, ErrTickLimit or ctx's error. Run may be
// called once.
func (m *Machine) Run(ctx context.Context, main func()) error {
	m.ctx = ctx
	m.logger.Debug("power on", "mode", m.sched.Mode(), "max_ticks", m.cfg.MaxTicks)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.recoverPanic()
		m.sched.Intr().Enable()
		main()
		m.stop(nil)
	}()

	<-m.halted
	m.wg.Wait()

	st := m.sched.Stats()
	m.logger.Debug("power off", "ticks", st.Ticks, "switches", st.Switches, "error", m.err)
	return m.err
}

// Spin burns ticks timer ticks on the running thread, which may be
// preempted at any of them. It must be called with interrupts on.
func (m *Machine) Spin(ticks int64) {
	for i := int64(0); i < ticks; i++ {
		m.interrupt()
	}
}

// interrupt delivers one timer interrupt unless the machine must stop.
func (m *Machine) interrupt() {
	if m.cfg.MaxTicks > 0 && m.sched.Ticks() >= m.cfg.MaxTicks {
		m.stop(fmt.Errorf("%w: %d", ErrTickLimit, m.cfg.MaxTicks))
		runtime.Goexit()
	}
	if err := m.ctx.Err(); err != nil {
		m.stop(err)
		runtime.Goexit()
	}
	m.sched.TimerInterrupt()
}

func (m *Machine) stop(err error) {
	m.haltOnce.Do(func() {
		m.err = err
		close(m.halted)
	})
}

func (m *Machine) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	m.logger.Error("kernel panic", "error", err, "tick", m.sched.Ticks())
	m.stop(err)
}

func (m *Machine) threadMain(t *thread.Thread) {
	defer m.wg.Done()
	defer m.recoverPanic()
	m.sched.EnterThread(t)
}

// frameOf returns t's frame. The initial thread gets its frame on its
// first switch; it is already running.
func frameOf(t *thread.Thread) *frame {
	f, ok := t.Frame.(*frame)
	if !ok {
		f = &frame{resume: make(chan struct{}, 1), started: true}
		t.Frame = f
	}
	return f
}

// cpu is the machine as seen by the scheduler.
type cpu struct {
	m *Machine
}

func (c cpu) Launch(t *thread.Thread) {
	t.Frame = &frame{resume: make(chan struct{}, 1)}
}

func (c cpu) Switch(prev, next *thread.Thread) {
	m := c.m
	pf := frameOf(prev)
	nf := frameOf(next)
	dying := prev.Status == model.ThreadDying

	if nf.started {
		nf.resume <- struct{}{}
	} else {
		nf.started = true
		m.wg.Add(1)
		go m.threadMain(next)
	}
	if dying {
		runtime.Goexit()
	}

	select {
	case <-pf.resume:
	case <-m.halted:
		runtime.Goexit()
	}
}

// Halt idles until the next tick. With nothing ready and no sleeper it
// reports ErrDeadlock; when the earliest sleeper would wake past the tick
// limit it stops at once instead of idling through the remaining ticks.
func (c cpu) Halt() {
	m := c.m
	ready, sleeping := m.sched.Pending()
	if ready == 0 && sleeping == 0 {
		m.stop(ErrDeadlock)
		runtime.Goexit()
	}
	if ready == 0 && m.cfg.MaxTicks > 0 {
		if next, ok := m.sched.NextWakeup(); ok && next > m.cfg.MaxTicks {
			m.stop(fmt.Errorf("%w: %d (next wakeup at tick %d)", ErrTickLimit, m.cfg.MaxTicks, next))
			runtime.Goexit()
		}
	}
	m.interrupt()
}
