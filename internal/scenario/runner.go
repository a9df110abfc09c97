package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/me/kthreads/internal/machine"
	"github.com/me/kthreads/internal/sched"
	"github.com/me/kthreads/internal/synch"
	"github.com/me/kthreads/pkg/model"
)

// Result is the outcome of one scenario run.
type Result struct {
	RunID        string
	Scenario     *Scenario
	Mode         model.SchedulingMode
	Stats        sched.Stats
	LoadAvg      int
	Events       []model.Event
	Threads      []model.ThreadInfo
	Expectations []model.Expectation
	// Err is the error that halted the machine, if any.
	Err       error
	Passed    bool
	StartedAt time.Time
	Duration  time.Duration
}

// Record converts the result to its stored form.
func (r *Result) Record() *model.Run {
	run := &model.Run{
		ID:           r.RunID,
		Name:         r.Scenario.Name,
		Mode:         r.Mode,
		Ticks:        r.Stats.Ticks,
		LoadAvg:      r.LoadAvg,
		Switches:     r.Stats.Switches,
		IdleTicks:    r.Stats.IdleTicks,
		Passed:       r.Passed,
		EventCount:   len(r.Events),
		Source:       r.Scenario.Source,
		Expectations: r.Expectations,
		CreatedAt:    r.StartedAt,
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return run
}

// Runner executes scenarios, each on a fresh machine.
type Runner struct {
	cfg    machine.Config
	logger *slog.Logger
}

// NewRunner creates a runner. cfg is the machine configuration scenarios
// start from.
func NewRunner(cfg machine.Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes sc and evaluates its expectations. The returned error
// reports a runner failure; a kernel panic, deadlock or tick limit during
// the run is reported in Result.Err and fails the result.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	cfg := r.cfg
	cfg.Sched.Mode = sc.SchedulingMode(cfg.Sched.Mode)
	if sc.MainPriority != nil {
		cfg.MainPriority = *sc.MainPriority
	}
	if sc.MaxTicks > 0 {
		cfg.MaxTicks = sc.MaxTicks
	}

	res := &Result{
		RunID:     "run_" + uuid.New().String(),
		Scenario:  sc,
		Mode:      cfg.Sched.Mode,
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With("component", "scenario", "scenario", sc.Name, "run_id", res.RunID)

	m, err := machine.New(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}
	x := newExecution(sc, m, res)
	m.Sched().SetListener(x)

	res.Err = m.Run(ctx, x.main)
	res.Duration = time.Since(res.StartedAt)
	res.Stats = m.Sched().Stats()
	res.LoadAvg = m.Sched().LoadAvg()
	res.Threads = x.threadTable()

	res.Expectations, err = evaluate(sc.Expect, res)
	if err != nil {
		return nil, err
	}
	res.Passed = res.Err == nil
	for _, e := range res.Expectations {
		res.Passed = res.Passed && e.Passed
	}

	logger.Info("scenario finished",
		"passed", res.Passed,
		"ticks", res.Stats.Ticks,
		"switches", res.Stats.Switches,
		"events", len(res.Events),
		"error", res.Err,
	)
	return res, nil
}

// execution is the state of one scenario run. Its methods run on the
// simulated machine, one thread at a time.
type execution struct {
	sc  *Scenario
	m   *machine.Machine
	s   *sched.Scheduler
	res *Result

	locks  map[string]*synch.Lock
	semas  map[string]*synch.Semaphore
	conds  map[string]*synch.Cond
	specs  map[string]*ThreadSpec
	done   map[string]*synch.Semaphore
	joined []string

	finished map[int]model.ThreadInfo
}

func newExecution(sc *Scenario, m *machine.Machine, res *Result) *execution {
	x := &execution{
		sc:       sc,
		m:        m,
		s:        m.Sched(),
		res:      res,
		locks:    make(map[string]*synch.Lock),
		semas:    make(map[string]*synch.Semaphore),
		conds:    make(map[string]*synch.Cond),
		specs:    make(map[string]*ThreadSpec),
		done:     make(map[string]*synch.Semaphore),
		finished: make(map[int]model.ThreadInfo),
	}
	for _, name := range sc.Locks {
		x.locks[name] = synch.NewLock(x.s, name)
	}
	for name, v := range sc.Semaphores {
		x.semas[name] = synch.NewSemaphore(x.s, name, v)
	}
	for name := range sc.Conds {
		x.conds[name] = synch.NewCond(x.s, name)
	}
	for i := range sc.Threads {
		spec := &sc.Threads[i]
		x.specs[spec.Name] = spec
		x.done[spec.Name] = synch.NewSemaphore(x.s, "done:"+spec.Name, 0)
	}
	return x
}

// OnEvent records the trace.
func (x *execution) OnEvent(ev model.Event) {
	x.res.Events = append(x.res.Events, ev)
}

// main is the body of the initial thread: spawn, run the main script, then
// wait for every spawned thread to finish.
func (x *execution) main() {
	if !x.sc.spawnsExplicitly() {
		for _, t := range x.sc.Threads {
			x.spawn(t.Name)
		}
	}
	x.exec(x.sc.Main)
	for i := 0; i < len(x.joined); i++ {
		x.done[x.joined[i]].Down()
	}
	x.record(model.ThreadRunning)
}

func (x *execution) spawn(name string) {
	spec := x.specs[name]
	_, err := x.s.Spawn(name, spec.EffectivePriority(), x.body, spec)
	if err != nil {
		x.s.Note(fmt.Sprintf("spawn %s: %v", name, err))
		return
	}
	x.joined = append(x.joined, name)
}

func (x *execution) body(arg any) {
	spec := arg.(*ThreadSpec)
	if spec.Nice != 0 {
		if err := x.s.SetNice(spec.Nice); err != nil {
			x.s.Note(err.Error())
		}
	}
	x.exec(spec.Script)
	x.record(model.ThreadDying)
	x.done[spec.Name].Up()
}

// record saves the running thread's final state; exited threads are
// reaped and no longer appear in the scheduler's snapshot.
func (x *execution) record(status model.ThreadStatus) {
	info := x.s.Current().Info()
	info.Status = status
	if status == model.ThreadDying {
		tick := x.s.Ticks()
		info.ExitTick = &tick
	}
	x.finished[info.ID] = info
}

func (x *execution) exec(script []Op) {
	for _, op := range script {
		x.step(op)
	}
}

func (x *execution) step(op Op) {
	s := x.s
	switch op.Kind {
	case OpSpin:
		x.m.Spin(op.N)
	case OpSleep:
		s.Sleep(op.N)
	case OpYield:
		s.Yield()
	case OpAcquire:
		x.locks[op.Name].Acquire()
	case OpRelease:
		x.locks[op.Name].Release()
	case OpDown:
		x.semas[op.Name].Down()
	case OpUp:
		x.semas[op.Name].Up()
	case OpWait:
		x.conds[op.Name].Wait(x.locks[x.sc.Conds[op.Name]])
	case OpSignal:
		x.conds[op.Name].Signal(x.locks[x.sc.Conds[op.Name]])
	case OpBroadcast:
		x.conds[op.Name].Broadcast(x.locks[x.sc.Conds[op.Name]])
	case OpSetPriority:
		if err := s.SetPriority(int(op.N)); err != nil {
			s.Note(err.Error())
		}
	case OpSetNice:
		if err := s.SetNice(int(op.N)); err != nil {
			s.Note(err.Error())
		}
	case OpSpawn:
		x.spawn(op.Name)
	case OpNote:
		s.Note(op.Text)
	}
}

// threadTable merges the recorded final states with the threads still
// alive when the machine stopped.
func (x *execution) threadTable() []model.ThreadInfo {
	table := make(map[int]model.ThreadInfo, len(x.finished))
	for id, info := range x.finished {
		table[id] = info
	}
	for _, info := range x.s.Snapshot() {
		if _, ok := table[info.ID]; !ok {
			table[info.ID] = info
		}
	}
	out := make([]model.ThreadInfo, 0, len(table))
	for _, info := range table {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
