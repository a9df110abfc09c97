// Package scenario describes scheduling experiments in YAML and runs them
// on a simulated machine. A scenario declares synchronization objects and
// threads with short scripts, plus JavaScript expectations checked against
// the recorded run.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/kthreads/pkg/model"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Mode         string            `yaml:"mode"`          // priority (default) or mlfqs
	MainPriority *int              `yaml:"main_priority"` // initial thread's priority
	MaxTicks     int64             `yaml:"max_ticks"`     // overrides the machine's tick budget
	Locks        []string          `yaml:"locks"`
	Semaphores   map[string]int    `yaml:"semaphores"` // name -> initial value
	Conds        map[string]string `yaml:"conds"`      // name -> lock it is used with
	Main         []Op              `yaml:"main"`       // script of the initial thread
	Threads      []ThreadSpec      `yaml:"threads"`
	Expect       []string          `yaml:"expect"`

	// Source is the raw file content.
	Source string `yaml:"-"`
}

// ThreadSpec declares a thread. Threads are spawned by "spawn" ops in the
// main script, or all at start, in declaration order, when the main script
// spawns none.
type ThreadSpec struct {
	Name     string `yaml:"name"`
	Priority *int   `yaml:"priority"`
	Nice     int    `yaml:"nice"`
	Script   []Op   `yaml:"script"`
}

// EffectivePriority returns the declared priority or PRI_DEFAULT.
func (t ThreadSpec) EffectivePriority() int {
	if t.Priority == nil {
		return model.PriDefault
	}
	return *t.Priority
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	sc.Source = string(data)
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// SchedulingMode returns the scenario's policy, or fallback when unset.
func (sc *Scenario) SchedulingMode(fallback model.SchedulingMode) model.SchedulingMode {
	if sc.Mode == "" {
		return fallback
	}
	mode, _ := model.ParseSchedulingMode(sc.Mode)
	return mode
}

// Validate checks names, ranges and references.
func (sc *Scenario) Validate() error {
	var errs []error
	if sc.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if _, ok := model.ParseSchedulingMode(sc.Mode); !ok {
		errs = append(errs, fmt.Errorf("unknown mode %q", sc.Mode))
	}
	if sc.MainPriority != nil && !model.ValidPriority(*sc.MainPriority) {
		errs = append(errs, fmt.Errorf("main_priority %d out of range", *sc.MainPriority))
	}
	if sc.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("max_ticks must not be negative"))
	}

	objects := map[string]string{}
	declare := func(kind, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("%s with empty name", kind))
			return
		}
		if prev, dup := objects[name]; dup {
			errs = append(errs, fmt.Errorf("%s %q already declared as %s", kind, name, prev))
			return
		}
		objects[name] = kind
	}
	for _, name := range sc.Locks {
		declare("lock", name)
	}
	for name, v := range sc.Semaphores {
		declare("semaphore", name)
		if v < 0 {
			errs = append(errs, fmt.Errorf("semaphore %q has negative value %d", name, v))
		}
	}
	for name, lock := range sc.Conds {
		declare("cond", name)
		if !contains(sc.Locks, lock) {
			errs = append(errs, fmt.Errorf("cond %q uses undeclared lock %q", name, lock))
		}
	}

	threads := map[string]bool{}
	for i, t := range sc.Threads {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("threads[%d]: name is required", i))
		case t.Name == "main" || t.Name == "idle":
			errs = append(errs, fmt.Errorf("threads[%d]: name %q is reserved", i, t.Name))
		case threads[t.Name]:
			errs = append(errs, fmt.Errorf("threads[%d]: duplicate name %q", i, t.Name))
		}
		threads[t.Name] = true
		if !model.ValidPriority(t.EffectivePriority()) {
			errs = append(errs, fmt.Errorf("thread %q: priority %d out of range", t.Name, t.EffectivePriority()))
		}
		if !model.ValidNice(t.Nice) {
			errs = append(errs, fmt.Errorf("thread %q: nice %d out of range", t.Name, t.Nice))
		}
	}

	spawned := map[string]bool{}
	check := func(owner string, script []Op) {
		for i, op := range script {
			if err := op.check(objects, threads); err != nil {
				errs = append(errs, fmt.Errorf("%s script[%d]: %w", owner, i, err))
			}
			if op.Kind == OpSpawn {
				if spawned[op.Name] {
					errs = append(errs, fmt.Errorf("%s script[%d]: thread %q spawned twice", owner, i, op.Name))
				}
				spawned[op.Name] = true
			}
		}
	}
	check("main", sc.Main)
	for _, t := range sc.Threads {
		check(t.Name, t.Script)
	}
	return errors.Join(errs...)
}

// spawnsExplicitly reports whether any script spawns threads itself.
func (sc *Scenario) spawnsExplicitly() bool {
	for _, op := range sc.Main {
		if op.Kind == OpSpawn {
			return true
		}
	}
	for _, t := range sc.Threads {
		for _, op := range t.Script {
			if op.Kind == OpSpawn {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
