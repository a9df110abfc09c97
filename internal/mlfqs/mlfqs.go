// Package mlfqs implements the arithmetic and cadence of the multi-level
// feedback queue scheduler: load_avg, recent_cpu and the priorities derived
// from them.
package mlfqs

import (
	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// RecomputeInterval is the number of ticks between priority recomputations.
const RecomputeInterval = 4

// Priority computes PRI_MAX - recent_cpu/4 - 2*nice, truncated and clamped
// to [PRI_MIN, PRI_MAX].
func Priority(recentCPU fixedpoint.Fixed, nice int) int {
	p := fixedpoint.FromInt(model.PriMax).Sub(recentCPU.DivInt(4)).SubInt(nice * 2).Int()
	if p < model.PriMin {
		return model.PriMin
	}
	if p > model.PriMax {
		return model.PriMax
	}
	return p
}

// DecayRecentCPU computes (2*load_avg)/(2*load_avg+1) * recent_cpu + nice.
func DecayRecentCPU(loadAvg, recentCPU fixedpoint.Fixed, nice int) fixedpoint.Fixed {
	twice := loadAvg.MulInt(2)
	return twice.Div(twice.AddInt(1)).Mul(recentCPU).AddInt(nice)
}

// UpdateLoadAvg computes (59/60)*load_avg + (1/60)*ready.
func UpdateLoadAvg(loadAvg fixedpoint.Fixed, ready int) fixedpoint.Fixed {
	return loadAvg.MulDivInt(59, 60).Add(fixedpoint.FromInt(ready).DivInt(60))
}

// Threads is the set of threads whose state the engine recomputes.
type Threads interface {
	Each(fn func(*thread.Thread))
}

// Engine owns the system load average and drives the periodic updates.
type Engine struct {
	loadAvg   fixedpoint.Fixed
	timerFreq int64
}

// NewEngine creates an engine for a timer firing timerFreq times a second.
func NewEngine(timerFreq int) *Engine {
	if timerFreq <= 0 {
		timerFreq = 100
	}
	return &Engine{timerFreq: int64(timerFreq)}
}

// LoadAvg returns the current load average.
func (e *Engine) LoadAvg() fixedpoint.Fixed {
	return e.loadAvg
}

// Tick applies the updates due at tick now. running is nil while the idle
// thread runs; ready counts the ready threads plus the running one unless
// it is idle. idle, if non-nil, is excluded from recomputation.
//
// Once a second load_avg is updated before recent_cpu is decayed, and both
// happen before the priority recomputation due on the same tick. Tick
// reports whether priorities were recomputed.
func (e *Engine) Tick(now int64, running *thread.Thread, ready int, threads Threads, idle *thread.Thread) bool {
	if running != nil && running != idle {
		running.RecentCPU = running.RecentCPU.AddInt(1)
	}
	if now%e.timerFreq == 0 {
		e.loadAvg = UpdateLoadAvg(e.loadAvg, ready)
		threads.Each(func(t *thread.Thread) {
			if t != idle {
				t.RecentCPU = DecayRecentCPU(e.loadAvg, t.RecentCPU, t.Nice)
			}
		})
	}
	if now%RecomputeInterval != 0 {
		return false
	}
	threads.Each(func(t *thread.Thread) {
		if t != idle {
			e.Recompute(t)
		}
	})
	return true
}

// Recompute sets t's priority from its recent_cpu and nice and reports
// whether it changed. Base and effective priority are kept equal: there is
// no donation under this policy.
func (e *Engine) Recompute(t *thread.Thread) bool {
	p := Priority(t.RecentCPU, t.Nice)
	changed := p != t.Priority
	t.BasePriority = p
	t.Priority = p
	return changed
}

// Inherit initializes a new thread from its parent, as 4.4BSD does: the
// child starts with the parent's nice and recent_cpu.
func (e *Engine) Inherit(child, parent *thread.Thread) {
	if parent != nil {
		child.Nice = parent.Nice
		child.RecentCPU = parent.RecentCPU
	}
	e.Recompute(child)
}
