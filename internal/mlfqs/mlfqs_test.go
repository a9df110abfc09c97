package mlfqs

import (
	"fmt"
	"testing"

	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority(t *testing.T) {
	tests := []struct {
		name      string
		recentCPU fixedpoint.Fixed
		nice      int
		want      int
	}{
		{"fresh thread", 0, 0, 63},
		{"some cpu", fixedpoint.FromInt(40), 0, 53},
		{"fractional cpu truncates", fixedpoint.FromInt(41), 0, 52},
		{"nice", 0, 20, 23},
		{"clamped low", fixedpoint.FromInt(400), 0, model.PriMin},
		{"clamped high", 0, -20, model.PriMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Priority(tt.recentCPU, tt.nice))
		})
	}
}

func TestPriority_NiceNeverRaisesPriority(t *testing.T) {
	for _, rc := range []int{0, 3, 17, 90} {
		for n := model.NiceMin; n < model.NiceMax; n++ {
			lo := Priority(fixedpoint.FromInt(rc), n)
			hi := Priority(fixedpoint.FromInt(rc), n+1)
			assert.LessOrEqual(t, hi, lo, "recent_cpu=%d nice=%d", rc, n)
		}
	}
}

func TestDecayRecentCPU(t *testing.T) {
	// With no load the history is forgotten entirely.
	assert.Equal(t, 5, DecayRecentCPU(0, fixedpoint.FromInt(30), 5).Round())

	// load_avg 1: coefficient 2/3.
	assert.Equal(t, 20, DecayRecentCPU(fixedpoint.One, fixedpoint.FromInt(30), 0).Round())
	assert.Equal(t, 18, DecayRecentCPU(fixedpoint.One, fixedpoint.FromInt(30), -2).Round())
}

func TestUpdateLoadAvg_ConvergesTowardReadyCount(t *testing.T) {
	var load fixedpoint.Fixed
	prev := load
	for sec := 0; sec < 60; sec++ {
		load = UpdateLoadAvg(load, 1)
		require.Greater(t, load, prev, "load_avg must rise at second %d", sec)
		prev = load
	}
	got := load.Hundredths()
	assert.GreaterOrEqual(t, got, 60)
	assert.LessOrEqual(t, got, 66)

	for sec := 60; sec < 600; sec++ {
		load = UpdateLoadAvg(load, 1)
	}
	assert.GreaterOrEqual(t, load.Hundredths(), 99)
	assert.LessOrEqual(t, load.Hundredths(), 100)
}

type threadList []*thread.Thread

func (l threadList) Each(fn func(*thread.Thread)) {
	for _, t := range l {
		fn(t)
	}
}

func TestEngineTick_Cadence(t *testing.T) {
	reg := thread.NewRegistry(0)
	run, _ := reg.Allocate("run", model.PriDefault)
	other, _ := reg.Allocate("other", model.PriDefault)
	idle, _ := reg.Allocate("idle", model.PriMin)
	other.Nice = 10
	all := threadList{run, other, idle}

	e := NewEngine(100)
	for now := int64(1); now <= 3; now++ {
		assert.False(t, e.Tick(now, run, 2, all, idle))
	}
	assert.Equal(t, 3, run.RecentCPU.Round())
	assert.True(t, e.Tick(4, run, 2, all, idle))
	assert.Equal(t, 4, run.RecentCPU.Round())
	assert.Equal(t, 62, run.Priority)
	assert.Equal(t, 62, run.BasePriority)
	assert.Equal(t, 43, other.Priority)
	assert.Equal(t, model.PriMin, idle.Priority, "idle is never recomputed")

	for now := int64(5); now < 100; now++ {
		e.Tick(now, run, 2, all, idle)
	}
	assert.Equal(t, fixedpoint.Fixed(0), e.LoadAvg())
	e.Tick(100, run, 2, all, idle)
	// load_avg = 2/60
	assert.Equal(t, 3, e.LoadAvg().Hundredths())
	assert.Equal(t, fixedpoint.Fixed(0), idle.RecentCPU)
}

func TestEngineTick_IdleDoesNotAccumulate(t *testing.T) {
	reg := thread.NewRegistry(0)
	idle, _ := reg.Allocate("idle", model.PriMin)
	e := NewEngine(100)
	e.Tick(1, nil, 0, threadList{idle}, idle)
	e.Tick(2, idle, 0, threadList{idle}, idle)
	assert.Equal(t, fixedpoint.Fixed(0), idle.RecentCPU)
}

func TestInherit(t *testing.T) {
	reg := thread.NewRegistry(0)
	parent, _ := reg.Allocate("parent", model.PriDefault)
	child, _ := reg.Allocate("child", model.PriDefault)
	parent.Nice = 4
	parent.RecentCPU = fixedpoint.FromInt(8)

	e := NewEngine(100)
	e.Inherit(child, parent)
	assert.Equal(t, 4, child.Nice)
	assert.Equal(t, parent.RecentCPU, child.RecentCPU)
	assert.Equal(t, 63-2-8, child.Priority)
}

func TestEngineTick_HeavyLoadStaysInRange(t *testing.T) {
	reg := thread.NewRegistry(0)
	var all threadList
	for i := 0; i < 30; i++ {
		th, err := reg.Allocate(fmt.Sprintf("t%02d", i), model.PriDefault)
		require.NoError(t, err)
		th.Nice = model.NiceMax
		all = append(all, th)
	}
	hog := all[0]

	e := NewEngine(100)
	for now := int64(1); now <= 60000; now++ {
		e.Tick(now, hog, len(all), all, nil)
	}

	load := e.LoadAvg()
	assert.GreaterOrEqual(t, load.Hundredths(), 2990)
	assert.LessOrEqual(t, load.Hundredths(), 3000)

	require.Greater(t, hog.RecentCPU.Float64(), 1311.0, "recent_cpu must pass the point where 100x overflows 32 bits")
	assert.InDelta(t, hog.RecentCPU.Float64()*100, float64(hog.RecentCPU.Hundredths()), 1)
	for _, th := range all {
		assert.Positive(t, th.RecentCPU.Hundredths(), th.Name)
		assert.Equal(t, model.PriMin, th.Priority, th.Name)
	}
}

func TestUpdateLoadAvg_LargeLoad(t *testing.T) {
	got := UpdateLoadAvg(fixedpoint.FromInt(2500), 0)
	assert.Equal(t, 245833, got.Hundredths())
}
