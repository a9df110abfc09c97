package donation

import (
	"errors"
	"testing"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	name   string
	holder *thread.Thread
}

func (l *fakeLock) Holder() *thread.Thread { return l.holder }
func (l *fakeLock) Name() string           { return l.name }

type change struct {
	name     string
	old, new int
}

func setup(t *testing.T) (*thread.Registry, *Engine, *[]change) {
	t.Helper()
	reg := thread.NewRegistry(0)
	var changes []change
	e := New(reg, func(th *thread.Thread, old int) {
		changes = append(changes, change{th.Name, old, th.Priority})
	})
	return reg, e, &changes
}

func spawn(t *testing.T, reg *thread.Registry, name string, prio int) *thread.Thread {
	t.Helper()
	th, err := reg.Allocate(name, prio)
	require.NoError(t, err)
	return th
}

func TestBlock_FreeLockNoDonation(t *testing.T) {
	reg, e, changes := setup(t)
	w := spawn(t, reg, "w", 40)
	l := &fakeLock{name: "l"}

	e.Block(w, l)
	assert.Nil(t, w.WaitOnLock)
	assert.Empty(t, *changes)
}

func TestBlock_SingleDonation(t *testing.T) {
	reg, e, changes := setup(t)
	low := spawn(t, reg, "low", 10)
	high := spawn(t, reg, "high", 50)
	l := &fakeLock{name: "l", holder: low}

	e.Block(high, l)
	assert.Equal(t, 50, low.Priority)
	assert.Equal(t, 10, low.BasePriority)
	assert.Same(t, l, high.WaitOnLock)
	assert.True(t, low.HasDonor(high))
	assert.Equal(t, []change{{"low", 10, 50}}, *changes)

	// A lower waiter changes nothing.
	mid := spawn(t, reg, "mid", 20)
	e.Block(mid, l)
	assert.Equal(t, 50, low.Priority)
	assert.Len(t, low.Donations, 2)
	assert.Len(t, *changes, 1)
}

func TestNestedDonationAndRevert(t *testing.T) {
	reg, e, _ := setup(t)
	low := spawn(t, reg, "low", 10)
	mid := spawn(t, reg, "mid", 20)
	high := spawn(t, reg, "high", 30)

	l := &fakeLock{name: "L", holder: low}
	m := &fakeLock{name: "M", holder: mid}

	e.Block(mid, l) // mid holds M, waits for L
	assert.Equal(t, 20, low.Priority)

	e.Block(high, m) // high waits for M
	assert.Equal(t, 30, mid.Priority)
	assert.Equal(t, 30, low.Priority)

	// low releases L; mid takes it.
	e.Release(low, l)
	assert.Equal(t, 10, low.Priority)
	l.holder = mid
	e.Acquired(mid, l)
	assert.Nil(t, mid.WaitOnLock)
	assert.Equal(t, 30, mid.Priority)

	// mid releases M to high and then L: back to its base.
	e.Release(mid, m)
	assert.Equal(t, 20, mid.Priority)
	e.Release(mid, l)
	assert.Equal(t, 20, mid.Priority)
	assert.Empty(t, mid.Donations)
}

func TestRelease_KeepsOtherDonors(t *testing.T) {
	reg, e, _ := setup(t)
	holder := spawn(t, reg, "holder", 10)
	a := spawn(t, reg, "a", 40)
	b := spawn(t, reg, "b", 50)
	l1 := &fakeLock{name: "l1", holder: holder}
	l2 := &fakeLock{name: "l2", holder: holder}

	e.Block(a, l1)
	e.Block(b, l2)
	assert.Equal(t, 50, holder.Priority)

	e.Release(holder, l2)
	assert.Equal(t, 40, holder.Priority, "remaining donor still counts")
	assert.Equal(t, []*thread.Thread{a}, holder.Donations)

	e.Release(holder, l1)
	assert.Equal(t, 10, holder.Priority)
}

func TestAcquired_InheritsRemainingWaiters(t *testing.T) {
	reg, e, _ := setup(t)
	holder := spawn(t, reg, "holder", 10)
	first := spawn(t, reg, "first", 40)
	second := spawn(t, reg, "second", 45)
	l := &fakeLock{name: "l", holder: holder}

	e.Block(first, l)
	e.Block(second, l)
	e.Release(holder, l)

	// first wins the lock; second keeps waiting and now donates to first.
	l.holder = first
	e.Acquired(first, l)
	assert.Equal(t, []*thread.Thread{second}, first.Donations)
	assert.Equal(t, 45, first.Priority)
	assert.Equal(t, 40, first.BasePriority)
}

func TestRefresh_BaseChange(t *testing.T) {
	reg, e, _ := setup(t)
	holder := spawn(t, reg, "holder", 10)
	w := spawn(t, reg, "w", 30)
	e.Block(w, &fakeLock{name: "l", holder: holder})

	holder.BasePriority = 40
	e.Refresh(holder)
	assert.Equal(t, 40, holder.Priority)

	holder.BasePriority = 5
	e.Refresh(holder)
	assert.Equal(t, 30, holder.Priority)
}

func TestDonate_CycleIsInvariantViolation(t *testing.T) {
	reg, e, _ := setup(t)
	a := spawn(t, reg, "a", 10)
	w := spawn(t, reg, "w", 50)

	held := &fakeLock{name: "held-by-w", holder: w}
	other := &fakeLock{name: "held-by-a", holder: a}
	a.WaitOnLock = held // a already waits for w

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, model.ErrDonationCycle))
		var inv *model.InvariantError
		require.True(t, errors.As(err, &inv))
		assert.Equal(t, int(w.ID), inv.ThreadID)
	}()
	e.Block(w, other)
}

type shortCount struct{ *thread.Registry }

func (shortCount) Len() int { return 1 }

func TestDonate_StepBound(t *testing.T) {
	reg := thread.NewRegistry(0)
	e := New(shortCount{reg}, nil)
	a := spawn(t, reg, "a", 10)
	b := spawn(t, reg, "b", 20)
	w := spawn(t, reg, "w", 50)

	lb := &fakeLock{name: "lb", holder: b}
	la := &fakeLock{name: "la", holder: a}
	a.WaitOnLock = lb

	assert.PanicsWithError(t,
		"kernel panic in donate (thread 3): donation chain does not terminate: lock lb: chain longer than 1 threads",
		func() { e.Block(w, la) })
}

func TestForget(t *testing.T) {
	reg, e, _ := setup(t)
	holder := spawn(t, reg, "holder", 10)
	w := spawn(t, reg, "w", 30)
	e.Block(w, &fakeLock{name: "l", holder: holder})

	e.Forget(w)
	assert.Empty(t, holder.Donations)
	assert.Equal(t, 10, holder.Priority)
	assert.Nil(t, w.WaitOnLock)
}
