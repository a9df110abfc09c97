// Package donation implements priority donation for blocking locks.
//
// A thread that blocks on a held lock lends its effective priority to the
// holder, and through the holder's own wait to the next holder, so that a
// low-priority holder cannot keep a high-priority waiter off the CPU.
package donation

import (
	"fmt"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Threads is the set of live threads the engine walks.
type Threads interface {
	Len() int
	Each(fn func(*thread.Thread))
}

// ChangeFunc is called after t's effective priority changed from old.
type ChangeFunc func(t *thread.Thread, old int)

// Engine tracks lock-wait chains and keeps effective priorities equal to
// max(base priority, donors' priorities).
type Engine struct {
	threads  Threads
	onChange ChangeFunc
}

// New creates an engine. onChange may be nil.
func New(threads Threads, onChange ChangeFunc) *Engine {
	if onChange == nil {
		onChange = func(*thread.Thread, int) {}
	}
	return &Engine{threads: threads, onChange: onChange}
}

// Block records that waiter is about to block on lock and donates its
// priority along the holder chain. It does nothing if lock is free.
func (e *Engine) Block(waiter *thread.Thread, lock thread.Lock) {
	holder := lock.Holder()
	if holder == nil {
		return
	}
	waiter.WaitOnLock = lock
	if !holder.HasDonor(waiter) {
		holder.Donations = append(holder.Donations, waiter)
	}
	e.Donate(waiter)
}

// Donate raises every holder on waiter's chain to at least waiter's
// priority. The walk stops at the first holder that needs no raise or at a
// lock without holder. A chain leading back to waiter, or longer than the
// number of live threads, is a deadlock or a corrupted wait graph and
// panics with an InvariantError.
func (e *Engine) Donate(waiter *thread.Thread) {
	limit := e.threads.Len()
	cur := waiter
	for steps := 0; cur.WaitOnLock != nil; steps++ {
		if steps >= limit {
			panic(cycle(waiter, cur.WaitOnLock, "chain longer than %d threads", limit))
		}
		holder := cur.WaitOnLock.Holder()
		if holder == nil {
			return
		}
		if holder == waiter {
			panic(cycle(waiter, cur.WaitOnLock, "chain returns to %s", waiter))
		}
		if holder.Priority >= cur.Priority {
			return
		}
		old := holder.Priority
		holder.Priority = cur.Priority
		e.onChange(holder, old)
		cur = holder
	}
}

// Acquired records that t now holds lock. Threads still waiting on lock
// become t's donors.
func (e *Engine) Acquired(t *thread.Thread, lock thread.Lock) {
	t.WaitOnLock = nil
	e.threads.Each(func(w *thread.Thread) {
		if w != t && w.WaitOnLock == lock && !t.HasDonor(w) {
			t.Donations = append(t.Donations, w)
		}
	})
	e.Refresh(t)
}

// Release drops every donor of holder that waits on lock and recomputes
// holder's priority from the donors that remain.
func (e *Engine) Release(holder *thread.Thread, lock thread.Lock) {
	kept := holder.Donations[:0]
	for _, d := range holder.Donations {
		if d.WaitOnLock != lock {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(holder.Donations); i++ {
		holder.Donations[i] = nil
	}
	holder.Donations = kept
	e.Refresh(holder)
}

// Refresh sets t's effective priority to max(base, donors).
func (e *Engine) Refresh(t *thread.Thread) {
	p := t.BasePriority
	for _, d := range t.Donations {
		if d.Priority > p {
			p = d.Priority
		}
	}
	if p != t.Priority {
		old := t.Priority
		t.Priority = p
		e.onChange(t, old)
	}
}

// Forget removes t from every donation list and clears its own. It is
// used when t is torn down.
func (e *Engine) Forget(t *thread.Thread) {
	e.threads.Each(func(h *thread.Thread) {
		for i, d := range h.Donations {
			if d == t {
				h.Donations = append(h.Donations[:i], h.Donations[i+1:]...)
				e.Refresh(h)
				break
			}
		}
	})
	t.Donations = nil
	t.WaitOnLock = nil
}

func cycle(waiter *thread.Thread, lock thread.Lock, format string, args ...any) *model.InvariantError {
	return &model.InvariantError{
		Op:       "donate",
		ThreadID: int(waiter.ID),
		Err:      fmt.Errorf("%w: lock %s: %s", model.ErrDonationCycle, lock.Name(), fmt.Sprintf(format, args...)),
	}
}
