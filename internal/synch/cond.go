package synch

import (
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Cond is a condition variable used with a Lock (Mesa semantics: a
// signalled waiter re-acquires the lock and must re-check its condition).
type Cond struct {
	k       Kernel
	name    string
	waiters []*condWaiter
}

type condWaiter struct {
	t    *thread.Thread
	sema *Semaphore
}

// NewCond creates a condition variable.
func NewCond(k Kernel, name string) *Cond {
	return &Cond{k: k, name: name}
}

// Wait atomically releases l and waits to be signalled, then re-acquires
// l before returning. The caller must hold l.
func (c *Cond) Wait(l *Lock) {
	cur := l.k.Current()
	if l.holder != cur {
		panic(l.misuse("cond wait", cur, model.ErrLockNotHeld))
	}
	w := &condWaiter{t: cur, sema: NewSemaphore(c.k, c.name, 0)}
	c.waiters = append(c.waiters, w)
	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. The caller must hold l.
func (c *Cond) Signal(l *Lock) {
	cur := l.k.Current()
	if l.holder != cur {
		panic(l.misuse("cond signal", cur, model.ErrLockNotHeld))
	}
	if len(c.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range c.waiters[1:] {
		if w.t.Priority > c.waiters[best].t.Priority {
			best = i + 1
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	w.sema.Up()
}

// Broadcast wakes every waiter. The caller must hold l.
func (c *Cond) Broadcast(l *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}

// Waiters returns the number of waiting threads.
func (c *Cond) Waiters() int {
	return len(c.waiters)
}
