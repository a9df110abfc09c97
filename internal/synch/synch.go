// Package synch implements the kernel's blocking synchronization
// primitives on top of the scheduler: counting semaphores, locks with
// priority donation, and condition variables.
//
// Waiters are released highest effective priority first and in arrival
// order among equals. Priorities are compared when a waiter is released,
// so donations received while waiting are honoured.
package synch

import (
	"fmt"

	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Kernel is the part of the scheduler the primitives use.
type Kernel interface {
	Intr() *intr.Controller
	Current() *thread.Thread
	Block()
	Unblock(t *thread.Thread)
	CheckPreemption()

	LockWillBlock(lock thread.Lock)
	LockAcquired(lock thread.Lock)
	LockReleased(lock thread.Lock)
}

// waitList holds blocked threads in arrival order.
type waitList struct {
	threads []*thread.Thread
	seq     uint64
}

func (w *waitList) push(t *thread.Thread) {
	if t.Linked() {
		panic(&model.InvariantError{
			Op:       "wait",
			ThreadID: int(t.ID),
			Err:      fmt.Errorf("%w: %s on %s queue", model.ErrQueueMembership, t, t.Member.Kind),
		})
	}
	w.seq++
	t.Member = thread.Membership{Kind: thread.QueueWait, Index: -1, Seq: w.seq}
	w.threads = append(w.threads, t)
}

// popHighest removes the first waiter of highest effective priority.
func (w *waitList) popHighest() (*thread.Thread, bool) {
	if len(w.threads) == 0 {
		return nil, false
	}
	best := 0
	for i, t := range w.threads[1:] {
		if t.Priority > w.threads[best].Priority {
			best = i + 1
		}
	}
	t := w.threads[best]
	w.threads = append(w.threads[:best], w.threads[best+1:]...)
	t.Unlink()
	return t, true
}

func (w *waitList) len() int {
	return len(w.threads)
}
