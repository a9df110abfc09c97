// Package sleepq implements the timer-wake list: threads sleeping until a
// tick deadline, ordered by deadline.
package sleepq

import (
	"container/heap"

	"github.com/me/kthreads/internal/thread"
)

// List holds sleeping threads keyed by WakeupTick. It never suspends and
// is safe to use from the timer interrupt handler.
type List struct {
	h   sleepHeap
	seq uint64
}

// New creates an empty list.
func New() *List {
	return &List{}
}

// Add links t, whose WakeupTick is already set, into the list.
func (l *List) Add(t *thread.Thread) {
	if t.Linked() {
		panic("sleepq: add of linked thread " + t.String())
	}
	l.seq++
	t.Member = thread.Membership{Kind: thread.QueueSleep, Seq: l.seq}
	heap.Push(&l.h, t)
}

// Expired removes and returns every thread whose WakeupTick <= now, earliest
// deadline first. Threads sharing a deadline come out in the order they
// went to sleep.
func (l *List) Expired(now int64) []*thread.Thread {
	var out []*thread.Thread
	for len(l.h) > 0 && l.h[0].WakeupTick <= now {
		t := heap.Pop(&l.h).(*thread.Thread)
		t.Unlink()
		out = append(out, t)
	}
	return out
}

// Len returns the number of sleeping threads.
func (l *List) Len() int {
	return len(l.h)
}

// NextWakeup returns the earliest deadline.
func (l *List) NextWakeup() (int64, bool) {
	if len(l.h) == 0 {
		return 0, false
	}
	return l.h[0].WakeupTick, true
}

type sleepHeap []*thread.Thread

func (h sleepHeap) Len() int { return len(h) }

func (h sleepHeap) Less(i, j int) bool {
	if h[i].WakeupTick != h[j].WakeupTick {
		return h[i].WakeupTick < h[j].WakeupTick
	}
	return h[i].Member.Seq < h[j].Member.Seq
}

func (h sleepHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Member.Index = i
	h[j].Member.Index = j
}

func (h *sleepHeap) Push(x any) {
	t := x.(*thread.Thread)
	t.Member.Index = len(*h)
	*h = append(*h, t)
}

func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.Member.Index = -1
	*h = old[:n-1]
	return t
}
