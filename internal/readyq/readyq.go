// Package readyq implements the ready queue: runnable threads ordered by
// effective priority, first-in first-out among equal priorities.
package readyq

import (
	"container/heap"

	"github.com/me/kthreads/internal/thread"
)

// Queue is a priority queue of READY threads. It is not safe for
// concurrent use; callers run with interrupts disabled.
type Queue struct {
	h   threadHeap
	seq uint64
}

// New creates an empty ready queue.
func New() *Queue {
	return &Queue{}
}

// Insert adds t behind every queued thread of the same priority.
// t must not be linked into any other queue.
func (q *Queue) Insert(t *thread.Thread) {
	if t.Linked() {
		panic("readyq: insert of linked thread " + t.String())
	}
	q.seq++
	t.Member = thread.Membership{Kind: thread.QueueReady, Seq: q.seq}
	heap.Push(&q.h, t)
}

// PopHighest removes and returns the highest-priority thread.
// The second result is false when the queue is empty.
func (q *Queue) PopHighest() (*thread.Thread, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	t := heap.Pop(&q.h).(*thread.Thread)
	t.Unlink()
	return t, true
}

// Peek returns the thread PopHighest would return without removing it.
func (q *Queue) Peek() (*thread.Thread, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

// Reorder restores heap order after t's priority changed. t keeps its
// insertion sequence, so among threads of its new priority it sits where
// its original insertion puts it. It reports whether t was queued.
func (q *Queue) Reorder(t *thread.Thread) bool {
	if !q.contains(t) {
		return false
	}
	heap.Fix(&q.h, t.Member.Index)
	return true
}

// Rebuild restores heap order after many priorities changed at once.
func (q *Queue) Rebuild() {
	heap.Init(&q.h)
}

// Len returns the number of queued threads.
func (q *Queue) Len() int {
	return len(q.h)
}

// Each calls fn for every queued thread in no particular order.
// fn must not change priorities; call Rebuild afterwards if it does.
func (q *Queue) Each(fn func(*thread.Thread)) {
	for _, t := range q.h {
		fn(t)
	}
}

// Snapshot returns the queued threads in dispatch order.
func (q *Queue) Snapshot() []*thread.Thread {
	cp := make(threadHeap, len(q.h))
	copy(cp, q.h)
	out := make([]*thread.Thread, 0, len(cp))
	// Sort the copy without touching the Member.Index of queued threads.
	for len(cp) > 0 {
		best := 0
		for i := 1; i < len(cp); i++ {
			if before(cp[i], cp[best]) {
				best = i
			}
		}
		out = append(out, cp[best])
		cp = append(cp[:best], cp[best+1:]...)
	}
	return out
}

func (q *Queue) contains(t *thread.Thread) bool {
	i := t.Member.Index
	return t.Member.Kind == thread.QueueReady && i >= 0 && i < len(q.h) && q.h[i] == t
}

// before reports whether a is dispatched ahead of b.
func before(a, b *thread.Thread) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Member.Seq < b.Member.Seq
}

// threadHeap implements heap.Interface.
type threadHeap []*thread.Thread

func (h threadHeap) Len() int           { return len(h) }
func (h threadHeap) Less(i, j int) bool { return before(h[i], h[j]) }

func (h threadHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Member.Index = i
	h[j].Member.Index = j
}

func (h *threadHeap) Push(x any) {
	t := x.(*thread.Thread)
	t.Member.Index = len(*h)
	*h = append(*h, t)
}

func (h *threadHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.Member.Index = -1
	*h = old[:n-1]
	return t
}
