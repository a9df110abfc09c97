// Package thread defines the thread control block and the registry of all
// live threads.
//
// The scheduling fields of a Thread are owned by the scheduler subsystem
// and are only mutated with interrupts disabled.
package thread

import (
	"fmt"

	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/pkg/model"
)

// ID identifies a thread. IDs are assigned monotonically and never reused.
type ID int

// IDError is the id returned by a failed spawn.
const IDError ID = -1

// Magic is stored in every live thread control block. A different value
// means the block was overwritten, usually by a kernel stack overflow.
const Magic uint32 = 0xcd6abf4b

// Lock is the view of a blocking lock the scheduler needs for donation.
type Lock interface {
	// Holder returns the thread holding the lock, or nil.
	Holder() *Thread
	// Name identifies the lock in diagnostics.
	Name() string
}

// QueueKind names the collection a thread is linked into.
type QueueKind uint8

const (
	// QueueNone means the thread is on no queue: running, dying or
	// not yet started.
	QueueNone QueueKind = iota
	// QueueReady is the scheduler's ready queue.
	QueueReady
	// QueueWait is a semaphore or condition variable wait list.
	QueueWait
	// QueueSleep is the timer-wake list.
	QueueSleep
)

func (k QueueKind) String() string {
	switch k {
	case QueueNone:
		return "none"
	case QueueReady:
		return "ready"
	case QueueWait:
		return "wait"
	case QueueSleep:
		return "sleep"
	}
	return fmt.Sprintf("QueueKind(%d)", uint8(k))
}

// Membership records the single queue a thread is linked into.
// Index is the heap position for the ready and sleep queues; Seq is the
// insertion sequence used to keep equal keys in FIFO order.
type Membership struct {
	Kind  QueueKind
	Index int
	Seq   uint64
}

// Thread is a thread control block.
type Thread struct {
	ID     ID
	Name   string
	Magic  uint32
	Status model.ThreadStatus

	// BasePriority is the priority set at creation or by SetPriority.
	// Priority is the effective priority, raised above BasePriority only
	// by donation.
	BasePriority int
	Priority     int

	// WaitOnLock is the lock this thread is blocked acquiring.
	WaitOnLock Lock
	// Donations lists the threads blocked on locks this thread holds.
	Donations []*Thread

	// Feedback-queue scheduler state.
	Nice      int
	RecentCPU fixedpoint.Fixed

	// WakeupTick is meaningful only while the thread sleeps.
	WakeupTick int64

	Member Membership

	Entry func(arg any)
	Arg   any

	// Frame is owned by the CPU implementation and holds whatever it
	// needs to resume the thread.
	Frame any

	SliceTicks  int
	RunTicks    int64
	CreatedTick int64
	ExitTick    int64
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.Name, t.ID)
}

// IsCorrupted reports whether the stack-overflow guard was overwritten.
func (t *Thread) IsCorrupted() bool {
	return t.Magic != Magic
}

// Linked reports whether the thread is a member of any queue.
func (t *Thread) Linked() bool {
	return t.Member.Kind != QueueNone
}

// Unlink clears the queue membership.
func (t *Thread) Unlink() {
	t.Member = Membership{Index: -1}
}

// HasDonor reports whether d is in the donation list.
func (t *Thread) HasDonor(d *Thread) bool {
	for _, x := range t.Donations {
		if x == d {
			return true
		}
	}
	return false
}

// Info returns a snapshot of the thread.
func (t *Thread) Info() model.ThreadInfo {
	info := model.ThreadInfo{
		ID:           int(t.ID),
		Name:         t.Name,
		Status:       t.Status,
		BasePriority: t.BasePriority,
		Priority:     t.Priority,
		Nice:         t.Nice,
		RecentCPU:    t.RecentCPU.Hundredths(),
		RunTicks:     t.RunTicks,
		CreatedTick:  t.CreatedTick,
	}
	if t.WaitOnLock != nil {
		info.WaitingOn = t.WaitOnLock.Name()
	}
	for _, d := range t.Donations {
		info.Donors = append(info.Donors, int(d.ID))
	}
	if t.Status == model.ThreadDying {
		exit := t.ExitTick
		info.ExitTick = &exit
	}
	return info
}
