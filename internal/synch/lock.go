package synch

import (
	"fmt"

	"github.com/me/kthreads/internal/thread"
	"github.com/me/kthreads/pkg/model"
)

// Lock is a non-recursive mutual exclusion lock owned by one thread at a
// time. A thread that blocks on a held lock donates its priority to the
// holder.
type Lock struct {
	k      Kernel
	name   string
	holder *thread.Thread
	sema   *Semaphore
}

// NewLock creates an unheld lock.
func NewLock(k Kernel, name string) *Lock {
	return &Lock{k: k, name: name, sema: NewSemaphore(k, name, 1)}
}

// Name returns the lock's name.
func (l *Lock) Name() string {
	return l.name
}

// Holder returns the thread holding the lock, or nil.
func (l *Lock) Holder() *thread.Thread {
	return l.holder
}

// HeldByCurrent reports whether the running thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.k.Current()
}

// Acquire blocks until the lock is free and takes it.
func (l *Lock) Acquire() {
	in := l.k.Intr()
	old := in.Disable()
	cur := l.k.Current()
	if l.holder == cur {
		panic(l.misuse("acquire", cur, model.ErrLockRecursive))
	}
	if l.holder != nil {
		l.k.LockWillBlock(l)
	}
	l.sema.Down()
	l.holder = cur
	l.k.LockAcquired(l)
	in.SetLevel(old)
}

// TryAcquire takes the lock if it is free, without blocking.
func (l *Lock) TryAcquire() bool {
	in := l.k.Intr()
	old := in.Disable()
	defer in.SetLevel(old)
	cur := l.k.Current()
	if l.holder == cur {
		panic(l.misuse("try acquire", cur, model.ErrLockRecursive))
	}
	if !l.sema.TryDown() {
		return false
	}
	l.holder = cur
	l.k.LockAcquired(l)
	return true
}

// Release gives the lock up. Priority donated through the lock is
// returned, and the highest-priority waiter is woken.
func (l *Lock) Release() {
	in := l.k.Intr()
	old := in.Disable()
	cur := l.k.Current()
	if l.holder != cur {
		panic(l.misuse("release", cur, model.ErrLockNotHeld))
	}
	l.k.LockReleased(l)
	l.holder = nil
	l.sema.Up()
	in.SetLevel(old)
}

func (l *Lock) misuse(op string, t *thread.Thread, err error) *model.InvariantError {
	return &model.InvariantError{
		Op:       "lock " + op,
		ThreadID: int(t.ID),
		Err:      fmt.Errorf("%w: %s", err, l.name),
	}
}
