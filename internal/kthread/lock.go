package kthread

import "weft/internal/trace"

// Lock is a mutual exclusion lock. Its wait queue transfers priority, so a
// thread holding the lock runs at least at the priority of its waiters.
type Lock struct {
	k         *Kernel
	name      string
	holder    *Thread
	waitQueue ThreadQueue
}

// NewLock creates an unheld lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, waitQueue: k.scheduler.NewThreadQueue(true)}
}

// Name returns the lock's name.
func (l *Lock) Name() string { return l.name }

// Holder returns the thread holding the lock, or nil.
func (l *Lock) Holder() *Thread { return l.holder }

// Acquire blocks until the lock is free and takes it. A thread may not
// acquire a lock it already holds.
func (l *Lock) Acquire() {
	k := l.k
	cur := k.current
	assertf(l.holder != cur, "%s acquires lock %q it already holds", cur, l.name)

	prev := k.interrupt.Disable()
	if l.holder != nil {
		k.emit(trace.ScopeDispatch, "lock-wait", cur, "lock", l.name, "holder", l.holder.String())
		l.waitQueue.WaitForAccess(cur)
		k.Sleep()
	} else {
		l.waitQueue.Acquire(cur)
		l.holder = cur
	}
	assertf(l.holder == cur, "%s woke without lock %q", cur, l.name)
	k.interrupt.Restore(prev)
}

// Release frees the lock and hands it to the next waiter, if any.
func (l *Lock) Release() {
	k := l.k
	assertf(l.IsHeldByCurrentThread(), "%s releases lock %q held by %s", k.current, l.name, l.holder)

	prev := k.interrupt.Disable()
	l.holder = l.waitQueue.NextThread()
	if l.holder != nil {
		k.emit(trace.ScopeDispatch, "lock-handoff", l.holder, "lock", l.name)
		l.holder.Ready()
	}
	k.interrupt.Restore(prev)
}

// IsHeldByCurrentThread reports whether the running thread holds the lock.
func (l *Lock) IsHeldByCurrentThread() bool {
	return l.holder != nil && l.holder == l.k.current
}
