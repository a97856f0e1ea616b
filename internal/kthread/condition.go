package kthread

import (
	"slices"

	"weft/internal/trace"
)

// Condition is a condition variable over a Lock. Waiters are woken in the
// order they went to sleep, without priority transfer.
type Condition struct {
	name    string
	lock    *Lock
	waiters []*Thread
}

// NewCondition creates a condition variable bound to lock.
func NewCondition(name string, lock *Lock) *Condition {
	assertf(lock != nil, "condition %q needs a lock", name)
	return &Condition{name: name, lock: lock}
}

// Name returns the condition's name.
func (c *Condition) Name() string { return c.name }

// Lock returns the lock the condition is bound to.
func (c *Condition) Lock() *Lock { return c.lock }

// Sleep releases the lock and blocks until woken, then reacquires the lock
// before returning. Release and block are atomic with respect to other
// threads. The caller must hold the lock.
func (c *Condition) Sleep() {
	k := c.lock.k
	assertf(c.lock.IsHeldByCurrentThread(), "%s sleeps on %q without holding %q", k.current, c.name, c.lock.name)

	prev := k.interrupt.Disable()
	cur := k.current
	c.lock.Release()
	c.waiters = append(c.waiters, cur)
	k.emit(trace.ScopeDispatch, "cond-wait", cur, "cond", c.name)
	k.Sleep()
	k.interrupt.Restore(prev)

	c.lock.Acquire()
}

// Wake readies the longest waiting thread. It does nothing when no thread
// waits. The caller must hold the lock.
func (c *Condition) Wake() {
	k := c.lock.k
	assertf(c.lock.IsHeldByCurrentThread(), "%s wakes %q without holding %q", k.current, c.name, c.lock.name)

	prev := k.interrupt.Disable()
	if len(c.waiters) > 0 {
		t := c.waiters[0]
		c.waiters = slices.Delete(c.waiters, 0, 1)
		k.emit(trace.ScopeDispatch, "cond-wake", t, "cond", c.name)
		t.Ready()
	}
	k.interrupt.Restore(prev)
}

// WakeAll readies every waiting thread in the order they slept.
func (c *Condition) WakeAll() {
	k := c.lock.k
	assertf(c.lock.IsHeldByCurrentThread(), "%s wakes %q without holding %q", k.current, c.name, c.lock.name)

	prev := k.interrupt.Disable()
	for len(c.waiters) > 0 {
		c.Wake()
	}
	k.interrupt.Restore(prev)
}

// Waiters returns the sleeping threads, longest waiting first.
func (c *Condition) Waiters() []*Thread {
	return slices.Clone(c.waiters)
}
