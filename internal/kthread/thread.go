package kthread

import (
	"fmt"

	"weft/internal/trace"
)

// ThreadID identifies a thread. IDs are assigned in creation order and break
// ties deterministically.
type ThreadID uint64

// Status is a thread's lifecycle state.
type Status uint8

const (
	StatusNew Status = iota
	StatusReady
	StatusRunning
	StatusBlocked
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Thread is one schedulable unit of kernel execution.
type Thread struct {
	k      *Kernel
	id     ThreadID
	name   string
	status Status
	target func()
	tcb    *tcb

	joinQueue  ThreadQueue
	forkedAt   uint64
	finishedAt uint64
}

// ID returns the thread's unique id.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the thread's display name.
func (t *Thread) Name() string { return t.name }

// SetName renames the thread. Names are for diagnostics only.
func (t *Thread) SetName(name string) *Thread {
	t.name = name
	return t
}

// Status returns the lifecycle state.
func (t *Thread) Status() Status { return t.status }

// FinishedAt returns the tick at which the thread finished, or 0.
func (t *Thread) FinishedAt() uint64 { return t.finishedAt }

// ForkedAt returns the tick at which the thread was forked, or 0.
func (t *Thread) ForkedAt() uint64 { return t.forkedAt }

func (t *Thread) String() string {
	if t == nil {
		return "<nil thread>"
	}
	return fmt.Sprintf("%s (#%d)", t.name, t.id)
}

// SetTarget sets the function the thread runs once dispatched.
func (t *Thread) SetTarget(target func()) *Thread {
	assertf(t.status == StatusNew, "cannot retarget %s in state %s", t, t.status)
	t.target = target
	return t
}

// Fork makes a new thread ready to run. The caller returns immediately and
// the thread starts when the dispatcher selects it.
func (t *Thread) Fork() {
	k := t.k
	assertf(t.status == StatusNew, "cannot fork %s in state %s", t, t.status)
	assertf(t.target != nil, "cannot fork %s without a target", t)

	prev := k.interrupt.Disable()
	k.emit(trace.ScopeThread, "fork", t)
	t.forkedAt = k.clock.Now()
	t.tcb = newTCB()
	t.tcb.start(k, t, t.runThread)
	t.Ready()
	k.interrupt.Restore(prev)
}

func (t *Thread) runThread() {
	t.begin()
	t.target()
	t.k.Finish()
}

func (t *Thread) begin() {
	k := t.k
	assertf(t == k.current, "%s began running but %s is current", t, k.current)
	k.emit(trace.ScopeDispatch, "begin", t)
	t.restoreState()
	k.interrupt.Enable()
}

// Ready moves a blocked or new thread to the ready set. The idle thread is
// never placed in the ready set.
func (t *Thread) Ready() {
	k := t.k
	k.interrupt.assertDisabled("ready")
	assertf(t.status != StatusReady, "%s is already ready", t)
	assertf(t.status != StatusFinished, "%s has finished", t)

	k.emit(trace.ScopeDispatch, "ready", t)
	t.status = StatusReady
	if t != k.idle {
		k.readyQueue.WaitForAccess(t)
		k.runnable++
	}
}

// Join blocks the current thread until t has finished. It returns at once
// when t already finished. A thread cannot join itself.
func (t *Thread) Join() {
	k := t.k
	cur := k.current
	assertf(t != cur, "%s cannot join itself", t)

	prev := k.interrupt.Disable()
	k.emit(trace.ScopeThread, "join", cur, "target", t.String())
	for t.status != StatusFinished {
		t.joiners().WaitForAccess(cur)
		k.Sleep()
	}
	k.interrupt.Restore(prev)
}

// joiners returns the queue joiners of t wait on; t holds it so that a
// donating queue passes the joiners' priority to t.
func (t *Thread) joiners() ThreadQueue {
	if t.joinQueue == nil {
		t.joinQueue = t.k.scheduler.NewThreadQueue(t.k.cfg.JoinDonation)
		t.joinQueue.Acquire(t)
	}
	return t.joinQueue
}

func (t *Thread) releaseJoiners() {
	if t.joinQueue == nil {
		return
	}
	for j := t.joinQueue.NextThread(); j != nil; j = t.joinQueue.NextThread() {
		j.Ready()
	}
}

// restoreState runs on the incoming thread after a context switch. It marks
// the thread running and reclaims the previous thread if it finished.
func (t *Thread) restoreState() {
	k := t.k
	k.interrupt.assertDisabled("restoreState")
	assertf(t == k.current, "restoring %s while %s is current", t, k.current)

	t.status = StatusRunning
	if dead := k.toBeDestroyed; dead != nil {
		k.toBeDestroyed = nil
		dead.tcb.destroy()
		dead.tcb = nil
		k.emit(trace.ScopeThread, "destroy", dead)
	}
}

func (t *Thread) saveState() {
	t.k.interrupt.assertDisabled("saveState")
	assertf(t == t.k.current, "saving %s while %s is current", t, t.k.current)
}
