package testkit

import (
	"fmt"

	"weft/internal/kthread"
)

// CheckKernelInvariants runs the dispatcher and donation invariants on a
// live kernel. It must be called from a thread of k:
// 1) exactly one thread is running and it is the current thread
// 2) every thread is in a known state and finished threads carry a finish tick
// 3) every waiter of a transferring queue is blocked
// 4) a transferring queue's holder runs at least at each waiter's priority
func CheckKernelInvariants(k *kthread.Kernel) error {
	if k == nil {
		return fmt.Errorf("nil kernel")
	}
	gate := k.Interrupt()
	prev := gate.Disable()
	defer gate.Restore(prev)

	cur := k.CurrentThread()
	if cur == nil {
		return fmt.Errorf("no current thread")
	}

	// 1) single running thread; 2) known states
	running := 0
	for _, t := range k.Threads() {
		switch t.Status() {
		case kthread.StatusRunning:
			running++
			if t != cur {
				return fmt.Errorf("%s is running but %s is current", t, cur)
			}
		case kthread.StatusFinished:
			if t.FinishedAt() == 0 {
				return fmt.Errorf("%s finished without a finish tick", t)
			}
		case kthread.StatusNew, kthread.StatusReady, kthread.StatusBlocked:
		default:
			return fmt.Errorf("%s in unknown state %d", t, t.Status())
		}
	}
	if running != 1 {
		return fmt.Errorf("%d threads running, want 1", running)
	}

	ps, ok := k.Scheduler().(*kthread.PriorityScheduler)
	if !ok {
		return nil
	}
	for _, q := range ps.Queues() {
		if !q.Transfer {
			continue
		}
		// 3) waiters are blocked
		for _, w := range q.Waiters {
			if w.Status() != kthread.StatusBlocked {
				return fmt.Errorf("queue %d: waiter %s is %s, want blocked", q.ID, w, w.Status())
			}
		}
		// 4) donation bound
		if q.Holder == nil {
			continue
		}
		hp := ps.EffectivePriority(q.Holder)
		for _, w := range q.Waiters {
			if wp := ps.EffectivePriority(w); wp > hp {
				return fmt.Errorf("queue %d: holder %s at %d below waiter %s at %d", q.ID, q.Holder, hp, w, wp)
			}
		}
	}
	return nil
}
