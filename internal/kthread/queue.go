package kthread

import "weft/internal/trace"

// ThreadQueue is a line of threads waiting for one resource: the processor,
// a lock, or a joined thread. Every method requires interrupts disabled.
type ThreadQueue interface {
	// WaitForAccess adds a thread that cannot proceed yet.
	WaitForAccess(t *Thread)
	// Acquire records that t now has access without having waited.
	Acquire(t *Thread)
	// NextThread removes and returns the thread that gets access next, or
	// nil when nobody is waiting.
	NextThread() *Thread
	// TransfersPriority reports whether waiters donate to the holder.
	TransfersPriority() bool
}

// Scheduler is a queuing policy. It creates the queues the kernel and the
// synchronization primitives wait on, and owns every thread's priority.
type Scheduler interface {
	NewThreadQueue(transferPriority bool) ThreadQueue
	Priority(t *Thread) int
	EffectivePriority(t *Thread) int
	SetPriority(t *Thread, priority int)
	IncreasePriority(t *Thread) bool
	DecreasePriority(t *Thread) bool
	Bounds() PriorityBounds
}

type tracedScheduler interface {
	setTracer(tr trace.Tracer, now func() uint64)
}

// queueTracer is embedded by schedulers that report queue events.
type queueTracer struct {
	tracer trace.Tracer
	now    func() uint64
}

func (q *queueTracer) setTracer(tr trace.Tracer, now func() uint64) {
	q.tracer = tr
	q.now = now
}

func (q *queueTracer) emit(name string, t *Thread, kv ...string) {
	if q.tracer == nil || !q.tracer.Level().ShouldEmit(trace.ScopeQueue) {
		return
	}
	ev := &trace.Event{Kind: trace.KindPoint, Scope: trace.ScopeQueue, Name: name}
	if q.now != nil {
		ev.Tick = q.now()
	}
	if t != nil {
		ev.Thread = t.String()
	}
	if len(kv) > 1 {
		ev.Extra = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev.Extra[kv[i]] = kv[i+1]
		}
	}
	q.tracer.Emit(ev)
}

// adjustPriority moves t's priority one step by delta if the result stays in
// bounds.
func adjustPriority(s Scheduler, t *Thread, delta int) bool {
	p := s.Priority(t) + delta
	if !s.Bounds().Contains(p) {
		return false
	}
	s.SetPriority(t, p)
	return true
}
