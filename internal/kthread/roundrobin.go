package kthread

import (
	"slices"
	"strconv"
)

// RoundRobinScheduler serves every queue first come, first served. Priorities
// are recorded so callers can query them but never affect selection, and no
// queue transfers priority.
type RoundRobinScheduler struct {
	queueTracer

	bounds     PriorityBounds
	gate       Gate
	priorities map[ThreadID]int
}

// NewRoundRobinScheduler returns a FIFO scheduler bounded by b.
func NewRoundRobinScheduler(b PriorityBounds, gate Gate) *RoundRobinScheduler {
	return &RoundRobinScheduler{bounds: b, gate: gate, priorities: make(map[ThreadID]int)}
}

func (s *RoundRobinScheduler) assertGate(op string) {
	assertf(s.gate == nil || s.gate.Disabled(), "%s requires interrupts disabled", op)
}

// NewThreadQueue creates an empty FIFO queue. transferPriority is ignored.
func (s *RoundRobinScheduler) NewThreadQueue(bool) ThreadQueue {
	return &fifoQueue{s: s}
}

func (s *RoundRobinScheduler) Bounds() PriorityBounds { return s.bounds }

func (s *RoundRobinScheduler) Priority(t *Thread) int {
	s.assertGate("priority")
	if p, ok := s.priorities[t.id]; ok {
		return p
	}
	return s.bounds.Default
}

// EffectivePriority equals the base priority: nothing is donated.
func (s *RoundRobinScheduler) EffectivePriority(t *Thread) int {
	return s.Priority(t)
}

func (s *RoundRobinScheduler) SetPriority(t *Thread, priority int) {
	s.assertGate("set priority")
	assertf(s.bounds.Contains(priority), "priority %d of %s outside [%d, %d]",
		priority, t, s.bounds.Min, s.bounds.Max)
	if old := s.Priority(t); old != priority {
		s.emit("priority", t, "from", strconv.Itoa(old), "to", strconv.Itoa(priority))
	}
	s.priorities[t.id] = priority
}

func (s *RoundRobinScheduler) IncreasePriority(t *Thread) bool {
	return adjustPriority(s, t, 1)
}

func (s *RoundRobinScheduler) DecreasePriority(t *Thread) bool {
	return adjustPriority(s, t, -1)
}

type fifoQueue struct {
	s       *RoundRobinScheduler
	waiters []*Thread
	holder  *Thread
}

func (q *fifoQueue) WaitForAccess(t *Thread) {
	q.s.assertGate("wait for access")
	assertf(!slices.Contains(q.waiters, t), "%s already waits on this queue", t)
	q.waiters = append(q.waiters, t)
}

func (q *fifoQueue) Acquire(t *Thread) {
	q.s.assertGate("acquire")
	q.holder = t
}

func (q *fifoQueue) NextThread() *Thread {
	q.s.assertGate("next thread")
	if len(q.waiters) == 0 {
		q.holder = nil
		return nil
	}
	t := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	q.holder = t
	return t
}

func (q *fifoQueue) TransfersPriority() bool { return false }
