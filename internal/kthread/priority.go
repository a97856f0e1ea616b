package kthread

import (
	"slices"
	"strconv"
)

// QueueID names a queue inside a PriorityScheduler. Zero means none.
type QueueID uint64

// ThreadState is the priority scheduler's record for one thread. Edges to
// queues are ids so the donation graph holds no pointer cycles.
type ThreadState struct {
	thread    *Thread
	priority  int
	effective int
	dirty     bool
	computing bool
	held      map[QueueID]struct{}
	waitingOn QueueID
}

type queueState struct {
	id        QueueID
	transfer  bool
	waiters   []ThreadID
	holder    ThreadID
	effective int
	dirty     bool
	computing bool
}

// Stats counts effective-priority recomputations.
type Stats struct {
	ThreadRecomputes uint64
	QueueRecomputes  uint64
	// DirtyMarks counts nodes that went from clean to dirty.
	DirtyMarks uint64
}

// PriorityScheduler selects the waiter with the highest effective priority,
// oldest first among equals. Transferring queues donate their waiters'
// priority to the holder, transitively along holds/waits edges.
//
// Effective priorities are cached and recomputed on demand. A change marks
// the changed node dirty and the mark flows to the queue a thread waits on
// and to the thread holding a queue; an already dirty node stops the flow.
type PriorityScheduler struct {
	queueTracer

	bounds    PriorityBounds
	gate      Gate
	threads   map[ThreadID]*ThreadState
	queues    map[QueueID]*queueState
	nextQueue QueueID
	stats     Stats
}

// NewPriorityScheduler returns a scheduler bounded by b. gate is asserted
// disabled on every call; nil skips the check.
func NewPriorityScheduler(b PriorityBounds, gate Gate) *PriorityScheduler {
	return &PriorityScheduler{
		bounds:  b,
		gate:    gate,
		threads: make(map[ThreadID]*ThreadState),
		queues:  make(map[QueueID]*queueState),
	}
}

func (s *PriorityScheduler) assertGate(op string) {
	assertf(s.gate == nil || s.gate.Disabled(), "%s requires interrupts disabled", op)
}

// NewThreadQueue creates an empty queue.
func (s *PriorityScheduler) NewThreadQueue(transferPriority bool) ThreadQueue {
	s.nextQueue++
	q := &queueState{id: s.nextQueue, transfer: transferPriority, effective: s.bounds.Min}
	s.queues[q.id] = q
	return &PriorityQueue{s: s, id: q.id}
}

// Bounds returns the legal priority range.
func (s *PriorityScheduler) Bounds() PriorityBounds { return s.bounds }

// Stats returns the recomputation counters.
func (s *PriorityScheduler) Stats() Stats { return s.stats }

func (s *PriorityScheduler) state(t *Thread) *ThreadState {
	ts, ok := s.threads[t.id]
	if !ok {
		ts = &ThreadState{
			thread:    t,
			priority:  s.bounds.Default,
			effective: s.bounds.Default,
			held:      make(map[QueueID]struct{}),
		}
		s.threads[t.id] = ts
	}
	return ts
}

// Priority returns t's base priority.
func (s *PriorityScheduler) Priority(t *Thread) int {
	s.assertGate("priority")
	return s.state(t).priority
}

// EffectivePriority returns t's base priority raised by every donation it
// receives through the queues it holds.
func (s *PriorityScheduler) EffectivePriority(t *Thread) int {
	s.assertGate("effective priority")
	return s.threadEffective(s.state(t))
}

// SetPriority changes t's base priority. Setting the current value is a no-op.
func (s *PriorityScheduler) SetPriority(t *Thread, priority int) {
	s.assertGate("set priority")
	assertf(s.bounds.Contains(priority), "priority %d of %s outside [%d, %d]",
		priority, t, s.bounds.Min, s.bounds.Max)

	ts := s.state(t)
	if ts.priority == priority {
		return
	}
	s.emit("priority", t, "from", strconv.Itoa(ts.priority), "to", strconv.Itoa(priority))
	ts.priority = priority
	s.markThreadDirty(ts)
}

func (s *PriorityScheduler) IncreasePriority(t *Thread) bool {
	return adjustPriority(s, t, 1)
}

func (s *PriorityScheduler) DecreasePriority(t *Thread) bool {
	return adjustPriority(s, t, -1)
}

func (s *PriorityScheduler) markThreadDirty(ts *ThreadState) {
	if ts.dirty {
		return
	}
	ts.dirty = true
	s.stats.DirtyMarks++
	if ts.waitingOn != 0 {
		s.markQueueDirty(s.queues[ts.waitingOn])
	}
}

func (s *PriorityScheduler) markQueueDirty(q *queueState) {
	if !q.transfer || q.dirty {
		return
	}
	q.dirty = true
	s.stats.DirtyMarks++
	if q.holder != 0 {
		s.markThreadDirty(s.threads[q.holder])
	}
}

func (s *PriorityScheduler) threadEffective(ts *ThreadState) int {
	if !ts.dirty {
		return ts.effective
	}
	assertf(!ts.computing, "priority donation cycle through %s", ts.thread)
	ts.computing = true
	eff := ts.priority
	for id := range ts.held {
		if p := s.queueEffective(s.queues[id]); p > eff {
			eff = p
		}
	}
	ts.computing = false
	ts.effective = eff
	ts.dirty = false
	s.stats.ThreadRecomputes++
	return eff
}

func (s *PriorityScheduler) queueEffective(q *queueState) int {
	if !q.transfer {
		return s.bounds.Min
	}
	if !q.dirty {
		return q.effective
	}
	assertf(!q.computing, "priority donation cycle through queue %d", q.id)
	q.computing = true
	eff := s.bounds.Min
	for _, id := range q.waiters {
		if p := s.threadEffective(s.threads[id]); p > eff {
			eff = p
		}
	}
	q.computing = false
	q.effective = eff
	q.dirty = false
	s.stats.QueueRecomputes++
	return eff
}

func (s *PriorityScheduler) waitForAccess(q *queueState, t *Thread) {
	s.assertGate("wait for access")
	ts := s.state(t)
	assertf(!slices.Contains(q.waiters, t.id), "%s already waits on queue %d", t, q.id)

	q.waiters = append(q.waiters, t.id)
	if !q.transfer {
		return
	}
	assertf(ts.waitingOn == 0, "%s waits on queue %d and queue %d", t, ts.waitingOn, q.id)
	if _, self := ts.held[q.id]; self {
		delete(ts.held, q.id)
		q.holder = 0
		s.markThreadDirty(ts)
	}
	ts.waitingOn = q.id
	s.markQueueDirty(q)
	s.emit("wait", t, "queue", strconv.FormatUint(uint64(q.id), 10))
}

func (s *PriorityScheduler) acquire(q *queueState, t *Thread) {
	s.assertGate("acquire")
	ts := s.state(t)
	if !q.transfer {
		q.holder = t.id
		return
	}
	if q.holder != 0 && q.holder != t.id {
		s.detach(q)
	}
	q.holder = t.id
	ts.held[q.id] = struct{}{}
	if ts.waitingOn == q.id {
		ts.waitingOn = 0
	}
	s.markThreadDirty(ts)
	s.emit("acquire", t, "queue", strconv.FormatUint(uint64(q.id), 10))
}

// detach drops q from its holder's held set; the holder loses q's donation.
func (s *PriorityScheduler) detach(q *queueState) {
	old := s.threads[q.holder]
	q.holder = 0
	if old == nil {
		return
	}
	delete(old.held, q.id)
	s.markThreadDirty(old)
	s.emit("release", old.thread, "queue", strconv.FormatUint(uint64(q.id), 10))
}

func (s *PriorityScheduler) nextThread(q *queueState) *Thread {
	s.assertGate("next thread")
	if len(q.waiters) == 0 {
		if q.transfer && q.holder != 0 {
			s.detach(q)
		}
		q.holder = 0
		return nil
	}

	best, bestPriority := 0, 0
	for i, id := range q.waiters {
		p := s.threadEffective(s.threads[id])
		if i == 0 || p > bestPriority {
			best, bestPriority = i, p
		}
	}
	ts := s.threads[q.waiters[best]]
	q.waiters = slices.Delete(q.waiters, best, best+1)
	s.markQueueDirty(q)
	s.acquire(q, ts.thread)
	return ts.thread
}

// QueueSnapshot describes one queue of a PriorityScheduler.
type QueueSnapshot struct {
	ID       QueueID
	Transfer bool
	Holder   *Thread
	Waiters  []*Thread
}

// Queues returns every queue in creation order.
func (s *PriorityScheduler) Queues() []QueueSnapshot {
	out := make([]QueueSnapshot, 0, len(s.queues))
	for id := QueueID(1); id <= s.nextQueue; id++ {
		q, ok := s.queues[id]
		if !ok {
			continue
		}
		snap := QueueSnapshot{ID: q.id, Transfer: q.transfer}
		if h, ok := s.threads[q.holder]; ok {
			snap.Holder = h.thread
		}
		for _, w := range q.waiters {
			snap.Waiters = append(snap.Waiters, s.threads[w].thread)
		}
		out = append(out, snap)
	}
	return out
}

// PriorityQueue is a ThreadQueue of a PriorityScheduler.
type PriorityQueue struct {
	s  *PriorityScheduler
	id QueueID
}

// ID returns the queue's id within its scheduler.
func (q *PriorityQueue) ID() QueueID { return q.id }

func (q *PriorityQueue) WaitForAccess(t *Thread) { q.s.waitForAccess(q.s.queues[q.id], t) }

func (q *PriorityQueue) Acquire(t *Thread) { q.s.acquire(q.s.queues[q.id], t) }

func (q *PriorityQueue) NextThread() *Thread { return q.s.nextThread(q.s.queues[q.id]) }

func (q *PriorityQueue) TransfersPriority() bool { return q.s.queues[q.id].transfer }

// EffectivePriority returns the highest priority donated by the queue's
// waiters, or the minimum priority when it does not transfer.
func (q *PriorityQueue) EffectivePriority() int {
	q.s.assertGate("queue effective priority")
	return q.s.queueEffective(q.s.queues[q.id])
}

// Holder returns the thread that last acquired the queue, or nil.
func (q *PriorityQueue) Holder() *Thread {
	if ts, ok := q.s.threads[q.s.queues[q.id].holder]; ok {
		return ts.thread
	}
	return nil
}

// Len returns the number of waiters.
func (q *PriorityQueue) Len() int { return len(q.s.queues[q.id].waiters) }
