package kthread

import (
	"math/rand"
	"testing"
)

// Scheduler tests drive queues directly with detached threads and no gate.

func testThreads(names ...string) []*Thread {
	out := make([]*Thread, len(names))
	for i, n := range names {
		out[i] = &Thread{id: ThreadID(i + 1), name: n}
	}
	return out
}

func expectPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected assertion failure", what)
		}
		err, ok := r.(error)
		if !ok || !IsAssertionFailure(err) {
			t.Fatalf("%s: expected assertion failure, got %v", what, r)
		}
	}()
	fn()
}

func TestDonationToHolder(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "H")
	low, high := th[0], th[1]
	s.SetPriority(low, 1)
	s.SetPriority(high, 5)

	r := s.NewThreadQueue(true)
	r.Acquire(low)
	if got := s.EffectivePriority(low); got != 1 {
		t.Fatalf("L effective before wait = %d, want 1", got)
	}
	r.WaitForAccess(high)
	if got := s.EffectivePriority(low); got != 5 {
		t.Fatalf("L effective while H waits = %d, want 5", got)
	}

	if next := r.NextThread(); next != high {
		t.Fatalf("NextThread = %v, want H", next)
	}
	if got := s.EffectivePriority(low); got != 1 {
		t.Fatalf("L effective after handoff = %d, want 1", got)
	}
	if got := r.(*PriorityQueue).Holder(); got != high {
		t.Fatalf("holder after handoff = %v, want H", got)
	}
}

func TestDonationThroughChain(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "M", "H")
	low, mid, high := th[0], th[1], th[2]
	s.SetPriority(low, 1)
	s.SetPriority(mid, 3)
	s.SetPriority(high, 6)

	r1 := s.NewThreadQueue(true)
	r2 := s.NewThreadQueue(true)
	r1.Acquire(low)
	r2.Acquire(mid)
	r1.WaitForAccess(mid)
	if got := s.EffectivePriority(low); got != 3 {
		t.Fatalf("L effective = %d, want 3", got)
	}
	r2.WaitForAccess(high)
	if got := s.EffectivePriority(low); got != 6 {
		t.Fatalf("L effective through chain = %d, want 6", got)
	}

	// Raising H later reaches L through the cached chain.
	s.SetPriority(high, 7)
	if got := s.EffectivePriority(low); got != 7 {
		t.Fatalf("L effective after H raised = %d, want 7", got)
	}

	// L hands r1 to M; L drops back, M keeps H's donation through r2.
	if next := r1.NextThread(); next != mid {
		t.Fatalf("NextThread = %v, want M", next)
	}
	if got := s.EffectivePriority(low); got != 1 {
		t.Fatalf("L effective after release = %d, want 1", got)
	}
	if got := s.EffectivePriority(mid); got != 7 {
		t.Fatalf("M effective = %d, want 7", got)
	}
}

func TestNextThreadTieBreaksByArrival(t *testing.T) {
	for _, transfer := range []bool{true, false} {
		s := NewPriorityScheduler(DefaultPriorityBounds, nil)
		th := testThreads("A", "B", "C")
		q := s.NewThreadQueue(transfer)
		q.WaitForAccess(th[1])
		q.WaitForAccess(th[0])
		q.WaitForAccess(th[2])
		pq := q.(*PriorityQueue)
		for i, want := range []*Thread{th[1], th[0], th[2]} {
			if got := pq.Len(); got != 3-i {
				t.Fatalf("transfer=%v: Len = %d, want %d", transfer, got, 3-i)
			}
			if got := q.NextThread(); got != want {
				t.Fatalf("transfer=%v: NextThread = %v, want %v", transfer, got, want)
			}
		}
		if got := pq.Len(); got != 0 {
			t.Fatalf("transfer=%v: Len after drain = %d, want 0", transfer, got)
		}
		if got := q.NextThread(); got != nil {
			t.Fatalf("transfer=%v: empty queue returned %v", transfer, got)
		}
	}
}

func TestNextThreadNeverSkipsHigherPriority(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		s := NewPriorityScheduler(DefaultPriorityBounds, nil)
		q := s.NewThreadQueue(true)
		holder := &Thread{id: 1000, name: "holder"}
		q.Acquire(holder)

		n := 2 + rng.Intn(8)
		waiting := make(map[*Thread]bool, n)
		for i := 0; i < n; i++ {
			th := &Thread{id: ThreadID(i + 1), name: "w"}
			s.SetPriority(th, rng.Intn(8))
			q.WaitForAccess(th)
			waiting[th] = true
		}
		for len(waiting) > 0 {
			next := q.NextThread()
			delete(waiting, next)
			np := s.EffectivePriority(next)
			for other := range waiting {
				if op := s.EffectivePriority(other); op > np {
					t.Fatalf("round %d: picked priority %d over waiting %d", round, np, op)
				}
			}
			if len(waiting) > 0 {
				// The new holder receives what is left.
				top := 0
				for other := range waiting {
					if op := s.EffectivePriority(other); op > top {
						top = op
					}
				}
				if got := s.EffectivePriority(next); got < top {
					t.Fatalf("round %d: holder at %d below waiter at %d", round, got, top)
				}
			}
		}
	}
}

func TestSetPrioritySameValueDoesNotDirty(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "H")
	r := s.NewThreadQueue(true)
	r.Acquire(th[0])
	s.SetPriority(th[1], 4)
	r.WaitForAccess(th[1])
	_ = s.EffectivePriority(th[0])

	before := s.Stats()
	s.SetPriority(th[1], 4)
	s.SetPriority(th[0], s.Priority(th[0]))
	if got := s.EffectivePriority(th[0]); got != 4 {
		t.Fatalf("L effective = %d, want 4", got)
	}
	if after := s.Stats(); after != before {
		t.Fatalf("no-op SetPriority changed stats: before %+v after %+v", before, after)
	}
}

func TestEffectivePriorityIsCached(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "H")
	r := s.NewThreadQueue(true)
	r.Acquire(th[0])
	r.WaitForAccess(th[1])

	_ = s.EffectivePriority(th[0])
	first := s.Stats()
	for i := 0; i < 5; i++ {
		_ = s.EffectivePriority(th[0])
	}
	if s.Stats() != first {
		t.Fatalf("repeated queries recomputed: %+v -> %+v", first, s.Stats())
	}

	s.SetPriority(th[1], 6)
	_ = s.EffectivePriority(th[0])
	st := s.Stats()
	if st.ThreadRecomputes != first.ThreadRecomputes+2 || st.QueueRecomputes != first.QueueRecomputes+1 {
		t.Fatalf("expected one recompute per dirty node, got %+v -> %+v", first, st)
	}
}

func TestNonTransferQueueDoesNotDonate(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "H")
	s.SetPriority(th[1], 7)
	q := s.NewThreadQueue(false)
	q.Acquire(th[0])
	q.WaitForAccess(th[1])
	if got := s.EffectivePriority(th[0]); got != DefaultPriorityBounds.Default {
		t.Fatalf("L effective = %d, want %d", got, DefaultPriorityBounds.Default)
	}
	if got := q.(*PriorityQueue).EffectivePriority(); got != DefaultPriorityBounds.Min {
		t.Fatalf("queue effective = %d, want floor", got)
	}
}

func TestEmptyNextThreadReleasesHolder(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("L", "H", "X")
	s.SetPriority(th[1], 6)
	r := s.NewThreadQueue(true)
	r.Acquire(th[0])
	r.WaitForAccess(th[1])
	r.NextThread() // H now holds r
	if got := s.EffectivePriority(th[1]); got != 6 {
		t.Fatalf("H effective = %d", got)
	}
	if got := r.NextThread(); got != nil {
		t.Fatalf("empty queue returned %v", got)
	}
	if got := r.(*PriorityQueue).Holder(); got != nil {
		t.Fatalf("holder after empty NextThread = %v, want none", got)
	}

	// A later waiter must not donate to the former holder.
	s.SetPriority(th[2], 7)
	r.WaitForAccess(th[2])
	if got := s.EffectivePriority(th[1]); got != 6 {
		t.Fatalf("former holder effective = %d, want 6", got)
	}
}

func TestWaitOnHeldQueueDetachesSelf(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("A", "B")
	s.SetPriority(th[1], 7)
	r := s.NewThreadQueue(true)
	r.Acquire(th[0])
	r.WaitForAccess(th[0])
	if got := r.(*PriorityQueue).Holder(); got != nil {
		t.Fatalf("holder = %v, want none after self-wait", got)
	}
	r.WaitForAccess(th[1])
	if got := s.EffectivePriority(th[0]); got != DefaultPriorityBounds.Default {
		t.Fatalf("A effective = %d, should not receive donation", got)
	}
}

func TestDoubleWaitFaults(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("A")
	q := s.NewThreadQueue(false)
	q.WaitForAccess(th[0])
	expectPanic(t, "double wait", func() { q.WaitForAccess(th[0]) })
}

func TestSetPriorityOutOfBoundsFaults(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("A")
	expectPanic(t, "priority 8", func() { s.SetPriority(th[0], 8) })
	expectPanic(t, "priority -1", func() { s.SetPriority(th[0], -1) })
}

func TestDonationCycleFaults(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, nil)
	th := testThreads("A", "B")
	r1 := s.NewThreadQueue(true)
	r2 := s.NewThreadQueue(true)
	r1.Acquire(th[0])
	r2.Acquire(th[1])
	r2.WaitForAccess(th[0])
	r1.WaitForAccess(th[1])
	expectPanic(t, "cycle", func() { s.EffectivePriority(th[0]) })
}

func TestSchedulerRequiresDisabledGate(t *testing.T) {
	s := NewPriorityScheduler(DefaultPriorityBounds, openGate{})
	th := testThreads("A")
	expectPanic(t, "open gate", func() { s.Priority(th[0]) })
}

type openGate struct{}

func (openGate) Disabled() bool { return false }

func TestRoundRobinQueueIsFIFO(t *testing.T) {
	s := NewRoundRobinScheduler(DefaultPriorityBounds, nil)
	th := testThreads("A", "B", "C")
	s.SetPriority(th[2], 7)
	q := s.NewThreadQueue(true)
	if q.TransfersPriority() {
		t.Fatal("round-robin queues never transfer")
	}
	for _, x := range th {
		q.WaitForAccess(x)
	}
	for _, want := range th {
		if got := q.NextThread(); got != want {
			t.Fatalf("NextThread = %v, want %v", got, want)
		}
	}
	if got := s.EffectivePriority(th[2]); got != 7 {
		t.Fatalf("priority = %d, want 7", got)
	}
}
