package kthread

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func threadNames(ts []*Thread) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name()
	}
	return out
}

func TestLockDonationLetsHolderRunFirst(t *testing.T) {
	k := newTestKernel(t, nil)
	var rec recorder
	var donated, restored int
	runKernel(t, k, func() {
		lock := k.NewLock("R")
		var low, mid, high *Thread
		high = k.NewThread("high", func() {
			lock.Acquire()
			rec.add("high")
			lock.Release()
		})
		mid = k.NewThread("mid", func() { rec.add("mid") })
		low = k.NewThread("low", func() {
			lock.Acquire()
			high.Fork()
			mid.Fork()
			k.Yield() // high blocks on R and donates
			donated = k.EffectivePriority(low)
			rec.add("low")
			lock.Release()
			restored = k.EffectivePriority(low)
		})
		k.SetPriority(low, 1)
		k.SetPriority(mid, 3)
		k.SetPriority(high, 6)
		low.Fork()
		low.Join()
		high.Join()
		mid.Join()
	})
	if diff := cmp.Diff([]string{"low", "high", "mid"}, rec.log); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if donated != 6 || restored != 1 {
		t.Fatalf("low effective priority: with waiter %d (want 6), after release %d (want 1)", donated, restored)
	}
}

func TestLockWithoutDonationUnderRoundRobin(t *testing.T) {
	k := newTestKernel(t, func(c *Config) { c.Scheduler = SchedulerRoundRobin })
	var rec recorder
	runKernel(t, k, func() {
		lock := k.NewLock("R")
		a := k.NewThread("A", func() {
			lock.Acquire()
			k.Yield()
			rec.add("A")
			lock.Release()
		})
		b := k.NewThread("B", func() {
			lock.Acquire()
			rec.add("B")
			lock.Release()
		})
		a.Fork()
		b.Fork()
		a.Join()
		b.Join()
	})
	if diff := cmp.Diff([]string{"A", "B"}, rec.log); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLockMisuseFaults(t *testing.T) {
	tests := []struct {
		name string
		body func(k *Kernel)
	}{
		{"reacquire", func(k *Kernel) {
			l := k.NewLock("L")
			l.Acquire()
			l.Acquire()
		}},
		{"release unheld", func(k *Kernel) {
			k.NewLock("L").Release()
		}},
		{"condition without lock", func(k *Kernel) {
			NewCondition("c", k.NewLock("L")).Wake()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(t, nil)
			err := k.Run(context.Background(), func() { tt.body(k) })
			if !IsAssertionFailure(err) {
				t.Fatalf("expected assertion failure, got %v", err)
			}
		})
	}
}

func TestConditionWakeOrder(t *testing.T) {
	k := newTestKernel(t, nil)
	var rec recorder
	var forkedStates, waiting []string
	runKernel(t, k, func() {
		lock := k.NewLock("L")
		cond := NewCondition("C", lock)

		lock.Acquire()
		cond.Wake() // nobody waits: no-op
		lock.Release()

		var threads []*Thread
		for _, name := range []string{"A", "B", "C"} {
			th := k.NewThread(name, func() {
				lock.Acquire()
				cond.Sleep()
				rec.add(name)
				lock.Release()
			})
			threads = append(threads, th)
			th.Fork()
		}
		for _, th := range threads {
			forkedStates = append(forkedStates, th.Status().String())
		}
		k.Yield()

		lock.Acquire()
		waiting = threadNames(cond.Waiters())
		cond.WakeAll()
		if len(cond.Waiters()) != 0 {
			rec.add("waiters left")
		}
		lock.Release()
		for _, th := range threads {
			th.Join()
		}
	})
	if diff := cmp.Diff([]string{"ready", "ready", "ready"}, forkedStates); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, waiting); diff != "" {
		t.Fatalf("waiters mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, rec.log); diff != "" {
		t.Fatalf("wake order mismatch (-want +got):\n%s", diff)
	}
}

func TestConditionSleepReacquiresLock(t *testing.T) {
	k := newTestKernel(t, nil)
	held := false
	runKernel(t, k, func() {
		lock := k.NewLock("L")
		cond := NewCondition("C", lock)
		waiter := k.NewThread("waiter", func() {
			lock.Acquire()
			cond.Sleep()
			held = lock.IsHeldByCurrentThread()
			lock.Release()
		})
		waiter.Fork()
		k.Yield()
		lock.Acquire()
		cond.Wake()
		lock.Release()
		waiter.Join()
	})
	if !held {
		t.Fatal("waiter did not hold the lock after Sleep returned")
	}
}

func TestAlarmWaitUntil(t *testing.T) {
	tests := []struct {
		name  string
		ticks int64
	}{
		{"zero", 0},
		{"negative", -50},
		{"short", 100},
		{"across boundaries", 1234},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(t, nil)
			var before, after uint64
			runKernel(t, k, func() {
				before = k.Now()
				k.Alarm().WaitUntil(tt.ticks)
				after = k.Now()
			})
			want := before
			if tt.ticks > 0 {
				want += uint64(tt.ticks)
			}
			if after < want {
				t.Fatalf("woke at %d, before %d", after, want)
			}
			// Wakeups happen at the first timer interrupt at or after the deadline.
			interval := k.Config().TickInterval
			if limit := (want/interval+1)*interval + 2*k.Config().KernelTick; after > limit {
				t.Fatalf("woke at %d, later than %d", after, limit)
			}
		})
	}
}

func TestAlarmPastEndOfClockDeadlocks(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstWake uint64
	start := time.Now()
	err := k.Run(ctx, func() {
		k.Alarm().WaitUntil(math.MaxInt64)
		firstWake = k.Now()
		// The second deadline saturates past the last timer boundary.
		k.Alarm().WaitUntil(math.MaxInt64)
		t.Error("second sleep returned")
	})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run took %v", elapsed)
	}
	if firstWake < math.MaxInt64 {
		t.Fatalf("first sleep woke at %d, before %d", firstWake, int64(math.MaxInt64))
	}
	var dl *DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if diff := cmp.Diff([]string{"main (#1)"}, dl.Blocked); diff != "" {
		t.Fatalf("blocked mismatch (-want +got):\n%s", diff)
	}
	if got := k.Alarm().Pending(); got != 1 {
		t.Fatalf("pending sleepers = %d, want 1", got)
	}
}

func TestBoundaryMathSaturates(t *testing.T) {
	tests := []struct {
		t, interval uint64
		want        uint64
		ok          bool
	}{
		{0, 500, 0, true},
		{1, 500, 500, true},
		{1000, 500, 1000, true},
		{math.MaxUint64, 500, 0, false},
		{math.MaxUint64 / 500 * 500, 500, math.MaxUint64 / 500 * 500, true},
		{math.MaxUint64, 1, math.MaxUint64, true},
	}
	for _, tt := range tests {
		got, ok := ceilBoundary(tt.t, tt.interval)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ceilBoundary(%d, %d) = %d, %v; want %d, %v", tt.t, tt.interval, got, ok, tt.want, tt.ok)
		}
	}
	if _, ok := nextBoundary(math.MaxUint64/500*500, 500); ok {
		t.Fatalf("nextBoundary past the last boundary should fail")
	}
	if got, ok := nextBoundary(999, 500); !ok || got != 1000 {
		t.Fatalf("nextBoundary(999, 500) = %d, %v; want 1000, true", got, ok)
	}
}

func TestAlarmWakesInDeadlineOrder(t *testing.T) {
	k := newTestKernel(t, nil)
	var rec recorder
	runKernel(t, k, func() {
		sleeper := func(name string, ticks int64) *Thread {
			return k.NewThread(name, func() {
				k.Alarm().WaitUntil(ticks)
				rec.add(name)
			})
		}
		a := sleeper("A", 3000)
		b := sleeper("B", 600)
		c := sleeper("C", 1500)
		for _, th := range []*Thread{a, b, c} {
			th.Fork()
		}
		for _, th := range []*Thread{a, b, c} {
			th.Join()
		}
	})
	if diff := cmp.Diff([]string{"B", "C", "A"}, rec.log); diff != "" {
		t.Fatalf("wake order mismatch (-want +got):\n%s", diff)
	}
}

func TestAlarmUnderRealClock(t *testing.T) {
	k := newTestKernel(t, func(c *Config) {
		c.Clock = ClockReal
		c.TickInterval = 100
	})
	var before, after uint64
	runKernel(t, k, func() {
		before = k.Now()
		k.Alarm().WaitUntil(200)
		after = k.Now()
	})
	if after < before+200 {
		t.Fatalf("woke at %d, before %d", after, before+200)
	}
}

func TestCommunicatorPairs(t *testing.T) {
	orders := []struct {
		name        string
		speakFirst  bool
		speakers    []int
		listenerCnt int
	}{
		{"speaker first", true, []int{42}, 1},
		{"listener first", false, []int{42}, 1},
		{"many", true, []int{1, 2, 3, 4}, 4},
		{"many listeners first", false, []int{5, 6, 7}, 3},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(t, nil)
			var heard []int
			runKernel(t, k, func() {
				ch := k.NewCommunicator("ch")
				var speakers, listeners []*Thread
				for _, w := range tt.speakers {
					speakers = append(speakers, k.NewThread("speaker", func() { ch.Speak(w) }))
				}
				for i := 0; i < tt.listenerCnt; i++ {
					listeners = append(listeners, k.NewThread("listener", func() {
						heard = append(heard, ch.Listen())
					}))
				}
				all := append(slices.Clone(speakers), listeners...)
				if !tt.speakFirst {
					all = append(slices.Clone(listeners), speakers...)
				}
				for _, th := range all {
					th.Fork()
				}
				for _, th := range all {
					th.Join()
				}
			})
			slices.Sort(heard)
			want := slices.Sorted(slices.Values(tt.speakers))
			if diff := cmp.Diff(want, heard); diff != "" {
				t.Fatalf("heard mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommunicatorListenerWaitsForSpeaker(t *testing.T) {
	k := newTestKernel(t, nil)
	var heard []int
	err := k.Run(context.Background(), func() {
		ch := k.NewCommunicator("ch")
		s := k.NewThread("speaker", func() { ch.Speak(42) })
		l1 := k.NewThread("l1", func() { heard = append(heard, ch.Listen()) })
		l2 := k.NewThread("l2", func() { heard = append(heard, ch.Listen()) })
		s.Fork()
		l1.Fork()
		l2.Fork()
		l1.Join()
		l2.Join()
	})
	var dl *DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("expected deadlock with an unmatched listener, got %v", err)
	}
	if diff := cmp.Diff([]int{42}, heard); diff != "" {
		t.Fatalf("heard mismatch (-want +got):\n%s", diff)
	}
	if !slices.Contains(dl.Blocked, "l2 (#5)") {
		t.Fatalf("l2 should still be blocked, got %v", dl.Blocked)
	}
}
