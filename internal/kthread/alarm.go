package kthread

import (
	"container/heap"
	"strconv"

	"fortio.org/safecast"

	"weft/internal/trace"
)

type wakeEntry struct {
	wake   uint64
	seq    uint64
	thread *Thread
}

type wakeHeap []*wakeEntry

func (h wakeHeap) Len() int { return len(h) }

func (h wakeHeap) Less(i, j int) bool {
	if h[i].wake == h[j].wake {
		return h[i].seq < h[j].seq
	}
	return h[i].wake < h[j].wake
}

func (h wakeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *wakeHeap) Push(x any) {
	e, ok := x.(*wakeEntry)
	if !ok || e == nil {
		return
	}
	*h = append(*h, e)
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return (*wakeEntry)(nil)
	}
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Alarm puts threads to sleep until a tick. Sleepers are woken by the timer
// interrupt, so a wake lands on the first timer boundary at or after it.
type Alarm struct {
	k       *Kernel
	waiting wakeHeap
	seq     uint64
}

func newAlarm(k *Kernel) *Alarm {
	return &Alarm{k: k}
}

// WaitUntil blocks the current thread for at least ticks ticks. Zero or
// negative values wake the thread at the next timer interrupt.
func (a *Alarm) WaitUntil(ticks int64) {
	k := a.k
	prev := k.interrupt.Disable()

	delta, err := safecast.Conv[uint64](ticks)
	if err != nil {
		delta = 0
	}
	now := k.clock.Now()
	wake := now + delta
	if wake < now {
		wake = ^uint64(0)
	}
	a.seq++
	heap.Push(&a.waiting, &wakeEntry{wake: wake, seq: a.seq, thread: k.current})
	k.emit(trace.ScopeDispatch, "alarm", k.current, "wake", strconv.FormatUint(wake, 10))
	k.Sleep()

	k.interrupt.Restore(prev)
}

// timerInterrupt readies every sleeper whose wake time has passed. It runs
// with interrupts disabled and never switches threads.
func (a *Alarm) timerInterrupt() {
	now := a.k.clock.Now()
	for len(a.waiting) > 0 && a.waiting[0].wake <= now {
		e, ok := heap.Pop(&a.waiting).(*wakeEntry)
		if !ok || e == nil {
			continue
		}
		e.thread.Ready()
	}
}

// NextWake returns the earliest pending wake time.
func (a *Alarm) NextWake() (uint64, bool) {
	if len(a.waiting) == 0 {
		return 0, false
	}
	return a.waiting[0].wake, true
}

// Pending returns the number of sleeping threads.
func (a *Alarm) Pending() int { return len(a.waiting) }
