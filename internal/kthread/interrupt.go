package kthread

import "math"

// Gate reports whether asynchronous delivery is currently disabled.
// Schedulers assert it before touching queue state.
type Gate interface {
	Disabled() bool
}

// Interrupt is the processor's interrupt-enable flag. Re-enabling interrupts
// charges KernelTick to the clock and delivers the timer interrupt when the
// clock has crossed a TickInterval boundary.
type Interrupt struct {
	k         *Kernel
	enabled   bool
	inHandler bool
	nextTimer uint64
}

func newInterrupt(k *Kernel) *Interrupt {
	return &Interrupt{k: k, nextTimer: k.cfg.TickInterval}
}

// Disable turns interrupts off and returns the previous enable state.
func (i *Interrupt) Disable() bool {
	prev := i.enabled
	i.enabled = false
	return prev
}

// Enable turns interrupts on.
func (i *Interrupt) Enable() {
	if i.enabled {
		return
	}
	i.enabled = true
	i.oneTick()
}

// Restore sets the enable state returned by a previous Disable.
func (i *Interrupt) Restore(status bool) {
	if status {
		i.Enable()
		return
	}
	i.enabled = false
}

// Disabled reports whether interrupts are off.
func (i *Interrupt) Disabled() bool {
	return !i.enabled
}

// Enabled reports whether interrupts are on.
func (i *Interrupt) Enabled() bool {
	return i.enabled
}

func (i *Interrupt) assertDisabled(op string) {
	assertf(!i.enabled, "%s requires interrupts disabled", op)
}

func (i *Interrupt) oneTick() {
	i.k.clock.Advance(i.k.cfg.KernelTick)
	i.checkTimer()
}

// checkTimer runs the timer handler once if the clock reached the next
// timer boundary. The handler makes threads ready; it never switches.
func (i *Interrupt) checkTimer() {
	if i.inHandler {
		return
	}
	now := i.k.clock.Now()
	if now < i.nextTimer {
		return
	}
	next, ok := nextBoundary(now, i.k.cfg.TickInterval)
	if !ok {
		// No boundary left before the clock saturates; fire on every tick there.
		next = math.MaxUint64
	}
	i.nextTimer = next

	i.inHandler = true
	prev := i.enabled
	i.enabled = false
	i.k.alarm.timerInterrupt()
	i.enabled = prev
	i.inHandler = false
}

// nextTimerAtOrAfter returns the first timer boundary that is both pending and
// not earlier than deadline. It reports false when that boundary lies past the
// end of the clock, so a sleeper with that deadline can never wake.
func (i *Interrupt) nextTimerAtOrAfter(deadline uint64) (uint64, bool) {
	if deadline > i.nextTimer {
		return ceilBoundary(deadline, i.k.cfg.TickInterval)
	}
	return i.nextTimer, true
}

// ceilBoundary rounds t up to a multiple of interval without overflowing.
func ceilBoundary(t, interval uint64) (uint64, bool) {
	q := t / interval
	if t%interval != 0 {
		if q == math.MaxUint64/interval {
			return 0, false
		}
		q++
	}
	return q * interval, true
}

func nextBoundary(now, interval uint64) (uint64, bool) {
	q := now / interval
	if q == math.MaxUint64/interval {
		return 0, false
	}
	return (q + 1) * interval, true
}
