package kthread

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// SchedulerKind selects the queuing policy used for the ready set and for
// every resource queue.
type SchedulerKind string

const (
	SchedulerPriority   SchedulerKind = "priority"
	SchedulerRoundRobin SchedulerKind = "roundrobin"
)

// ParseSchedulerKind converts a config string to a SchedulerKind.
func ParseSchedulerKind(s string) (SchedulerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "priority":
		return SchedulerPriority, nil
	case "roundrobin", "round-robin", "fifo":
		return SchedulerRoundRobin, nil
	default:
		return "", errors.Newf("invalid scheduler %q (expected priority|roundrobin)", s)
	}
}

// PriorityBounds is the legal priority range and the priority of new threads.
type PriorityBounds struct {
	Min     int
	Max     int
	Default int
}

// DefaultPriorityBounds matches the classic teaching-kernel range.
var DefaultPriorityBounds = PriorityBounds{Min: 0, Max: 7, Default: 1}

// Contains reports whether p lies within the bounds.
func (b PriorityBounds) Contains(p int) bool {
	return p >= b.Min && p <= b.Max
}

// Config configures a Kernel.
type Config struct {
	Scheduler SchedulerKind
	// TickInterval is the period of the timer interrupt, in ticks.
	TickInterval uint64
	// KernelTick is charged to the clock each time interrupts are re-enabled.
	KernelTick uint64
	// Priority is the legal priority range; nil means DefaultPriorityBounds.
	Priority *PriorityBounds
	// JoinDonation makes join queues transfer the joiner's priority to the
	// thread being joined.
	JoinDonation bool
	Clock        ClockMode
	// TickDuration is the length of one tick under ClockReal.
	TickDuration time.Duration
}

// DefaultConfig returns the configuration used when a field is left zero.
func DefaultConfig() Config {
	bounds := DefaultPriorityBounds
	return Config{
		Scheduler:    SchedulerPriority,
		TickInterval: 500,
		KernelTick:   10,
		Priority:     &bounds,
		Clock:        ClockVirtual,
		TickDuration: 10 * time.Microsecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Scheduler == "" {
		c.Scheduler = def.Scheduler
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.KernelTick == 0 {
		c.KernelTick = def.KernelTick
	}
	if c.Priority == nil {
		c.Priority = def.Priority
	} else {
		b := *c.Priority
		c.Priority = &b
	}
	if c.TickDuration <= 0 {
		c.TickDuration = def.TickDuration
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch c.Scheduler {
	case SchedulerPriority, SchedulerRoundRobin:
	default:
		return errors.Newf("unknown scheduler %q", c.Scheduler)
	}
	if c.Clock != ClockVirtual && c.Clock != ClockReal {
		return errors.Newf("unknown clock mode %d", c.Clock)
	}
	b := *c.Priority
	if b.Min > b.Max {
		return errors.Newf("priority min %d exceeds max %d", b.Min, b.Max)
	}
	if !b.Contains(b.Default) {
		return errors.Newf("default priority %d outside [%d, %d]", b.Default, b.Min, b.Max)
	}
	return nil
}
