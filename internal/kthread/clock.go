package kthread

import (
	"math"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
)

// ClockMode controls whether kernel time is virtual or follows the wall clock.
type ClockMode uint8

const (
	ClockVirtual ClockMode = iota
	ClockReal
)

func (m ClockMode) String() string {
	switch m {
	case ClockVirtual:
		return "virtual"
	case ClockReal:
		return "real"
	default:
		return "unknown"
	}
}

// ParseClockMode converts a config string to a ClockMode.
func ParseClockMode(s string) (ClockMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "virtual":
		return ClockVirtual, nil
	case "real":
		return ClockReal, nil
	default:
		return ClockVirtual, errors.Newf("invalid clock mode %q (expected virtual|real)", s)
	}
}

// Clock supplies monotonically increasing kernel time in ticks.
type Clock interface {
	Now() uint64
	// Advance charges ticks of simulated work.
	Advance(ticks uint64)
	// SleepUntil idles the processor until Now() >= deadline.
	SleepUntil(deadline uint64)
}

// VirtualClock only moves when charged, which keeps runs deterministic.
type VirtualClock struct {
	now uint64
}

func (c *VirtualClock) Now() uint64 {
	if c == nil {
		return 0
	}
	return c.now
}

func (c *VirtualClock) Advance(ticks uint64) {
	if c == nil {
		return
	}
	if ticks > math.MaxUint64-c.now {
		c.now = math.MaxUint64
		return
	}
	c.now += ticks
}

func (c *VirtualClock) SleepUntil(deadline uint64) {
	if c == nil || deadline <= c.now {
		return
	}
	c.now = deadline
}

// RealClock counts ticks of TickDuration since it was created.
// Advance is a no-op: wall time passes on its own.
type RealClock struct {
	start time.Time
	tick  time.Duration
}

// NewRealClock returns a clock whose tick lasts d.
func NewRealClock(d time.Duration) *RealClock {
	if d <= 0 {
		d = time.Microsecond
	}
	return &RealClock{start: time.Now(), tick: d}
}

func (c *RealClock) Now() uint64 {
	if c == nil {
		return 0
	}
	elapsed := int64(time.Since(c.start) / c.tick)
	now, err := safecast.Conv[uint64](elapsed)
	if err != nil {
		return 0
	}
	return now
}

func (c *RealClock) Advance(uint64) {}

func (c *RealClock) SleepUntil(deadline uint64) {
	if c == nil {
		return
	}
	now := c.Now()
	if deadline <= now {
		return
	}
	delta := deadline - now
	maxTicks := uint64(math.MaxInt64 / int64(c.tick))
	if delta > maxTicks {
		delta = maxTicks
	}
	n, err := safecast.Conv[int64](delta)
	if err != nil {
		return
	}
	time.Sleep(time.Duration(n) * c.tick)
}
