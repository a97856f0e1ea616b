package trace

import (
	"strconv"
	"sync/atomic"
	"time"
)

var (
	globalSeq   atomic.Uint64
	globalSpans atomic.Uint64
)

// NextSeq returns a process-wide increasing sequence number.
func NextSeq() uint64 { return globalSeq.Add(1) }

// NextSpanID returns a unique span id.
func NextSpanID() uint64 { return globalSpans.Add(1) }

// Span brackets a stretch of kernel work. Both ends carry the kernel tick
// read from the span's clock, and the end event reports the ticks and wall
// time spent in between.
type Span struct {
	tracer    Tracer
	id        uint64
	parentID  uint64
	scope     Scope
	name      string
	clock     func() uint64
	startTick uint64
	started   time.Time
	extra     map[string]string
}

// Begin starts a span and emits its begin event. clock reads the kernel tick
// and may be nil for spans that cover several kernels. parent is 0 for a
// root span.
func Begin(t Tracer, scope Scope, name string, parent uint64, clock func() uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{tracer: Nop}
	}
	s := &Span{
		tracer:   t,
		id:       NextSpanID(),
		parentID: parent,
		scope:    scope,
		name:     name,
		clock:    clock,
		started:  time.Now(),
	}
	s.startTick = s.tick()
	t.Emit(&Event{
		Time:     s.started,
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   s.id,
		ParentID: parent,
		Tick:     s.startTick,
		Name:     name,
	})
	return s
}

func (s *Span) tick() uint64 {
	if s.clock == nil {
		return 0
	}
	return s.clock()
}

// End emits the end event with detail and returns the wall time spent.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return 0
	}
	now := time.Now()
	dur := now.Sub(s.started)
	tick := s.tick()
	if s.clock != nil {
		s.WithExtra("ticks", strconv.FormatUint(tick-s.startTick, 10))
	}
	s.WithExtra("wall", dur.String())

	s.tracer.Emit(&Event{
		Time:     now,
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parentID,
		Tick:     tick,
		Name:     s.name,
		Detail:   detail,
		Extra:    s.extra,
	})
	return dur
}

// WithExtra adds a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra[key] = value
	return s
}

// ID returns the span id, or 0 for a span that is not recorded.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
