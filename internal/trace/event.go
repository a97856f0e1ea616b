package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
	KindHeartbeat // periodic liveness signal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent coarser events.
type Scope uint8

const (
	// ScopeKernel covers boot, halt and idling of a kernel and whole
	// scenario runs.
	ScopeKernel Scope = iota + 1
	// ScopeThread covers thread lifecycle: fork, join, finish.
	ScopeThread
	// ScopeDispatch covers ready, block and context switches.
	ScopeDispatch
	// ScopeQueue covers queue membership and priority donation.
	ScopeQueue
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeKernel:
		return "kernel"
	case ScopeThread:
		return "thread"
	case ScopeDispatch:
		return "dispatch"
	case ScopeQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         `msgpack:"time"`
	Seq      uint64            `msgpack:"seq"`
	Kind     Kind              `msgpack:"kind"`
	Scope    Scope             `msgpack:"scope"`
	SpanID   uint64            `msgpack:"span,omitempty"`
	ParentID uint64            `msgpack:"parent,omitempty"`
	Tick     uint64            `msgpack:"tick"`             // kernel clock when emitted
	Thread   string            `msgpack:"thread,omitempty"` // e.g. "worker (#3)"
	Name     string            `msgpack:"name"`             // e.g. "fork", "switch", "acquire"
	Detail   string            `msgpack:"detail,omitempty"`
	Extra    map[string]string `msgpack:"extra,omitempty"`
}

// stamp fills the sequence number, and the time when the emitter left it zero.
func (ev *Event) stamp() {
	ev.Seq = NextSeq()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
}
