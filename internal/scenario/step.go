package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
)

// Op is a step operation.
type Op uint8

const (
	OpYield Op = iota + 1
	OpAcquire
	OpRelease
	OpWait
	OpSignal
	OpBroadcast
	OpSleep
	OpJoin
	OpFork
	OpSpeak
	OpListen
	OpPriority
	OpLog
)

var opNames = map[string]Op{
	"yield":     OpYield,
	"acquire":   OpAcquire,
	"release":   OpRelease,
	"wait":      OpWait,
	"signal":    OpSignal,
	"broadcast": OpBroadcast,
	"sleep":     OpSleep,
	"join":      OpJoin,
	"fork":      OpFork,
	"speak":     OpSpeak,
	"listen":    OpListen,
	"priority":  OpPriority,
	"log":       OpLog,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return "unknown"
}

// Step is one parsed thread instruction.
type Step struct {
	Op Op
	// Target names the lock, condition, channel or thread the step acts on.
	Target string
	// N is the yield count, sleep ticks, spoken word or new priority.
	N int64
	// Text is the message of a log step.
	Text string
	// Source is the step as written.
	Source string
}

// ParseStep parses a single step string such as "acquire L" or "sleep 100".
func ParseStep(src string) (Step, error) {
	fields := strings.Fields(src)
	if len(fields) == 0 {
		return Step{}, errors.New("empty step")
	}
	op, ok := opNames[strings.ToLower(fields[0])]
	if !ok {
		return Step{}, errors.Newf("unknown operation %q", fields[0])
	}
	st := Step{Op: op, Source: strings.TrimSpace(src)}
	args := fields[1:]

	switch op {
	case OpYield:
		st.N = 1
		if len(args) > 1 {
			return Step{}, errors.New("yield takes at most one count")
		}
		if len(args) == 1 {
			n, err := parseInt(args[0])
			if err != nil {
				return Step{}, err
			}
			if n < 1 {
				return Step{}, errors.Newf("yield count must be positive, got %d", n)
			}
			st.N = n
		}
	case OpAcquire, OpRelease, OpWait, OpSignal, OpBroadcast, OpJoin, OpFork, OpListen:
		if len(args) != 1 {
			return Step{}, errors.Newf("%s takes exactly one name", op)
		}
		st.Target = args[0]
	case OpSleep, OpPriority:
		if len(args) != 1 {
			return Step{}, errors.Newf("%s takes exactly one number", op)
		}
		n, err := parseInt(args[0])
		if err != nil {
			return Step{}, err
		}
		st.N = n
	case OpSpeak:
		if len(args) != 2 {
			return Step{}, errors.New("speak takes a channel and a word")
		}
		n, err := parseInt(args[1])
		if err != nil {
			return Step{}, err
		}
		st.Target, st.N = args[0], n
	case OpLog:
		st.Text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(src), fields[0]))
		if st.Text == "" {
			return Step{}, errors.New("log needs a message")
		}
	}
	return st, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid number %q", s)
	}
	return n, nil
}

func (s *Scenario) validate() error {
	locks := make(map[string]bool, len(s.Locks))
	for i, l := range s.Locks {
		if l.Name == "" {
			return errors.Newf("%s: lock %d has no name", s.Path, i)
		}
		if locks[l.Name] {
			return errors.Newf("%s: duplicate lock %q", s.Path, l.Name)
		}
		locks[l.Name] = true
	}
	conds := make(map[string]bool, len(s.Conditions))
	for i, c := range s.Conditions {
		if c.Name == "" {
			return errors.Newf("%s: condition %d has no name", s.Path, i)
		}
		if conds[c.Name] {
			return errors.Newf("%s: duplicate condition %q", s.Path, c.Name)
		}
		if !locks[c.Lock] {
			return errors.Newf("%s: condition %q uses unknown lock %q", s.Path, c.Name, c.Lock)
		}
		conds[c.Name] = true
	}
	chans := make(map[string]bool, len(s.Channels))
	for i, c := range s.Channels {
		if c.Name == "" {
			return errors.Newf("%s: channel %d has no name", s.Path, i)
		}
		if chans[c.Name] {
			return errors.Newf("%s: duplicate channel %q", s.Path, c.Name)
		}
		chans[c.Name] = true
	}

	threads := make(map[string]*ThreadSpec, len(s.Threads))
	for i := range s.Threads {
		t := &s.Threads[i]
		if t.Name == "" {
			return errors.Newf("%s: thread %d has no name", s.Path, i)
		}
		if t.Name == "main" || t.Name == "idle" {
			return errors.Newf("%s: thread name %q is reserved", s.Path, t.Name)
		}
		if threads[t.Name] != nil {
			return errors.Newf("%s: duplicate thread %q", s.Path, t.Name)
		}
		threads[t.Name] = t
	}

	cfg, err := s.KernelConfig()
	if err != nil {
		return err
	}
	bounds := *cfg.Priority

	forked := make(map[string]bool)
	for i := range s.Threads {
		t := &s.Threads[i]
		if t.Priority != nil && !bounds.Contains(*t.Priority) {
			return errors.Newf("%s: thread %q: priority %d outside [%d, %d]",
				s.Path, t.Name, *t.Priority, bounds.Min, bounds.Max)
		}
		t.parsed = make([]Step, 0, len(t.Steps))
		for j, src := range t.Steps {
			fail := func(format string, args ...any) error {
				return errors.Newf("%s: thread %q step %d (%q): %s",
					s.Path, t.Name, j, src, fmt.Sprintf(format, args...))
			}
			st, err := ParseStep(src)
			if err != nil {
				return fail("%v", err)
			}
			switch st.Op {
			case OpAcquire, OpRelease:
				if !locks[st.Target] {
					return fail("unknown lock %q", st.Target)
				}
			case OpWait, OpSignal, OpBroadcast:
				if !conds[st.Target] {
					return fail("unknown condition %q", st.Target)
				}
			case OpSpeak, OpListen:
				if !chans[st.Target] {
					return fail("unknown channel %q", st.Target)
				}
				if st.Op == OpSpeak {
					if _, err := safecast.Conv[int](st.N); err != nil {
						return fail("word %d does not fit in an int", st.N)
					}
				}
			case OpJoin:
				if threads[st.Target] == nil {
					return fail("unknown thread %q", st.Target)
				}
				if st.Target == t.Name {
					return fail("a thread cannot join itself")
				}
			case OpFork:
				target := threads[st.Target]
				if target == nil {
					return fail("unknown thread %q", st.Target)
				}
				if target.AutoStarts() {
					return fail("thread %q starts automatically; set autostart = false to fork it", st.Target)
				}
				if forked[st.Target] {
					return fail("thread %q is forked more than once", st.Target)
				}
				forked[st.Target] = true
			case OpPriority:
				p, err := safecast.Conv[int](st.N)
				if err != nil || !bounds.Contains(p) {
					return fail("priority %d outside [%d, %d]", st.N, bounds.Min, bounds.Max)
				}
			case OpSleep:
				if st.N < 0 {
					return fail("sleep ticks must not be negative")
				}
			}
			t.parsed = append(t.parsed, st)
		}
	}
	return nil
}
