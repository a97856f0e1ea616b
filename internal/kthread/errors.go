package kthread

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// DeadlockError reports threads that were still blocked when the kernel ran
// out of runnable threads and pending alarms.
type DeadlockError struct {
	Tick    uint64
	Blocked []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock at tick %d: %d thread(s) blocked: %s",
		e.Tick, len(e.Blocked), strings.Join(e.Blocked, ", "))
}

// FaultError wraps a panic raised while a kernel thread held the processor.
type FaultError struct {
	Thread string
	Cause  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("kernel fault in %s: %v", e.Thread, e.Cause)
}

func (e *FaultError) Unwrap() error { return e.Cause }

// IsAssertionFailure reports whether err, or any error it wraps, is a
// violated kernel invariant.
func IsAssertionFailure(err error) bool {
	return errors.HasAssertionFailure(err)
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

func panicToError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	case string:
		return errors.Newf("%s", v)
	default:
		return errors.Newf("%v", v)
	}
}
