package scenario

import (
	"time"

	"weft/internal/kthread"
)

// Result is the outcome of one scenario run.
type Result struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Scheduler string         `json:"scheduler"`
	Ticks     uint64         `json:"ticks"`
	Threads   []ThreadResult `json:"threads"`
	// FinishOrder lists scenario threads in the order their steps completed.
	FinishOrder []string       `json:"finish_order"`
	Log         []LogEntry     `json:"log"`
	Stats       *kthread.Stats `json:"stats,omitempty"`
	Elapsed     time.Duration  `json:"elapsed_ns"`

	// Err is the kernel's halt error; Error is its text for encoders.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the kernel ran to completion.
func (r *Result) OK() bool { return r.Err == nil }

// ThreadResult is the final state of one scenario thread.
type ThreadResult struct {
	Name       string `json:"name"`
	ID         uint64 `json:"id"`
	Priority   int    `json:"priority"`
	Status     string `json:"status"`
	FinishedAt uint64 `json:"finished_at,omitempty"`
	Heard      []int  `json:"heard,omitempty"`
}

// LogEntry records a step after it completed.
type LogEntry struct {
	Tick   uint64 `json:"tick"`
	Thread string `json:"thread"`
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
}

// result collects the run's outcome. The kernel has halted, so nothing else
// touches the runner or the kernel.
func (r *runner) result() *Result {
	res := &Result{
		Name:        r.sc.Name,
		Path:        r.sc.Path,
		Scheduler:   string(r.k.Config().Scheduler),
		Ticks:       r.k.Now(),
		FinishOrder: r.finishOrder,
		Log:         r.log,
	}
	for i := range r.sc.Threads {
		ts := &r.sc.Threads[i]
		tr := ThreadResult{Name: ts.Name, Status: kthread.StatusNew.String()}
		if th, ok := r.threads[ts.Name]; ok {
			tr.ID = uint64(th.ID())
			tr.Priority = r.k.Priority(th)
			tr.Status = th.Status().String()
			tr.FinishedAt = th.FinishedAt()
		}
		tr.Heard = r.heard[ts.Name]
		res.Threads = append(res.Threads, tr)
	}
	if ps, ok := r.k.Scheduler().(*kthread.PriorityScheduler); ok {
		st := ps.Stats()
		res.Stats = &st
	}
	return res
}
