package scenario

import (
	"context"
	"strconv"
	"time"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"weft/internal/kthread"
	"weft/internal/trace"
)

// State is the progress state of one scenario in a batch.
type State uint8

const (
	StateQueued State = iota
	StateRunning
	StatePassed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress reports a state change of the scenario at Index.
type Progress struct {
	Index int
	Name  string
	Path  string
	State State
	Err   error
}

// Options controls scenario runs.
type Options struct {
	// Parallel caps concurrent kernels in RunAll; zero means no limit.
	Parallel int
	// OnProgress is called from the running goroutines and must be safe for
	// concurrent use.
	OnProgress func(Progress)
}

func (o Options) notify(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// Run executes sc on a fresh kernel. The returned error reports a scenario
// that could not be started; a kernel that halted abnormally is reported in
// Result.Err.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	cfg, err := sc.KernelConfig()
	if err != nil {
		return nil, err
	}
	k, err := kthread.NewKernel(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", sc.Path)
	}

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeKernel, "scenario", trace.ParentSpan(ctx), k.Now).
		WithExtra("name", sc.Name).
		WithExtra("scheduler", string(cfg.Scheduler))

	r := newRunner(sc, k)
	start := time.Now()
	runErr := k.Run(ctx, r.main)
	elapsed := time.Since(start)

	res := r.result()
	res.Elapsed = elapsed
	res.Err = runErr
	if runErr != nil {
		res.Error = runErr.Error()
		span.End("failed")
	} else {
		span.End("ok")
	}
	return res, nil
}

// RunAll runs every scenario on its own kernel, concurrently. Results keep
// the input order. A scenario that cannot start cancels the rest.
func RunAll(ctx context.Context, scenarios []*Scenario, opts Options) ([]*Result, error) {
	results := make([]*Result, len(scenarios))
	for i, sc := range scenarios {
		opts.notify(Progress{Index: i, Name: sc.Name, Path: sc.Path, State: StateQueued})
	}

	batch := trace.Begin(trace.FromContext(ctx), trace.ScopeKernel, "batch", trace.ParentSpan(ctx), nil).
		WithExtra("scenarios", strconv.Itoa(len(scenarios)))
	g, gctx := errgroup.WithContext(trace.WithSpan(ctx, batch))
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for i, sc := range scenarios {
		g.Go(func() error {
			opts.notify(Progress{Index: i, Name: sc.Name, Path: sc.Path, State: StateRunning})
			res, err := Run(gctx, sc, opts)
			if err != nil {
				opts.notify(Progress{Index: i, Name: sc.Name, Path: sc.Path, State: StateFailed, Err: err})
				return err
			}
			results[i] = res
			state := StatePassed
			if res.Err != nil {
				state = StateFailed
			}
			opts.notify(Progress{Index: i, Name: sc.Name, Path: sc.Path, State: state, Err: res.Err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		batch.End("aborted")
		return results, err
	}
	batch.End("done")
	return results, nil
}

// runner holds the objects of one scenario run. Its fields are touched only
// by kernel threads, one at a time.
type runner struct {
	sc *Scenario
	k  *kthread.Kernel

	locks   map[string]*kthread.Lock
	conds   map[string]*kthread.Condition
	chans   map[string]*kthread.Communicator
	threads map[string]*kthread.Thread

	heard       map[string][]int
	finishOrder []string
	log         []LogEntry
}

func newRunner(sc *Scenario, k *kthread.Kernel) *runner {
	return &runner{
		sc:      sc,
		k:       k,
		locks:   make(map[string]*kthread.Lock, len(sc.Locks)),
		conds:   make(map[string]*kthread.Condition, len(sc.Conditions)),
		chans:   make(map[string]*kthread.Communicator, len(sc.Channels)),
		threads: make(map[string]*kthread.Thread, len(sc.Threads)),
		heard:   make(map[string][]int),
	}
}

func (r *runner) main() {
	for _, l := range r.sc.Locks {
		r.locks[l.Name] = r.k.NewLock(l.Name)
	}
	for _, c := range r.sc.Conditions {
		r.conds[c.Name] = kthread.NewCondition(c.Name, r.locks[c.Lock])
	}
	for _, c := range r.sc.Channels {
		r.chans[c.Name] = r.k.NewCommunicator(c.Name)
	}

	for i := range r.sc.Threads {
		ts := &r.sc.Threads[i]
		th := r.k.NewThread(ts.Name, r.body(ts))
		if ts.Priority != nil {
			r.k.SetPriority(th, *ts.Priority)
		}
		r.threads[ts.Name] = th
	}

	var started []*kthread.Thread
	for i := range r.sc.Threads {
		ts := &r.sc.Threads[i]
		if !ts.AutoStarts() {
			continue
		}
		th := r.threads[ts.Name]
		th.Fork()
		started = append(started, th)
	}
	for _, th := range started {
		th.Join()
	}
}

func (r *runner) body(ts *ThreadSpec) func() {
	return func() {
		for i, st := range ts.Program() {
			r.exec(ts.Name, i, st)
		}
		r.finishOrder = append(r.finishOrder, ts.Name)
	}
}

func (r *runner) exec(thread string, idx int, st Step) {
	k := r.k
	detail := st.Target
	switch st.Op {
	case OpYield:
		for n := int64(0); n < st.N; n++ {
			k.Yield()
		}
		detail = strconv.FormatInt(st.N, 10)
	case OpAcquire:
		r.locks[st.Target].Acquire()
	case OpRelease:
		r.locks[st.Target].Release()
	case OpWait:
		r.conds[st.Target].Sleep()
	case OpSignal:
		r.conds[st.Target].Wake()
	case OpBroadcast:
		r.conds[st.Target].WakeAll()
	case OpSleep:
		k.Alarm().WaitUntil(st.N)
		detail = strconv.FormatInt(st.N, 10)
	case OpJoin:
		r.threads[st.Target].Join()
	case OpFork:
		r.threads[st.Target].Fork()
	case OpSpeak:
		r.chans[st.Target].Speak(mustInt(st.N))
		detail = st.Target + " " + strconv.FormatInt(st.N, 10)
	case OpListen:
		w := r.chans[st.Target].Listen()
		r.heard[thread] = append(r.heard[thread], w)
		detail = st.Target + " " + strconv.Itoa(w)
	case OpPriority:
		k.SetPriority(k.CurrentThread(), mustInt(st.N))
		detail = strconv.FormatInt(st.N, 10)
	case OpLog:
		detail = st.Text
	}
	r.log = append(r.log, LogEntry{
		Tick:   k.Now(),
		Thread: thread,
		Step:   idx,
		Op:     st.Op.String(),
		Detail: detail,
	})
}

func mustInt(n int64) int {
	v, err := safecast.Conv[int](n)
	if err != nil {
		panic(errors.Wrapf(err, "value %d out of range", n))
	}
	return v
}
