package kthread

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"weft/internal/trace"
)

// Kernel is one single-processor thread system: the dispatcher, its ready
// queue and every piece of state shared by the threads it runs.
// A Kernel runs once.
type Kernel struct {
	cfg    Config
	ctx    context.Context
	tracer trace.Tracer

	clock      Clock
	interrupt  *Interrupt
	scheduler  Scheduler
	readyQueue ThreadQueue
	alarm      *Alarm

	nextID  ThreadID
	threads map[ThreadID]*Thread

	current       *Thread
	idle          *Thread
	main          *Thread
	toBeDestroyed *Thread
	runnable      int

	booted bool
	halted bool
	err    error
	done   chan struct{}
}

// NewKernel validates cfg and builds a kernel that has not booted yet.
func NewKernel(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "kernel config")
	}
	cfg = cfg.withDefaults()

	k := &Kernel{
		cfg:     cfg,
		ctx:     context.Background(),
		tracer:  trace.Nop,
		threads: make(map[ThreadID]*Thread),
		done:    make(chan struct{}),
	}
	switch cfg.Clock {
	case ClockReal:
		k.clock = NewRealClock(cfg.TickDuration)
	default:
		k.clock = &VirtualClock{}
	}
	k.interrupt = newInterrupt(k)

	// The ready queue comes first; threads are created after it.
	switch cfg.Scheduler {
	case SchedulerRoundRobin:
		k.scheduler = NewRoundRobinScheduler(*cfg.Priority, k.interrupt)
	default:
		k.scheduler = NewPriorityScheduler(*cfg.Priority, k.interrupt)
	}
	k.readyQueue = k.scheduler.NewThreadQueue(false)
	k.alarm = newAlarm(k)
	return k, nil
}

// Run boots the kernel with main as its first thread and blocks until the
// kernel halts. It returns nil once no thread is left to run, a
// *DeadlockError when threads remain blocked with nothing to wake them, a
// *FaultError when a thread panicked, or ctx's error when ctx was done at a
// dispatch point.
func (k *Kernel) Run(ctx context.Context, main func()) error {
	assertf(!k.booted, "kernel already booted")
	assertf(main != nil, "kernel needs a main function")
	if ctx == nil {
		ctx = context.Background()
	}
	k.booted = true
	k.ctx = ctx
	k.tracer = trace.FromContext(ctx)
	if s, ok := k.scheduler.(tracedScheduler); ok {
		s.setTracer(k.tracer, k.clock.Now)
	}

	t := k.newThread("main")
	t.target = main
	k.main = t
	t.tcb = newTCB()
	t.tcb.start(k, t, func() {
		k.boot(t)
		t.target()
		k.Finish()
	})
	t.tcb.resume()

	<-k.done
	return k.err
}

func (k *Kernel) boot(main *Thread) {
	k.interrupt.Disable()
	k.current = main
	k.emit(trace.ScopeKernel, "boot", main,
		"scheduler", string(k.cfg.Scheduler),
		"clock", k.cfg.Clock.String())
	k.readyQueue.Acquire(main)
	main.restoreState()

	k.idle = k.newThread("idle")
	k.idle.target = k.idleLoop
	k.idle.Fork()

	k.interrupt.Enable()
}

func (k *Kernel) newThread(name string) *Thread {
	if name == "" {
		name = "(unnamed thread)"
	}
	k.nextID++
	t := &Thread{k: k, id: k.nextID, name: name}
	k.threads[t.id] = t
	return t
}

// NewThread creates a thread that will run fn once forked.
func (k *Kernel) NewThread(name string, fn func()) *Thread {
	t := k.newThread(name)
	t.target = fn
	return t
}

// Yield gives up the processor if another thread is ready. The current
// thread stays ready and runs again when selected.
func (k *Kernel) Yield() {
	cur := k.current
	assertf(cur.status == StatusRunning, "%s yields in state %s", cur, cur.status)

	prev := k.interrupt.Disable()
	k.emit(trace.ScopeDispatch, "yield", cur)
	cur.Ready()
	k.runNextThread()
	k.interrupt.Restore(prev)
}

// Sleep blocks the current thread until another thread readies it. The
// caller must have disabled interrupts. A finished thread never returns.
func (k *Kernel) Sleep() {
	k.interrupt.assertDisabled("sleep")
	cur := k.current
	if cur.status != StatusFinished {
		cur.status = StatusBlocked
		k.emit(trace.ScopeDispatch, "block", cur)
	}
	k.runNextThread()
}

// Finish ends the current thread. Joiners are released and the thread is
// reclaimed by whichever thread runs next.
func (k *Kernel) Finish() {
	k.interrupt.Disable()
	cur := k.current
	assertf(k.toBeDestroyed == nil, "%s finishes before %s was reclaimed", cur, k.toBeDestroyed)

	cur.status = StatusFinished
	cur.finishedAt = k.clock.Now()
	k.emit(trace.ScopeThread, "finish", cur)
	cur.releaseJoiners()

	k.toBeDestroyed = cur
	k.Sleep()
	assertf(false, "%s resumed after finishing", cur)
}

func (k *Kernel) runNextThread() {
	if err := k.ctx.Err(); err != nil {
		k.halt(err)
	}
	next := k.readyQueue.NextThread()
	if next == nil {
		next = k.idle
	} else {
		k.runnable--
	}
	k.run(next)
}

// run switches the processor to next and returns when the calling thread is
// dispatched again.
func (k *Kernel) run(next *Thread) {
	k.interrupt.assertDisabled("run")
	prev := k.current
	prev.saveState()
	k.current = next

	if next != prev {
		k.emit(trace.ScopeDispatch, "switch", next, "from", prev.String())
		// prev.tcb may be cleared by next once it is reclaimed.
		self := prev.tcb
		next.tcb.resume()
		self.park()
	}
	k.current.restoreState()
}

// idleLoop runs only when nothing else is ready. It idles the clock until
// the next alarm is due, and halts the kernel when no alarm is pending or the
// earliest one falls past the end of the clock.
func (k *Kernel) idleLoop() {
	for {
		k.Yield()

		prev := k.interrupt.Disable()
		if k.runnable == 0 {
			wake, ok := k.alarm.NextWake()
			if !ok {
				k.halt(k.deadlock())
			}
			at, ok := k.interrupt.nextTimerAtOrAfter(wake)
			if !ok {
				k.halt(k.deadlock())
			}
			k.emit(trace.ScopeKernel, "idle", k.idle, "until", strconv.FormatUint(at, 10))
			k.clock.SleepUntil(at)
			k.interrupt.checkTimer()
		}
		k.interrupt.Restore(prev)
	}
}

func (k *Kernel) deadlock() error {
	var blocked []string
	for _, t := range k.Threads() {
		if t.status == StatusBlocked {
			blocked = append(blocked, t.String())
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	return &DeadlockError{Tick: k.clock.Now(), Blocked: blocked}
}

// halt stops the kernel from the thread holding the processor. Every other
// thread goroutine is released before Run returns. halt does not return.
func (k *Kernel) halt(err error) {
	k.halted = true
	k.err = err
	self := k.current
	if err != nil {
		k.emit(trace.ScopeKernel, "halt", self, "error", err.Error())
	} else {
		k.emit(trace.ScopeKernel, "halt", self)
	}
	_ = k.tracer.Flush()

	for _, t := range k.Threads() {
		if t == self || t.tcb == nil {
			continue
		}
		t.tcb.destroy()
		t.tcb = nil
	}
	k.toBeDestroyed = nil
	// Leave interrupts off so inspecting a halted kernel never ticks the clock.
	k.interrupt.enabled = false
	close(k.done)
	runtime.Goexit()
}

// recoverFault is deferred by every thread goroutine. A panic while holding
// the processor halts the kernel with a *FaultError.
func (k *Kernel) recoverFault(t *Thread) {
	r := recover()
	if r == nil {
		return
	}
	k.halt(&FaultError{Thread: t.String(), Cause: panicToError(r)})
}

func (k *Kernel) emit(scope trace.Scope, name string, t *Thread, kv ...string) {
	if !k.tracer.Level().ShouldEmit(scope) {
		return
	}
	ev := &trace.Event{
		Time:  time.Now(),
		Kind:  trace.KindPoint,
		Scope: scope,
		Name:  name,
		Tick:  k.clock.Now(),
	}
	if t != nil {
		ev.Thread = t.String()
	}
	if len(kv) > 1 {
		ev.Extra = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev.Extra[kv[i]] = kv[i+1]
		}
	}
	k.tracer.Emit(ev)
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Now returns the current tick.
func (k *Kernel) Now() uint64 { return k.clock.Now() }

// CurrentThread returns the thread holding the processor.
func (k *Kernel) CurrentThread() *Thread { return k.current }

// MainThread returns the thread running the function passed to Run.
func (k *Kernel) MainThread() *Thread { return k.main }

// Idle returns the idle thread, or nil before boot.
func (k *Kernel) Idle() *Thread { return k.idle }

// Interrupt returns the interrupt gate.
func (k *Kernel) Interrupt() *Interrupt { return k.interrupt }

// Scheduler returns the active queuing policy.
func (k *Kernel) Scheduler() Scheduler { return k.scheduler }

// Alarm returns the timer sleep facility.
func (k *Kernel) Alarm() *Alarm { return k.alarm }

// Threads returns every thread created so far, ordered by id.
func (k *Kernel) Threads() []*Thread {
	out := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Thread) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// SetPriority sets t's base priority.
func (k *Kernel) SetPriority(t *Thread, priority int) {
	prev := k.interrupt.Disable()
	k.scheduler.SetPriority(t, priority)
	k.interrupt.Restore(prev)
}

// Priority returns t's base priority.
func (k *Kernel) Priority(t *Thread) int {
	prev := k.interrupt.Disable()
	defer k.interrupt.Restore(prev)
	return k.scheduler.Priority(t)
}

// EffectivePriority returns t's priority including donations.
func (k *Kernel) EffectivePriority(t *Thread) int {
	prev := k.interrupt.Disable()
	defer k.interrupt.Restore(prev)
	return k.scheduler.EffectivePriority(t)
}

// IncreasePriority raises the current thread's priority by one. It reports
// false when the priority is already at the maximum.
func (k *Kernel) IncreasePriority() bool {
	prev := k.interrupt.Disable()
	defer k.interrupt.Restore(prev)
	return k.scheduler.IncreasePriority(k.current)
}

// DecreasePriority lowers the current thread's priority by one. It reports
// false when the priority is already at the minimum.
func (k *Kernel) DecreasePriority() bool {
	prev := k.interrupt.Disable()
	defer k.interrupt.Restore(prev)
	return k.scheduler.DecreasePriority(k.current)
}
