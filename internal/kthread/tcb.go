package kthread

import "runtime"

// tcb is the goroutine that carries one thread's stack. A tcb runs only after
// another tcb resumes it, and parks again before the next one runs, so at most
// one tcb executes kernel code at a time.
type tcb struct {
	wake    chan struct{}
	kill    chan struct{}
	exited  chan struct{}
	started bool
	killed  bool
}

func newTCB() *tcb {
	return &tcb{
		wake:   make(chan struct{}, 1),
		kill:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// start launches the goroutine parked until its first dispatch.
func (c *tcb) start(k *Kernel, t *Thread, body func()) {
	c.started = true
	go func() {
		defer close(c.exited)
		defer k.recoverFault(t)
		c.park()
		body()
	}()
}

// resume hands the processor to this tcb.
func (c *tcb) resume() {
	c.wake <- struct{}{}
}

// park blocks until the tcb is resumed. A destroyed tcb never returns.
func (c *tcb) park() {
	select {
	case <-c.wake:
	case <-c.kill:
		runtime.Goexit()
	}
}

// destroy releases the goroutine of a thread that will never run again and
// waits for it to exit. It must not be called from that goroutine.
func (c *tcb) destroy() {
	if c == nil || !c.started {
		return
	}
	if !c.killed {
		c.killed = true
		close(c.kill)
	}
	<-c.exited
}
