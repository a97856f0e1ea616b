package trace

import (
	"maps"
	"strconv"
	"sync"
	"time"
)

// Probe samples what a heartbeat reports, such as scenario batch progress.
// It runs on the heartbeat goroutine and must be safe for concurrent use.
type Probe func() map[string]string

// Heartbeat emits a heartbeat event at a fixed interval. A beat whose probe
// sample equals the previous one is marked stalled: kernels run on virtual
// time, so a batch that makes no progress between beats usually has a
// thread spinning without yielding.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	probe    Probe
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartHeartbeat starts the heartbeat goroutine. It returns nil when tracing
// is off or interval is not positive. probe may be nil.
func StartHeartbeat(tracer Tracer, interval time.Duration, probe Probe) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		probe:    probe,
		stopCh:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var (
		seq  uint64
		last map[string]string
	)
	for {
		select {
		case <-ticker.C:
			seq++
			var sample map[string]string
			if h.probe != nil {
				sample = h.probe()
			}
			detail := "#" + strconv.FormatUint(seq, 10)
			if seq > 1 && sample != nil && maps.Equal(sample, last) {
				detail += " stalled"
			}
			last = sample
			h.tracer.Emit(&Event{
				Time:   time.Now(),
				Kind:   KindHeartbeat,
				Scope:  ScopeKernel,
				Name:   "heartbeat",
				Detail: detail,
				Extra:  sample,
			})
		case <-h.stopCh:
			return
		}
	}
}

// Stop ends the heartbeat goroutine and waits for it. It is safe to call
// more than once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}
