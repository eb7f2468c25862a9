package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc runs one fixed simulation step. The loop owns the tick counter
// and guarantees it increases by exactly one per invocation.
type StepFunc func(tick uint64, step time.Duration)

// Loop drives the authoritative simulation at a fixed rate, catching up with
// extra steps after stalls so the tick counter tracks wall-clock time.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	ticker   *time.Ticker
	done     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	tick     uint64
}

// NewLoop configures a loop targeting the provided tick rate in Hz.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 30
	}
	if step == nil {
		step = func(uint64, time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &Loop{
		step:     interval,
		stepFunc: step,
		monitor:  NewTickMonitor(),
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	l.ticker = time.NewTicker(l.step)
	l.done = make(chan struct{})
	l.quit = make(chan struct{})
	go func() {
		defer close(l.done)
		defer l.ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.quit:
				return
			case now := <-l.ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					l.tick++
					started := time.Now()
					l.stepFunc(l.tick, l.step)
					l.monitor.Observe(time.Since(started))
					accumulator -= l.step
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the goroutine to exit. It works with or
// without a prior context cancellation and is safe to call more than once.
func (l *Loop) Stop() {
	if l == nil || l.done == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.quit) })
	<-l.done
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Metrics returns the aggregated tick timing statistics.
func (l *Loop) Metrics() TickMetricsSnapshot {
	if l == nil {
		return TickMetricsSnapshot{}
	}
	return l.monitor.Snapshot()
}
