package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopTicksMonotonically(t *testing.T) {
	var last atomic.Uint64
	var violations atomic.Int64
	loop := NewLoop(200, func(tick uint64, _ time.Duration) {
		if tick != last.Load()+1 {
			violations.Add(1)
		}
		last.Store(tick)
	})

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	loop.Stop()

	if violations.Load() != 0 {
		t.Fatalf("tick counter skipped or regressed %d times", violations.Load())
	}
	if last.Load() == 0 {
		t.Fatalf("loop never ticked")
	}
	metrics := loop.Metrics()
	if metrics.Samples == 0 {
		t.Fatalf("monitor recorded no samples")
	}
}

func TestLoopStopWithoutContextCancel(t *testing.T) {
	var ticked atomic.Uint64
	loop := NewLoop(200, func(tick uint64, _ time.Duration) {
		ticked.Store(tick)
	})
	loop.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	//1.- Stop alone must terminate the loop even with a live context.
	done := make(chan struct{})
	go func() {
		loop.Stop()
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked without context cancellation")
	}
	if ticked.Load() == 0 {
		t.Fatalf("loop never ticked before Stop")
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(50, nil)
	if got := loop.StepDuration(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms step at 50 Hz, got %v", got)
	}
}

func TestTickMonitorAggregates(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.Observe(10 * time.Millisecond)
	monitor.Observe(30 * time.Millisecond)

	snapshot := monitor.Snapshot()
	if snapshot.Samples != 2 {
		t.Fatalf("expected 2 samples, got %d", snapshot.Samples)
	}
	if snapshot.Average != 20*time.Millisecond {
		t.Fatalf("expected 20ms average, got %v", snapshot.Average)
	}
	if snapshot.Max != 30*time.Millisecond {
		t.Fatalf("expected 30ms max, got %v", snapshot.Max)
	}
	if !snapshot.Overrunning(25 * time.Millisecond) {
		t.Fatalf("expected overrun against a 25ms budget")
	}
	if snapshot.Overrunning(40 * time.Millisecond) {
		t.Fatalf("unexpected overrun against a 40ms budget")
	}
}
