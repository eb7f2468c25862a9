package world

import (
	"errors"
	"testing"
)

func snapshotAt(tick uint64) *Snapshot {
	return NewSnapshot(tick)
}

func TestHistoryPushRequiresAdvancingTicks(t *testing.T) {
	history := NewHistory(8)
	if err := history.Push(snapshotAt(3)); err != nil {
		t.Fatalf("push tick 3: %v", err)
	}
	if err := history.Push(snapshotAt(3)); err == nil {
		t.Fatalf("expected duplicate tick to be rejected")
	}
	if err := history.Push(snapshotAt(2)); err == nil {
		t.Fatalf("expected regressing tick to be rejected")
	}
	//1.- Gaps are legal because clients only see the send cadence.
	if err := history.Push(snapshotAt(9)); err != nil {
		t.Fatalf("push tick 9: %v", err)
	}
}

func TestHistoryEvictsPastDepth(t *testing.T) {
	history := NewHistory(3)
	for tick := uint64(1); tick <= 5; tick++ {
		if err := history.Push(snapshotAt(tick)); err != nil {
			t.Fatalf("push tick %d: %v", tick, err)
		}
	}
	if history.Len() != 3 {
		t.Fatalf("expected 3 retained snapshots, got %d", history.Len())
	}
	if _, err := history.At(1); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("expected evicted tick to be unavailable, got %v", err)
	}
	if _, err := history.At(5); err != nil {
		t.Fatalf("newest tick should be retained: %v", err)
	}
}

func TestHistoryPruneKeepsNewest(t *testing.T) {
	history := NewHistory(16)
	for tick := uint64(1); tick <= 4; tick++ {
		if err := history.Push(snapshotAt(tick)); err != nil {
			t.Fatalf("push tick %d: %v", tick, err)
		}
	}
	history.Prune(10)
	if history.Len() != 1 {
		t.Fatalf("expected only the newest snapshot to survive, got %d", history.Len())
	}
	if latest := history.Latest(); latest == nil || latest.Tick != 4 {
		t.Fatalf("expected latest tick 4, got %+v", latest)
	}
}

func TestHistoryAtMissingTickWrapsSentinel(t *testing.T) {
	history := NewHistory(8)
	if err := history.Push(snapshotAt(2)); err != nil {
		t.Fatalf("push: %v", err)
	}
	//1.- Tick 1 was never pushed: the gap must read as unavailable, not zero.
	if _, err := history.At(1); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("expected ErrBaselineUnavailable, got %v", err)
	}
}
