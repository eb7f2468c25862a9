package inputqueue

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"tickforge/sync/internal/world"
)

func testQueue() *Queue {
	return NewQueue(Config{ReorderWindow: 8}, zap.NewNop())
}

func TestPushAcceptsSequenceAfterGap(t *testing.T) {
	queue := testQueue()
	if err := queue.Push(Input{Client: "c", Sequence: 4, Tick: 2}); err != nil {
		t.Fatalf("push seq 4: %v", err)
	}
	//1.- Sequence 5 after 4 is accepted even though 3 never arrived.
	if err := queue.Push(Input{Client: "c", Sequence: 5, Tick: 3}); err != nil {
		t.Fatalf("push seq 5: %v", err)
	}
	//2.- Sequence 3 arriving after 5 is a reorder below the high-water mark.
	err := queue.Push(Input{Client: "c", Sequence: 3, Tick: 3})
	if !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("expected ErrDuplicateInput, got %v", err)
	}
	if got := queue.Counters("c").Duplicate; got != 1 {
		t.Fatalf("expected 1 duplicate drop, got %d", got)
	}
}

func TestPushDropsStaleTickButAdvancesSequence(t *testing.T) {
	queue := testQueue()
	queue.DrainForTick(10)

	err := queue.Push(Input{Client: "c", Sequence: 1, Tick: 10})
	if !errors.Is(err, ErrStaleInput) {
		t.Fatalf("expected ErrStaleInput, got %v", err)
	}
	//1.- The stale input still counts as applied so the client discards it.
	if got := queue.AppliedSequences()["c"]; got != 1 {
		t.Fatalf("expected applied sequence 1, got %d", got)
	}
	if got := queue.Counters("c").Stale; got != 1 {
		t.Fatalf("expected 1 stale drop, got %d", got)
	}
}

func TestPushBoundsReorderWindow(t *testing.T) {
	queue := testQueue()
	queue.DrainForTick(10)
	err := queue.Push(Input{Client: "c", Sequence: 1, Tick: 19})
	if err == nil {
		t.Fatalf("expected input beyond the reorder window to be rejected")
	}
	if got := queue.Counters("c").Window; got != 1 {
		t.Fatalf("expected 1 window drop, got %d", got)
	}
}

func TestDrainForTickOrdersAndApplies(t *testing.T) {
	queue := testQueue()
	seed := []Input{
		{Client: "b", Sequence: 1, Tick: 5, Controls: world.Controls{MoveX: 1}},
		{Client: "a", Sequence: 2, Tick: 5, Controls: world.Controls{MoveX: 2}},
		{Client: "a", Sequence: 1, Tick: 5, Controls: world.Controls{MoveX: 3}},
	}
	//1.- Sequence 1 for "a" must be pushed first: the queue rejects reorders.
	if err := queue.Push(seed[2]); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := queue.Push(seed[1]); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := queue.Push(seed[0]); err != nil {
		t.Fatalf("push: %v", err)
	}

	drained := queue.DrainForTick(5)
	if len(drained) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(drained))
	}
	want := []struct {
		client string
		seq    uint64
	}{{"a", 1}, {"a", 2}, {"b", 1}}
	for i, expect := range want {
		if drained[i].Client != expect.client || drained[i].Sequence != expect.seq {
			t.Fatalf("position %d: got %s/%d, want %s/%d",
				i, drained[i].Client, drained[i].Sequence, expect.client, expect.seq)
		}
	}
	applied := queue.AppliedSequences()
	if applied["a"] != 2 || applied["b"] != 1 {
		t.Fatalf("unexpected applied sequences: %+v", applied)
	}
}

func TestDrainDiscardsBufferedLateInputs(t *testing.T) {
	queue := testQueue()
	if err := queue.Push(Input{Client: "c", Sequence: 1, Tick: 3}); err != nil {
		t.Fatalf("push: %v", err)
	}
	//1.- Skipping straight to tick 5 leaves the tick-3 input behind.
	drained := queue.DrainForTick(5)
	if len(drained) != 0 {
		t.Fatalf("expected no inputs for tick 5, got %d", len(drained))
	}
	if got := queue.Counters("c").Stale; got != 1 {
		t.Fatalf("expected late buffered input counted stale, got %d", got)
	}
	if got := queue.AppliedSequences()["c"]; got != 1 {
		t.Fatalf("expected applied sequence advanced to 1, got %d", got)
	}
}

func TestForgetDropsClientState(t *testing.T) {
	queue := testQueue()
	if err := queue.Push(Input{Client: "c", Sequence: 7, Tick: 2}); err != nil {
		t.Fatalf("push: %v", err)
	}
	queue.Forget("c")
	if got := queue.HighestSequence("c"); got != 0 {
		t.Fatalf("expected state discarded, got highest sequence %d", got)
	}
}
