package prediction

import (
	"errors"
	"testing"
	"time"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/world"
)

const stepDuration = 33 * time.Millisecond

// shiftStepper moves the input's entity by MoveX/MoveY per tick, mirroring
// the integer determinism of the real movement step.
func shiftStepper(self world.EntityID) world.StepperFunc {
	return func(prev *world.Snapshot, tick uint64, _ time.Duration, inputs []world.TickInput) *world.Snapshot {
		next := prev.Clone()
		next.Tick = tick
		for range inputs {
			entity, ok := next.Get(self)
			if !ok {
				continue
			}
			position, _ := entity.Get(world.KindPosition)
			entity.Set(world.Position(position.X+inputs[0].Controls.MoveX, position.Y+inputs[0].Controls.MoveY))
		}
		return next
	}
}

func selfEntity() (world.EntityID, *world.EntityState) {
	id := world.EntityID{Index: 1, Generation: 1}
	entity := &world.EntityState{ID: id, Class: world.ClassPlayer}
	entity.Set(world.Position(0, 0))
	return id, entity
}

func fullDelta(tick uint64, entities ...*world.EntityState) codec.Delta {
	snapshot := world.NewSnapshot(tick)
	for _, entity := range entities {
		snapshot.Put(entity)
	}
	return codec.EncodeDelta(nil, snapshot)
}

func syncedEngine(t *testing.T) (*Engine, world.EntityID) {
	t.Helper()
	id, entity := selfEntity()
	engine := NewEngine("c", shiftStepper(id), Config{}, nil)
	engine.SetSelf(id)
	ack, err := engine.IngestSnapshot(fullDelta(10, entity), 0, stepDuration)
	if err != nil {
		t.Fatalf("ingest full: %v", err)
	}
	if ack != 10 {
		t.Fatalf("expected ack tick 10, got %d", ack)
	}
	return engine, id
}

func TestFirstFullSnapshotSyncs(t *testing.T) {
	id, entity := selfEntity()
	engine := NewEngine("c", shiftStepper(id), Config{}, nil)
	engine.SetSelf(id)
	if engine.State() != StateUnsynced {
		t.Fatalf("expected unsynced before any snapshot")
	}

	//1.- A delta before any full snapshot cannot be applied.
	delta := codec.Delta{BaselineTick: 9, TargetTick: 11}
	if _, err := engine.IngestSnapshot(delta, 0, stepDuration); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("expected ErrNotSynced, got %v", err)
	}

	if _, err := engine.IngestSnapshot(fullDelta(10, entity), 0, stepDuration); err != nil {
		t.Fatalf("ingest full: %v", err)
	}
	if engine.State() != StatePredicting {
		t.Fatalf("expected predicting after first full snapshot, got %v", engine.State())
	}
}

func TestLocalInputAppliesImmediately(t *testing.T) {
	engine, id := syncedEngine(t)
	entry, ok := engine.ApplyLocalInput(world.Controls{MoveX: 5}, stepDuration)
	if !ok {
		t.Fatalf("synced engine refused local input")
	}
	if entry.Sequence != 1 || entry.Tick != 11 {
		t.Fatalf("unexpected journal entry: %+v", entry)
	}
	predicted := engine.Predicted()
	entity, _ := predicted.Get(id)
	position, _ := entity.Get(world.KindPosition)
	if position.X != 5 {
		t.Fatalf("expected predicted X=5, got %d", position.X)
	}
	if engine.PendingInputs() != 1 {
		t.Fatalf("expected one retained input")
	}
}

func TestReconcileConvergesWhenServerAgrees(t *testing.T) {
	engine, id := syncedEngine(t)
	for i := 0; i < 3; i++ {
		if _, ok := engine.ApplyLocalInput(world.Controls{MoveX: 10}, stepDuration); !ok {
			t.Fatalf("apply input %d", i)
		}
	}

	//1.- The server confirms the first two inputs at X=20.
	_, confirmed := selfEntity()
	confirmed.Set(world.Position(20, 0))
	ack, err := engine.IngestSnapshot(fullDelta(12, confirmed), 2, stepDuration)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ack != 12 {
		t.Fatalf("expected ack 12, got %d", ack)
	}

	//2.- Replaying the one unconfirmed input lands exactly on X=30.
	predicted := engine.Predicted()
	entity, _ := predicted.Get(id)
	position, _ := entity.Get(world.KindPosition)
	if position.X != 30 {
		t.Fatalf("expected replayed X=30, got %d", position.X)
	}
	if engine.PendingInputs() != 1 {
		t.Fatalf("confirmed inputs should be discarded, kept %d", engine.PendingInputs())
	}
	if engine.State() != StatePredicting {
		t.Fatalf("expected predicting after reconcile, got %v", engine.State())
	}
	//3.- Agreement means no visual correction offset.
	if dx, dy := engine.VisualOffset(); dx != 0 || dy != 0 {
		t.Fatalf("expected zero offset, got %f,%f", dx, dy)
	}
}

func TestSmallErrorBlendsLargeErrorSnaps(t *testing.T) {
	engine, _ := syncedEngine(t)
	if _, ok := engine.ApplyLocalInput(world.Controls{MoveX: 10}, stepDuration); !ok {
		t.Fatalf("apply input")
	}

	//1.- The server lands 30 units away: below the snap distance, so the
	// difference is carried as a decaying visual offset.
	_, small := selfEntity()
	small.Set(world.Position(40, 0))
	if _, err := engine.IngestSnapshot(fullDelta(12, small), 1, stepDuration); err != nil {
		t.Fatalf("ingest small error: %v", err)
	}
	if dx, _ := engine.VisualOffset(); dx == 0 {
		t.Fatalf("expected a non-zero blend offset for a small error")
	}

	//2.- The server lands 500 units away: at or above the snap distance the
	// correction applies instantly with no offset.
	_, large := selfEntity()
	large.Set(world.Position(-460, 0))
	if _, err := engine.IngestSnapshot(fullDelta(14, large), 1, stepDuration); err != nil {
		t.Fatalf("ingest large error: %v", err)
	}
	if dx, dy := engine.VisualOffset(); dx != 0 || dy != 0 {
		t.Fatalf("expected snap to clear the offset, got %f,%f", dx, dy)
	}
}

func TestMissingBaselineRequestsResync(t *testing.T) {
	engine, _ := syncedEngine(t)
	if _, ok := engine.ApplyLocalInput(world.Controls{MoveX: 1}, stepDuration); !ok {
		t.Fatalf("apply input")
	}

	//1.- A delta against a baseline this client never stored cannot be applied.
	delta := codec.Delta{BaselineTick: 7, TargetTick: 12}
	if _, err := engine.IngestSnapshot(delta, 0, stepDuration); !errors.Is(err, world.ErrBaselineUnavailable) {
		t.Fatalf("expected ErrBaselineUnavailable, got %v", err)
	}
	//2.- The prediction backlog is gone: replaying it later would corrupt state.
	if engine.PendingInputs() != 0 {
		t.Fatalf("expected pending inputs discarded, kept %d", engine.PendingInputs())
	}
}

func TestStaleSnapshotsAreDropped(t *testing.T) {
	engine, _ := syncedEngine(t)
	_, entity := selfEntity()
	ack, err := engine.IngestSnapshot(fullDelta(9, entity), 0, stepDuration)
	if err != nil {
		t.Fatalf("stale ingest errored: %v", err)
	}
	if ack != 0 {
		t.Fatalf("stale snapshot must not produce an ack, got %d", ack)
	}
}

func TestResetReturnsToUnsynced(t *testing.T) {
	engine, _ := syncedEngine(t)
	engine.Reset()
	if engine.State() != StateUnsynced {
		t.Fatalf("expected unsynced after reset, got %v", engine.State())
	}
	if engine.Predicted() != nil {
		t.Fatalf("expected predicted state cleared")
	}
}
