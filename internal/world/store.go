package world

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Stepper advances a snapshot by one fixed timestep. Implementations must be
// deterministic: the same prior snapshot and the same ordered inputs always
// produce an identical successor, on server and client alike, because client
// reconciliation replays inputs through the very same function.
type Stepper interface {
	Step(prev *Snapshot, tick uint64, step time.Duration, inputs []TickInput) *Snapshot
}

// StepperFunc adapts a function to the Stepper interface.
type StepperFunc func(prev *Snapshot, tick uint64, step time.Duration, inputs []TickInput) *Snapshot

// Step invokes the wrapped function.
func (f StepperFunc) Step(prev *Snapshot, tick uint64, step time.Duration, inputs []TickInput) *Snapshot {
	return f(prev, tick, step, inputs)
}

// Store owns the canonical tick counter and the snapshot history. The server
// threads a single Store value through the per-tick step and the per-client
// encode paths; clients use a second Store fed by decoded snapshots.
type Store struct {
	mu      sync.Mutex
	stepper Stepper
	history *History
	current *Snapshot
}

// NewStore constructs a store seeded with an empty snapshot at tick zero.
func NewStore(stepper Stepper, historyDepth int) *Store {
	store := &Store{
		stepper: stepper,
		history: NewHistory(historyDepth),
		current: NewSnapshot(0),
	}
	_ = store.history.Push(store.current)
	return store
}

// Advance runs one simulation step and commits the result. The tick counter
// increases by exactly one per call and never regresses.
func (s *Store) Advance(step time.Duration, inputs []TickInput) (*Snapshot, error) {
	if s == nil || s.stepper == nil {
		return nil, errors.New("store has no stepper")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Sort inputs so the step function sees a deterministic order regardless of arrival.
	ordered := append([]TickInput(nil), inputs...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Client != ordered[j].Client {
			return ordered[i].Client < ordered[j].Client
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	//2.- Step onto a fresh snapshot and pin the next tick number.
	next := s.current.Tick + 1
	snapshot := s.stepper.Step(s.current, next, step, ordered)
	if snapshot == nil {
		snapshot = s.current.Clone()
	}
	snapshot.Tick = next

	//3.- Commit to the history before exposing the new state to encoders.
	if err := s.history.Push(snapshot); err != nil {
		return nil, err
	}
	s.current = snapshot
	return snapshot, nil
}

// ApplySnapshot commits an externally decoded snapshot, used on the client
// where authoritative state arrives over the wire instead of being stepped.
func (s *Store) ApplySnapshot(snapshot *Snapshot) error {
	if s == nil || snapshot == nil {
		return errors.New("nil snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.history.Push(snapshot); err != nil {
		return err
	}
	s.current = snapshot
	return nil
}

// Latest returns the newest committed snapshot.
func (s *Store) Latest() *Snapshot {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tick reports the current tick number.
func (s *Store) Tick() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Tick
}

// History exposes the retained snapshot window for baseline lookups.
func (s *Store) History() *History {
	if s == nil {
		return nil
	}
	return s.history
}

// Prune evicts snapshots no client could still reference as a baseline.
func (s *Store) Prune(minTick uint64) {
	if s == nil {
		return
	}
	s.history.Prune(minTick)
}
