package world

import "sort"

// Snapshot is the complete replicated world state at one tick. Snapshots are
// immutable once published: deriving a new state always builds a new value so
// older ticks stay valid as delta baselines for other clients.
type Snapshot struct {
	Tick     uint64
	Entities map[EntityID]*EntityState
}

// NewSnapshot constructs an empty snapshot for the provided tick.
func NewSnapshot(tick uint64) *Snapshot {
	return &Snapshot{Tick: tick, Entities: make(map[EntityID]*EntityState)}
}

// Clone deep-copies the snapshot so a step function can mutate its working
// copy freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := &Snapshot{Tick: s.Tick, Entities: make(map[EntityID]*EntityState, len(s.Entities))}
	for id, entity := range s.Entities {
		clone.Entities[id] = entity.Clone()
	}
	return clone
}

// Get returns the state for the entity, if it exists at this tick.
func (s *Snapshot) Get(id EntityID) (*EntityState, bool) {
	if s == nil || s.Entities == nil {
		return nil, false
	}
	entity, ok := s.Entities[id]
	return entity, ok
}

// Put stores the entity state. Callers must only use Put while building a
// snapshot that has not been published yet.
func (s *Snapshot) Put(entity *EntityState) {
	if s == nil || entity == nil || entity.ID.IsZero() {
		return
	}
	if s.Entities == nil {
		s.Entities = make(map[EntityID]*EntityState)
	}
	s.Entities[entity.ID] = entity
}

// Remove deletes the entity while building an unpublished snapshot.
func (s *Snapshot) Remove(id EntityID) {
	if s == nil || s.Entities == nil {
		return
	}
	delete(s.Entities, id)
}

// Len reports the number of live entities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entities)
}

// IDs returns every entity id sorted for deterministic iteration.
func (s *Snapshot) IDs() []EntityID {
	if s == nil || len(s.Entities) == 0 {
		return nil
	}
	ids := make([]EntityID, 0, len(s.Entities))
	for id := range s.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Equal reports whether two snapshots are identical entity-for-entity and
// component-for-component. Used to verify determinism and delta round-trips.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Tick != other.Tick || len(s.Entities) != len(other.Entities) {
		return false
	}
	for id, entity := range s.Entities {
		if !entity.Equal(other.Entities[id]) {
			return false
		}
	}
	return true
}
