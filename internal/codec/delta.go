package codec

import (
	"fmt"
	"sort"

	"tickforge/sync/internal/world"
)

// CreateRecord carries the full state of an entity absent from the baseline.
type CreateRecord struct {
	ID         world.EntityID    `json:"id"`
	Class      world.EntityClass `json:"class"`
	SpawnTick  uint64            `json:"spawn_tick"`
	Components []world.Component `json:"components"`
}

// ComponentChange carries one component whose value differs from baseline.
type ComponentChange struct {
	ID        world.EntityID  `json:"id"`
	Component world.Component `json:"component"`
}

// ComponentDrop clears one component a surviving entity no longer carries.
type ComponentDrop struct {
	ID   world.EntityID      `json:"id"`
	Kind world.ComponentKind `json:"kind"`
}

// Delta describes how to transform a baseline snapshot into a target
// snapshot: created entities with full state, removed entity ids, and the
// changed or dropped components of surviving entities.
type Delta struct {
	BaselineTick uint64            `json:"baseline_tick"`
	Full         bool              `json:"full"`
	TargetTick   uint64            `json:"target_tick"`
	Created      []CreateRecord    `json:"created,omitempty"`
	Removed      []world.EntityID  `json:"removed,omitempty"`
	Changed      []ComponentChange `json:"changed,omitempty"`
	Dropped      []ComponentDrop   `json:"dropped,omitempty"`
}

// EncodeDelta computes the minimal delta from baseline to target. A nil
// baseline produces a full encode (every entity emitted as created). Numeric
// comparison is exact: both sides run the same deterministic fixed-point
// simulation, so equality needs no epsilon.
func EncodeDelta(baseline, target *world.Snapshot) Delta {
	delta := Delta{TargetTick: target.Tick}
	if baseline == nil {
		delta.Full = true
	} else {
		delta.BaselineTick = baseline.Tick
	}

	//1.- Emit creation records for entities present only in the target.
	for _, id := range target.IDs() {
		entity := target.Entities[id]
		if baseline != nil {
			if _, ok := baseline.Get(id); ok {
				continue
			}
		}
		delta.Created = append(delta.Created, CreateRecord{
			ID:         entity.ID,
			Class:      entity.Class,
			SpawnTick:  entity.SpawnTick,
			Components: sortedComponents(entity),
		})
	}

	if baseline == nil {
		return delta
	}

	//2.- Emit removal records for entities present only in the baseline.
	for _, id := range baseline.IDs() {
		if _, ok := target.Get(id); !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}

	//3.- Compare surviving entities component-by-component.
	for _, id := range target.IDs() {
		after := target.Entities[id]
		before, ok := baseline.Get(id)
		if !ok {
			continue
		}
		for _, kind := range sortedKinds(after) {
			component := after.Components[kind]
			if prev, had := before.Get(kind); had && prev == component {
				continue
			}
			delta.Changed = append(delta.Changed, ComponentChange{ID: id, Component: component})
		}
		//4.- Components present only in the baseline must be cleared, or the
		// applied result would resurrect them.
		for _, kind := range sortedKinds(before) {
			if _, still := after.Get(kind); !still {
				delta.Dropped = append(delta.Dropped, ComponentDrop{ID: id, Kind: kind})
			}
		}
	}
	return delta
}

// Apply reconstructs the target snapshot from a baseline plus delta. The
// baseline is never mutated: it remains a valid reference for every other
// client still tracked against it.
func Apply(baseline *world.Snapshot, delta Delta) (*world.Snapshot, error) {
	if delta.Full {
		if len(delta.Removed) > 0 || len(delta.Changed) > 0 || len(delta.Dropped) > 0 {
			return nil, fmt.Errorf("full snapshot for tick %d carries delta records", delta.TargetTick)
		}
		baseline = nil
	} else {
		if baseline == nil {
			return nil, fmt.Errorf("delta for tick %d: %w", delta.TargetTick, world.ErrBaselineUnavailable)
		}
		if baseline.Tick != delta.BaselineTick {
			return nil, fmt.Errorf("delta expects baseline tick %d, have %d", delta.BaselineTick, baseline.Tick)
		}
	}

	//1.- Start from a deep copy so the baseline stays untouched.
	next := world.NewSnapshot(delta.TargetTick)
	if baseline != nil {
		next = baseline.Clone()
		next.Tick = delta.TargetTick
	}

	//2.- Apply removals before creations so a recycled slot never collides.
	for _, id := range delta.Removed {
		if _, ok := next.Get(id); !ok {
			return nil, fmt.Errorf("delta removes unknown entity %v", id)
		}
		next.Remove(id)
	}

	//3.- Materialise created entities with their full component state.
	for _, record := range delta.Created {
		entity := &world.EntityState{
			ID:         record.ID,
			Class:      record.Class,
			SpawnTick:  record.SpawnTick,
			Components: make(map[world.ComponentKind]world.Component, len(record.Components)),
		}
		for _, component := range record.Components {
			entity.Components[component.Kind] = component
		}
		next.Put(entity)
	}

	//4.- Fold changed components into cloned survivor states.
	for _, change := range delta.Changed {
		entity, ok := next.Get(change.ID)
		if !ok {
			return nil, fmt.Errorf("delta changes unknown entity %v", change.ID)
		}
		entity.Set(change.Component)
	}

	//5.- Clear components the target no longer carries.
	for _, drop := range delta.Dropped {
		entity, ok := next.Get(drop.ID)
		if !ok {
			return nil, fmt.Errorf("delta drops component on unknown entity %v", drop.ID)
		}
		delete(entity.Components, drop.Kind)
	}
	return next, nil
}

func sortedComponents(entity *world.EntityState) []world.Component {
	components := make([]world.Component, 0, len(entity.Components))
	for _, kind := range sortedKinds(entity) {
		components = append(components, entity.Components[kind])
	}
	return components
}

func sortedKinds(entity *world.EntityState) []world.ComponentKind {
	kinds := make([]world.ComponentKind, 0, len(entity.Components))
	for kind := range entity.Components {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
