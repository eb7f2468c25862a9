package simulation

import (
	"sync"
	"time"

	"tickforge/sync/internal/world"
)

const (
	// ControlRange is the magnitude of a full-deflection control axis.
	ControlRange = 1000
	// PlayerSpeed is the full-deflection player speed in world units/second.
	PlayerSpeed = 6000
	// ProjectileSpeed is the fixed projectile speed in world units/second.
	ProjectileSpeed = 18000
)

// MovementStepper is the deterministic kinematic step shared by the server
// and by client-side prediction. All arithmetic is integer so the same inputs
// produce bit-identical snapshots on every machine.
type MovementStepper struct {
	mu     sync.RWMutex
	owners map[string]world.EntityID
}

// NewMovementStepper constructs a stepper with an empty ownership registry.
func NewMovementStepper() *MovementStepper {
	return &MovementStepper{owners: make(map[string]world.EntityID)}
}

// Bind associates a client with the entity its inputs drive. Clients bind
// only themselves; the server binds every connected client.
func (m *MovementStepper) Bind(client string, id world.EntityID) {
	if m == nil || client == "" {
		return
	}
	m.mu.Lock()
	m.owners[client] = id
	m.mu.Unlock()
}

// Unbind removes the client's input binding.
func (m *MovementStepper) Unbind(client string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.owners, client)
	m.mu.Unlock()
}

// Step applies the inputs to their bound entities, then integrates velocity
// for every entity carrying one. Inputs arrive pre-sorted by the caller.
func (m *MovementStepper) Step(prev *world.Snapshot, tick uint64, step time.Duration, inputs []world.TickInput) *world.Snapshot {
	if prev == nil {
		return world.NewSnapshot(tick)
	}
	next := prev.Clone()
	next.Tick = tick

	m.mu.RLock()
	for _, input := range inputs {
		id, ok := m.owners[input.Client]
		if !ok {
			continue
		}
		entity, ok := next.Get(id)
		if !ok {
			continue
		}
		//1.- Clamp control deflection, then scale into a velocity.
		mx := clampControl(input.Controls.MoveX)
		my := clampControl(input.Controls.MoveY)
		entity.Set(world.Velocity(
			int32(int64(mx)*PlayerSpeed/ControlRange),
			int32(int64(my)*PlayerSpeed/ControlRange),
		))
		entity.Set(world.Orientation(input.Controls.Aim))
	}
	m.mu.RUnlock()

	//2.- Integrate with millisecond precision so the math stays integral.
	stepMs := int64(step / time.Millisecond)
	for _, id := range next.IDs() {
		entity := next.Entities[id]
		velocity, ok := entity.Get(world.KindVelocity)
		if !ok || (velocity.X == 0 && velocity.Y == 0) {
			continue
		}
		position, ok := entity.Get(world.KindPosition)
		if !ok {
			continue
		}
		entity.Set(world.Position(
			position.X+int32(int64(velocity.X)*stepMs/1000),
			position.Y+int32(int64(velocity.Y)*stepMs/1000),
		))
	}
	return next
}

func clampControl(v int32) int32 {
	if v > ControlRange {
		return ControlRange
	}
	if v < -ControlRange {
		return -ControlRange
	}
	return v
}
