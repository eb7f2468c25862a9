package world

// EntityID identifies an entity slot together with the generation counter of
// its allocation, so references carried in delayed network messages can be
// detected as stale instead of aliasing a reused slot.
type EntityID struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"gen"`
}

// IsZero reports whether the id refers to no entity.
func (id EntityID) IsZero() bool {
	return id.Index == 0 && id.Generation == 0
}

// Less imposes a stable ordering over ids for deterministic encoding.
func (id EntityID) Less(other EntityID) bool {
	if id.Index != other.Index {
		return id.Index < other.Index
	}
	return id.Generation < other.Generation
}

// EntityClass describes the simulation archetype an entity was spawned as.
type EntityClass uint8

const (
	ClassUnknown EntityClass = iota
	ClassPlayer
	ClassHook
	ClassProjectile
	ClassWall
)

// ComponentKind enumerates the closed set of replicated component slots.
type ComponentKind uint8

const (
	KindPosition ComponentKind = iota + 1
	KindVelocity
	KindOrientation
	KindHealth
	KindOwner
	KindAttach
)

// componentKinds lists every kind in encoding order.
var componentKinds = []ComponentKind{
	KindPosition,
	KindVelocity,
	KindOrientation,
	KindHealth,
	KindOwner,
	KindAttach,
}

// Component is a tagged variant holding the replicated value for one kind.
// All fields are fixed-point integers so that comparisons between server and
// client state are exact rather than epsilon-based.
type Component struct {
	Kind ComponentKind `json:"kind"`
	X    int32         `json:"x,omitempty"`
	Y    int32         `json:"y,omitempty"`
	Val  int32         `json:"val,omitempty"`
	Ref  EntityID      `json:"ref,omitempty"`
}

// Position builds a position component from fixed-point coordinates.
func Position(x, y int32) Component { return Component{Kind: KindPosition, X: x, Y: y} }

// Velocity builds a velocity component from fixed-point coordinates.
func Velocity(x, y int32) Component { return Component{Kind: KindVelocity, X: x, Y: y} }

// Orientation builds an orientation component from a fixed-point angle.
func Orientation(angle int32) Component { return Component{Kind: KindOrientation, Val: angle} }

// Health builds a health component.
func Health(points int32) Component { return Component{Kind: KindHealth, Val: points} }

// Owner records which entity spawned or controls this one.
func Owner(ref EntityID) Component { return Component{Kind: KindOwner, Ref: ref} }

// Attach records the entity this one is latched onto plus the local anchor.
func Attach(ref EntityID, x, y int32) Component {
	return Component{Kind: KindAttach, Ref: ref, X: x, Y: y}
}

// EntityState is the replicated view of one entity at a single tick.
type EntityState struct {
	ID         EntityID                    `json:"id"`
	Class      EntityClass                 `json:"class"`
	SpawnTick  uint64                      `json:"spawn_tick"`
	Components map[ComponentKind]Component `json:"components"`
}

// Clone produces a deep copy so snapshots can be derived without aliasing.
func (e *EntityState) Clone() *EntityState {
	if e == nil {
		return nil
	}
	clone := &EntityState{
		ID:         e.ID,
		Class:      e.Class,
		SpawnTick:  e.SpawnTick,
		Components: make(map[ComponentKind]Component, len(e.Components)),
	}
	for kind, component := range e.Components {
		clone.Components[kind] = component
	}
	return clone
}

// Get returns the component of the requested kind, if present.
func (e *EntityState) Get(kind ComponentKind) (Component, bool) {
	if e == nil || e.Components == nil {
		return Component{}, false
	}
	component, ok := e.Components[kind]
	return component, ok
}

// Set stores a component value, replacing any previous value of that kind.
func (e *EntityState) Set(component Component) {
	if e == nil || component.Kind == 0 {
		return
	}
	if e.Components == nil {
		e.Components = make(map[ComponentKind]Component)
	}
	e.Components[component.Kind] = component
}

// Equal reports whether two entity states carry identical replicated data.
func (e *EntityState) Equal(other *EntityState) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.ID != other.ID || e.Class != other.Class || e.SpawnTick != other.SpawnTick {
		return false
	}
	if len(e.Components) != len(other.Components) {
		return false
	}
	for kind, component := range e.Components {
		if other.Components[kind] != component {
			return false
		}
	}
	return true
}

// Controls carries the fixed-point control values sampled from one client for
// one tick. The zero value means "no input".
type Controls struct {
	MoveX int32 `json:"move_x"`
	MoveY int32 `json:"move_y"`
	Aim   int32 `json:"aim"`
	Fire  bool  `json:"fire"`
	Latch bool  `json:"latch"`
}

// IsZero reports whether the controls carry no input at all.
func (c Controls) IsZero() bool {
	return c == Controls{}
}

// TickInput pairs a client's sequenced controls with the tick they drive.
type TickInput struct {
	Client   string
	Sequence uint64
	Controls Controls
}
