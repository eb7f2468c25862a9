package interp

import (
	"sync"
	"time"

	"tickforge/sync/internal/world"
)

// RenderEntity is the display-ready state of one remote entity, expressed in
// continuous coordinates for the presentation layer.
type RenderEntity struct {
	ID    world.EntityID
	Class world.EntityClass
	X     float64
	Y     float64
	Angle float64
}

// Config tunes the render-time smoothing window.
type Config struct {
	// DelayIntervals expresses the render delay as a multiple of the
	// observed snapshot interval. One interval keeps two snapshots
	// bracketing the render time in the steady state.
	DelayIntervals float64
	// MaxExtrapolation bounds how far past the newest snapshot positions
	// may be projected from velocity after a stall.
	MaxExtrapolation time.Duration
	// Depth bounds the retained snapshot window.
	Depth int
}

func (c Config) withDefaults() Config {
	if c.DelayIntervals <= 0 {
		c.DelayIntervals = 1
	}
	if c.MaxExtrapolation <= 0 {
		c.MaxExtrapolation = 250 * time.Millisecond
	}
	if c.Depth <= 0 {
		c.Depth = 8
	}
	return c
}

type frame struct {
	snapshot *world.Snapshot
	at       time.Time
}

// Buffer holds a short history of received snapshots with their arrival
// times and produces a smoothed state between the two snapshots bracketing a
// slightly delayed render time. The trade is a small constant visual latency
// for continuous motion of remote entities.
type Buffer struct {
	mu       sync.Mutex
	cfg      Config
	frames   []frame
	interval time.Duration
}

// NewBuffer constructs a buffer with the supplied configuration.
func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg.withDefaults()}
}

// Push records a received snapshot with its arrival wall-time. Snapshots
// arriving out of tick order are dropped.
func (b *Buffer) Push(snapshot *world.Snapshot, at time.Time) {
	if b == nil || snapshot == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.frames); n > 0 {
		last := b.frames[n-1]
		if snapshot.Tick <= last.snapshot.Tick || !at.After(last.at) {
			return
		}
		//1.- Fold the arrival spacing into the smoothed interval estimate.
		spacing := at.Sub(last.at)
		if b.interval == 0 {
			b.interval = spacing
		} else {
			b.interval = (b.interval*7 + spacing) / 8
		}
	}
	b.frames = append(b.frames, frame{snapshot: snapshot, at: at})
	if len(b.frames) > b.cfg.Depth {
		b.frames = append([]frame(nil), b.frames[len(b.frames)-b.cfg.Depth:]...)
	}
}

// Interval reports the smoothed snapshot arrival interval.
func (b *Buffer) Interval() time.Duration {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// Sample computes display state for the render time derived from now minus
// the configured delay. With fewer than two snapshots, or outside the
// buffered window, it falls back to extrapolation or clamping rather than
// failing.
func (b *Buffer) Sample(now time.Time, exclude world.EntityID) ([]RenderEntity, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false
	}

	interval := b.interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	renderAt := now.Add(-time.Duration(float64(interval) * b.cfg.DelayIntervals))

	newest := b.frames[len(b.frames)-1]
	oldest := b.frames[0]

	switch {
	case len(b.frames) == 1 || !renderAt.After(oldest.at):
		//1.- Not enough history to bracket: clamp to the oldest snapshot.
		return clampFrame(oldest, exclude), true
	case renderAt.After(newest.at):
		//2.- The stream stalled: extrapolate from the newest snapshot for a
		// bounded horizon, then clamp.
		overshoot := renderAt.Sub(newest.at)
		if overshoot > b.cfg.MaxExtrapolation {
			overshoot = b.cfg.MaxExtrapolation
		}
		return extrapolateFrame(newest, overshoot, exclude), true
	}

	//3.- Locate the bracketing pair and interpolate between them.
	left, right := oldest, newest
	for i := 1; i < len(b.frames); i++ {
		if !b.frames[i].at.Before(renderAt) {
			left, right = b.frames[i-1], b.frames[i]
			break
		}
	}
	span := right.at.Sub(left.at)
	t := 0.0
	if span > 0 {
		t = float64(renderAt.Sub(left.at)) / float64(span)
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return interpolateFrames(left, right, t, exclude), true
}

func clampFrame(f frame, exclude world.EntityID) []RenderEntity {
	var out []RenderEntity
	for _, id := range f.snapshot.IDs() {
		if id == exclude {
			continue
		}
		out = append(out, renderFromState(f.snapshot.Entities[id]))
	}
	return out
}

func extrapolateFrame(f frame, horizon time.Duration, exclude world.EntityID) []RenderEntity {
	seconds := horizon.Seconds()
	var out []RenderEntity
	for _, id := range f.snapshot.IDs() {
		if id == exclude {
			continue
		}
		entity := f.snapshot.Entities[id]
		render := renderFromState(entity)
		if velocity, ok := entity.Get(world.KindVelocity); ok {
			render.X += float64(velocity.X) * seconds
			render.Y += float64(velocity.Y) * seconds
		}
		out = append(out, render)
	}
	return out
}

func interpolateFrames(left, right frame, t float64, exclude world.EntityID) []RenderEntity {
	var out []RenderEntity
	for _, id := range left.snapshot.IDs() {
		if id == exclude {
			continue
		}
		before := left.snapshot.Entities[id]
		after, ok := right.snapshot.Get(id)
		if !ok {
			//1.- The entity despawns in the right snapshot: hold it at its
			// last known state until the window passes it.
			out = append(out, renderFromState(before))
			continue
		}
		out = append(out, lerpStates(before, after, t))
	}
	//2.- Entities spawning in the right snapshot appear at their spawn state.
	for _, id := range right.snapshot.IDs() {
		if id == exclude {
			continue
		}
		if _, ok := left.snapshot.Get(id); !ok {
			out = append(out, renderFromState(right.snapshot.Entities[id]))
		}
	}
	return out
}

func lerpStates(before, after *world.EntityState, t float64) RenderEntity {
	render := RenderEntity{ID: before.ID, Class: before.Class}
	bp, _ := before.Get(world.KindPosition)
	ap, _ := after.Get(world.KindPosition)
	render.X = lerp(float64(bp.X), float64(ap.X), t)
	render.Y = lerp(float64(bp.Y), float64(ap.Y), t)
	bo, hasLeft := before.Get(world.KindOrientation)
	ao, hasRight := after.Get(world.KindOrientation)
	switch {
	case hasLeft && hasRight:
		render.Angle = lerp(float64(bo.Val), float64(ao.Val), t)
	case hasLeft:
		render.Angle = float64(bo.Val)
	case hasRight:
		render.Angle = float64(ao.Val)
	}
	return render
}

func renderFromState(entity *world.EntityState) RenderEntity {
	render := RenderEntity{ID: entity.ID, Class: entity.Class}
	if position, ok := entity.Get(world.KindPosition); ok {
		render.X = float64(position.X)
		render.Y = float64(position.Y)
	}
	if orientation, ok := entity.Get(world.KindOrientation); ok {
		render.Angle = float64(orientation.Val)
	}
	return render
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
