package world

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBaselineUnavailable signals that a requested baseline tick has been
// evicted from history or was never received. Callers recover by falling back
// to a full snapshot; the condition is never fatal.
var ErrBaselineUnavailable = errors.New("baseline tick unavailable")

// History retains a bounded window of immutable snapshots indexed by tick.
// Past the newest committed tick the window is append-only, so concurrent
// readers on the per-client encode paths only synchronise on the index.
type History struct {
	mu    sync.RWMutex
	depth int
	snaps map[uint64]*Snapshot
	order []uint64
}

// NewHistory constructs a history that retains at most depth snapshots.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = 64
	}
	return &History{depth: depth, snaps: make(map[uint64]*Snapshot)}
}

// Push appends a snapshot. Ticks must be strictly increasing; gaps are
// allowed because clients only receive snapshots at the send cadence.
func (h *History) Push(snapshot *Snapshot) error {
	if h == nil || snapshot == nil {
		return errors.New("nil snapshot")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.order); n > 0 && snapshot.Tick <= h.order[n-1] {
		return fmt.Errorf("tick %d does not advance past %d", snapshot.Tick, h.order[n-1])
	}
	//1.- Record the new tick then evict the oldest entries past the depth bound.
	h.snaps[snapshot.Tick] = snapshot
	h.order = append(h.order, snapshot.Tick)
	for len(h.order) > h.depth {
		delete(h.snaps, h.order[0])
		h.order = h.order[1:]
	}
	return nil
}

// At returns the snapshot stored for the tick or ErrBaselineUnavailable.
func (h *History) At(tick uint64) (*Snapshot, error) {
	if h == nil {
		return nil, ErrBaselineUnavailable
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot, ok := h.snaps[tick]
	if !ok {
		return nil, fmt.Errorf("tick %d: %w", tick, ErrBaselineUnavailable)
	}
	return snapshot, nil
}

// Contains reports whether the tick is still retained.
func (h *History) Contains(tick uint64) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.snaps[tick]
	return ok
}

// Latest returns the newest snapshot, or nil when the history is empty.
func (h *History) Latest() *Snapshot {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.order) == 0 {
		return nil
	}
	return h.snaps[h.order[len(h.order)-1]]
}

// OldestTick reports the lowest retained tick and whether any tick exists.
func (h *History) OldestTick() (uint64, bool) {
	if h == nil {
		return 0, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[0], true
}

// Len reports how many snapshots are retained.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// Prune drops every snapshot older than minTick. The newest snapshot is
// always retained so the simulation can keep advancing from it.
func (h *History) Prune(minTick uint64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	//1.- Walk the ordered ticks and evict those below the retention floor.
	idx := 0
	for idx < len(h.order)-1 && h.order[idx] < minTick {
		delete(h.snaps, h.order[idx])
		idx++
	}
	if idx > 0 {
		h.order = append([]uint64(nil), h.order[idx:]...)
	}
}

// Reset discards everything, used when a client accepts a full resync.
func (h *History) Reset() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.snaps = make(map[uint64]*Snapshot)
	h.order = nil
	h.mu.Unlock()
}
