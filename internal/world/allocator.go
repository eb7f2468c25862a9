package world

import "sync"

// Allocator hands out entity ids from an arena of slots with generation
// counters. A released slot is not reused until every connected client has
// acknowledged a tick past the despawn, so stale references in unacknowledged
// snapshot windows can never alias a new entity.
type Allocator struct {
	mu          sync.Mutex
	generations []uint32
	free        []uint32
	quarantine  []quarantined
}

type quarantined struct {
	index       uint32
	despawnTick uint64
}

// NewAllocator constructs an empty allocator. Slot index zero is reserved so
// the zero EntityID stays meaningful as "no entity".
func NewAllocator() *Allocator {
	return &Allocator{generations: []uint32{0}}
}

// Allocate returns a fresh entity id, preferring recycled slots.
func (a *Allocator) Allocate() EntityID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		//1.- Pop a recycled slot and bump its generation so old references go stale.
		index := a.free[n-1]
		a.free = a.free[:n-1]
		a.generations[index]++
		return EntityID{Index: index, Generation: a.generations[index]}
	}
	//2.- Grow the arena when no recycled slot is available.
	index := uint32(len(a.generations))
	a.generations = append(a.generations, 1)
	return EntityID{Index: index, Generation: 1}
}

// Release parks the slot in quarantine until Recycle confirms that no client
// could still reference it through an unacknowledged snapshot.
func (a *Allocator) Release(id EntityID, despawnTick uint64) {
	if id.IsZero() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id.Index) >= len(a.generations) || a.generations[id.Index] != id.Generation {
		return
	}
	a.quarantine = append(a.quarantine, quarantined{index: id.Index, despawnTick: despawnTick})
}

// Recycle moves quarantined slots whose despawn tick every client has
// acknowledged back onto the free list.
func (a *Allocator) Recycle(minAckedTick uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.quarantine[:0]
	for _, entry := range a.quarantine {
		if entry.despawnTick < minAckedTick {
			a.free = append(a.free, entry.index)
			continue
		}
		kept = append(kept, entry)
	}
	a.quarantine = kept
}

// Alive reports whether the id refers to the current generation of its slot.
func (a *Allocator) Alive(id EntityID) bool {
	if id.IsZero() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(id.Index) < len(a.generations) && a.generations[id.Index] == id.Generation
}
