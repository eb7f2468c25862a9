package world

import "testing"

func TestAllocatorGenerationsDistinguishReuse(t *testing.T) {
	alloc := NewAllocator()
	first := alloc.Allocate()
	if first.IsZero() {
		t.Fatalf("allocated id must not be zero")
	}

	alloc.Release(first, 10)
	//1.- The slot stays quarantined until every client acked past the despawn.
	alloc.Recycle(10)
	second := alloc.Allocate()
	if second.Index == first.Index {
		t.Fatalf("slot reused before quarantine cleared")
	}

	alloc.Recycle(11)
	third := alloc.Allocate()
	if third.Index != first.Index {
		t.Fatalf("expected recycled slot %d, got %d", first.Index, third.Index)
	}
	if third.Generation == first.Generation {
		t.Fatalf("recycled slot must carry a new generation")
	}
	if alloc.Alive(first) {
		t.Fatalf("stale id must not read as alive")
	}
	if !alloc.Alive(third) {
		t.Fatalf("fresh id must read as alive")
	}
}

func TestAllocatorReleaseIgnoresStaleIDs(t *testing.T) {
	alloc := NewAllocator()
	id := alloc.Allocate()
	stale := EntityID{Index: id.Index, Generation: id.Generation + 1}
	alloc.Release(stale, 5)
	alloc.Recycle(6)
	//1.- The live slot must not have been freed by the stale release.
	if !alloc.Alive(id) {
		t.Fatalf("live id was invalidated by a stale release")
	}
}
