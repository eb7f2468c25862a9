package inputqueue

import (
	"sync"

	"tickforge/sync/internal/world"
)

// JournalEntry is one locally generated input retained for replay.
type JournalEntry struct {
	Sequence uint64
	Tick     uint64
	Controls world.Controls
}

// Journal retains the client's own inputs, in sequence order, until the
// server confirms it has incorporated them. Reconciliation replays every
// entry newer than the server's applied sequence atop a fresh authoritative
// snapshot.
type Journal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

// NewJournal constructs an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends an entry. Sequences must increase; anything else is a
// programming error on the local input path and is ignored.
func (j *Journal) Record(entry JournalEntry) {
	if j == nil || entry.Sequence == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if n := len(j.entries); n > 0 && entry.Sequence <= j.entries[n-1].Sequence {
		return
	}
	j.entries = append(j.entries, entry)
}

// DiscardThrough drops every entry with sequence at or below applied.
func (j *Journal) DiscardThrough(applied uint64) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	idx := 0
	for idx < len(j.entries) && j.entries[idx].Sequence <= applied {
		idx++
	}
	if idx > 0 {
		j.entries = append([]JournalEntry(nil), j.entries[idx:]...)
	}
}

// After returns a copy of every entry with sequence greater than applied,
// already in replay order.
func (j *Journal) After(applied uint64) []JournalEntry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, entry := range j.entries {
		if entry.Sequence > applied {
			out = append(out, entry)
		}
	}
	return out
}

// Len reports how many entries are retained.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Clear discards all retained inputs, used when a full resync is accepted.
func (j *Journal) Clear() {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}
