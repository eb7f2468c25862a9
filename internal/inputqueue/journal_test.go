package inputqueue

import "testing"

func TestJournalDiscardAndReplayWindow(t *testing.T) {
	journal := NewJournal()
	for seq := uint64(1); seq <= 5; seq++ {
		journal.Record(JournalEntry{Sequence: seq, Tick: seq + 10})
	}
	journal.DiscardThrough(3)
	if journal.Len() != 2 {
		t.Fatalf("expected 2 retained entries, got %d", journal.Len())
	}
	remaining := journal.After(3)
	if len(remaining) != 2 || remaining[0].Sequence != 4 || remaining[1].Sequence != 5 {
		t.Fatalf("unexpected replay window: %+v", remaining)
	}
}

func TestJournalIgnoresNonAdvancingSequences(t *testing.T) {
	journal := NewJournal()
	journal.Record(JournalEntry{Sequence: 2})
	journal.Record(JournalEntry{Sequence: 2})
	journal.Record(JournalEntry{Sequence: 1})
	journal.Record(JournalEntry{Sequence: 0})
	if journal.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", journal.Len())
	}
}

func TestJournalClear(t *testing.T) {
	journal := NewJournal()
	journal.Record(JournalEntry{Sequence: 1})
	journal.Clear()
	if journal.Len() != 0 {
		t.Fatalf("expected empty journal after clear")
	}
}
