package replaycatalog

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"tickforge/sync/internal/replay"
)

func writeBundle(t *testing.T, root, session string) {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writer, _, err := replay.NewWriter(root, session, func() time.Time { return at })
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	writer.SetHeaderMetadata(30, 1)
	if err := writer.AppendSnapshot(3, []byte{0x01}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestScanFindsBundles(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "alpha")
	writeBundle(t, root, "beta")

	entries, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	//1.- Entries sort by session id for stable CLI output.
	if entries[0].Header.SessionID != "alpha" || entries[1].Header.SessionID != "beta" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[0].SizeBytes == 0 {
		t.Fatalf("expected non-zero bundle size")
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "gamma")
	entries, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	if err := Index(dbPath, entries); err != nil {
		t.Fatalf("index: %v", err)
	}
	//1.- Re-indexing the same bundles must upsert, not duplicate.
	if err := Index(dbPath, entries); err != nil {
		t.Fatalf("re-index: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 indexed session, got %d", count)
	}
	var tickRate float64
	if err := db.QueryRow("SELECT tick_rate_hz FROM sessions").Scan(&tickRate); err != nil {
		t.Fatalf("select: %v", err)
	}
	if tickRate != 30 {
		t.Fatalf("expected tick rate 30, got %f", tickRate)
	}
}
