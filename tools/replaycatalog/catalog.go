package replaycatalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tickforge/sync/internal/replay"
)

// Entry captures a session header alongside its resolved bundle path.
type Entry struct {
	HeaderPath string        `json:"header_path"`
	BundlePath string        `json:"bundle_path"`
	SizeBytes  int64         `json:"size_bytes"`
	CreatedAt  string        `json:"created_at"`
	Header     replay.Header `json:"header"`
}

// Scan walks the directory tree and returns parsed session headers.
func Scan(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the tree searching for the known header filename.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return err
		}
		dir := filepath.Dir(path)
		loader, err := replay.Open(dir)
		if err != nil {
			return err
		}
		size, err := bundleSize(dir)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			HeaderPath: path,
			BundlePath: dir,
			SizeBytes:  size,
			CreatedAt:  loader.Manifest().CreatedAt,
			Header:     header,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.SessionID == entries[j].Header.SessionID {
			return entries[i].BundlePath < entries[j].BundlePath
		}
		return entries[i].Header.SessionID < entries[j].Header.SessionID
	})
	return entries, nil
}

// Index upserts the entries into a sqlite catalogue so operators can query
// sessions without re-walking the journal tree.
func Index(dbPath string, entries []Entry) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("database path must be provided")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	//1.- The schema keys on the bundle path so re-indexing stays idempotent.
	const schema = `CREATE TABLE IF NOT EXISTS sessions (
		bundle_path      TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL,
		schema_version   INTEGER NOT NULL,
		protocol_version INTEGER NOT NULL,
		tick_rate_hz     REAL NOT NULL,
		size_bytes       INTEGER NOT NULL,
		created_at       TEXT NOT NULL,
		indexed_at       TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create catalogue schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO sessions
		(bundle_path, session_id, schema_version, protocol_version, tick_rate_hz, size_bytes, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_path) DO UPDATE SET
			session_id = excluded.session_id,
			schema_version = excluded.schema_version,
			protocol_version = excluded.protocol_version,
			tick_rate_hz = excluded.tick_rate_hz,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	indexedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, entry := range entries {
		if _, err := stmt.Exec(
			entry.BundlePath,
			entry.Header.SessionID,
			entry.Header.SchemaVersion,
			entry.Header.ProtocolVersion,
			entry.Header.TickRateHz,
			entry.SizeBytes,
			entry.CreatedAt,
			indexedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("index %s: %w", entry.BundlePath, err)
		}
	}
	return tx.Commit()
}

// MarshalEntries produces a stable JSON representation for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Indentation keeps CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}

func bundleSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
