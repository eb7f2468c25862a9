package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func makeBundle(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(dir, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return dir
}

func TestCleanerEnforcesMaxSessions(t *testing.T) {
	root := t.TempDir()
	old := makeBundle(t, root, "old", 3*time.Hour)
	makeBundle(t, root, "mid", 2*time.Hour)
	makeBundle(t, root, "new", time.Hour)

	cleaner := NewCleaner(root, RetentionPolicy{MaxSessions: 2}, zap.NewNop())
	cleaner.RunOnce()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("oldest bundle should have been removed")
	}
	stats := cleaner.Stats()
	if stats.Sessions != 2 {
		t.Fatalf("expected 2 retained sessions, got %d", stats.Sessions)
	}
}

func TestCleanerEnforcesMaxAge(t *testing.T) {
	root := t.TempDir()
	stale := makeBundle(t, root, "stale", 48*time.Hour)
	fresh := makeBundle(t, root, "fresh", time.Minute)

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 24 * time.Hour}, zap.NewNop())
	cleaner.RunOnce()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale bundle should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh bundle should survive: %v", err)
	}
}

func TestCleanerRunSweepsEagerlyAndStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	stale := makeBundle(t, root, "stale", 48*time.Hour)

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 24 * time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleaner.Run(ctx, time.Hour)
		close(done)
	}()

	//1.- The first sweep happens at startup, not after the first interval.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("startup sweep never removed the stale bundle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit on context cancellation")
	}
}

func TestCleanerIgnoresLooseFiles(t *testing.T) {
	root := t.TempDir()
	loose := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(loose, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cleaner := NewCleaner(root, RetentionPolicy{MaxSessions: 0, MaxAge: time.Nanosecond}, zap.NewNop())
	cleaner.RunOnce()
	if _, err := os.Stat(loose); err != nil {
		t.Fatalf("loose file should not be touched: %v", err)
	}
}
