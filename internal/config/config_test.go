package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SYNC_CONFIG_FILE", "SYNC_ADDR", "SYNC_TICK_RATE_HZ", "SYNC_SNAPSHOT_CADENCE_TICKS",
		"SYNC_HISTORY_DEPTH", "SYNC_REORDER_WINDOW_TICKS", "SYNC_ACK_TIMEOUT",
		"SYNC_RTT_MARGIN_TICKS", "SYNC_BANDWIDTH_BYTES_PER_SEC", "SYNC_SNAP_DISTANCE",
		"SYNC_BLEND_TAU", "SYNC_PING_INTERVAL", "SYNC_MAX_PAYLOAD_BYTES", "SYNC_MAX_CLIENTS",
		"SYNC_REPLAY_DIR", "SYNC_REPLAY_MAX_SESSIONS", "SYNC_REPLAY_MAX_AGE",
		"SYNC_REPLAY_SWEEP_INTERVAL",
		"SYNC_LOG_LEVEL", "SYNC_LOG_PATH", "SYNC_LOG_MAX_SIZE_MB",
		"SYNC_LOG_MAX_BACKUPS", "SYNC_LOG_MAX_AGE_DAYS", "SYNC_LOG_COMPRESS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default address, got %s", cfg.Address)
	}
	if cfg.TickRateHz != DefaultTickRateHz {
		t.Fatalf("expected default tick rate, got %f", cfg.TickRateHz)
	}
	if cfg.SnapshotCadenceTicks != DefaultSnapshotCadenceTicks {
		t.Fatalf("expected default cadence, got %d", cfg.SnapshotCadenceTicks)
	}
	if cfg.AckTimeout != DefaultAckTimeout {
		t.Fatalf("expected default ack timeout, got %v", cfg.AckTimeout)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.ReplayMaxSessions != DefaultReplayMaxSessions || cfg.ReplayMaxAge != DefaultReplayMaxAge {
		t.Fatalf("unexpected replay retention defaults: %+v", cfg)
	}
	if cfg.ReplaySweepInterval != DefaultReplaySweepInterval {
		t.Fatalf("unexpected sweep interval default: %v", cfg.ReplaySweepInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_ADDR", ":9999")
	t.Setenv("SYNC_TICK_RATE_HZ", "60")
	t.Setenv("SYNC_SNAPSHOT_CADENCE_TICKS", "2")
	t.Setenv("SYNC_ACK_TIMEOUT", "3s")
	t.Setenv("SYNC_BLEND_TAU", "250ms")
	t.Setenv("SYNC_MAX_CLIENTS", "8")
	t.Setenv("SYNC_REPLAY_MAX_SESSIONS", "4")
	t.Setenv("SYNC_REPLAY_MAX_AGE", "48h")
	t.Setenv("SYNC_REPLAY_SWEEP_INTERVAL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9999" || cfg.TickRateHz != 60 || cfg.SnapshotCadenceTicks != 2 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.AckTimeout != 3*time.Second || cfg.BlendTau != 250*time.Millisecond {
		t.Fatalf("duration overrides not applied: %+v", cfg)
	}
	if cfg.MaxClients != 8 {
		t.Fatalf("expected max clients 8, got %d", cfg.MaxClients)
	}
	if cfg.ReplayMaxSessions != 4 || cfg.ReplayMaxAge != 48*time.Hour {
		t.Fatalf("replay retention overrides not applied: %+v", cfg)
	}
	if cfg.ReplaySweepInterval != 10*time.Minute {
		t.Fatalf("sweep interval override not applied: %v", cfg.ReplaySweepInterval)
	}
}

func TestLoadAccumulatesProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_TICK_RATE_HZ", "zero")
	t.Setenv("SYNC_MAX_CLIENTS", "-1")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected invalid values to fail")
	}
	//1.- Both problems surface in a single error so operators fix them at once.
	message := err.Error()
	if !strings.Contains(message, "SYNC_TICK_RATE_HZ") || !strings.Contains(message, "SYNC_MAX_CLIENTS") {
		t.Fatalf("expected both problems reported, got %q", message)
	}
}

func TestLoadTOMLFileUnderEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sync.toml")
	body := "address = \":7777\"\ntick_rate_hz = 20.0\nack_timeout = \"9s\"\n\n[logging]\nlevel = \"debug\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SYNC_CONFIG_FILE", path)
	//1.- Env vars layer on top of the file.
	t.Setenv("SYNC_ADDR", ":8888")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":8888" {
		t.Fatalf("env must win over file, got %s", cfg.Address)
	}
	if cfg.TickRateHz != 20 || cfg.AckTimeout != 9*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("nested logging level not applied: %s", cfg.Logging.Level)
	}
}
