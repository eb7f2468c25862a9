package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultAddr is the default TCP address the sync server listens on.
	DefaultAddr = ":43180"
	// DefaultTickRateHz is the authoritative simulation rate.
	DefaultTickRateHz = 30.0
	// DefaultSnapshotCadenceTicks sends one snapshot every N ticks.
	DefaultSnapshotCadenceTicks uint64 = 3
	// DefaultHistoryDepth bounds the retained snapshot window.
	DefaultHistoryDepth = 128
	// DefaultReorderWindowTicks bounds how far ahead inputs may target.
	DefaultReorderWindowTicks uint64 = 32
	// DefaultAckTimeout forces a full resync for silent clients.
	DefaultAckTimeout = 5 * time.Second
	// DefaultRTTMarginTicks pads history retention below the minimum ack.
	DefaultRTTMarginTicks uint64 = 8
	// DefaultBandwidthBytesPerSecond caps per-client snapshot throughput.
	DefaultBandwidthBytesPerSecond = 48000.0 / 8.0
	// DefaultSnapDistance is the prediction error that snaps instantly.
	DefaultSnapDistance = 80.0
	// DefaultBlendTau is the decay constant for blending small errors.
	DefaultBlendTau = 100 * time.Millisecond
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256
	// DefaultReplayMaxSessions bounds retained replay journal bundles.
	DefaultReplayMaxSessions = 16
	// DefaultReplayMaxAge expires replay journal bundles by age.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval spaces replay retention sweeps.
	DefaultReplaySweepInterval = time.Hour

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "sync.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the sync server.
type Config struct {
	Address              string        `toml:"address"`
	TickRateHz           float64       `toml:"tick_rate_hz"`
	SnapshotCadenceTicks uint64        `toml:"snapshot_cadence_ticks"`
	HistoryDepth         int           `toml:"history_depth"`
	ReorderWindowTicks   uint64        `toml:"reorder_window_ticks"`
	RTTMarginTicks       uint64        `toml:"rtt_margin_ticks"`
	BandwidthBytesPerSec float64       `toml:"bandwidth_bytes_per_sec"`
	SnapDistance         float64       `toml:"snap_distance"`
	MaxPayloadBytes      int64         `toml:"max_payload_bytes"`
	MaxClients           int           `toml:"max_clients"`
	ReplayDir            string        `toml:"replay_dir"`
	ReplayMaxSessions    int           `toml:"replay_max_sessions"`
	Logging              LoggingConfig `toml:"logging"`

	AckTimeout          time.Duration `toml:"-"`
	BlendTau            time.Duration `toml:"-"`
	PingInterval        time.Duration `toml:"-"`
	ReplayMaxAge        time.Duration `toml:"-"`
	ReplaySweepInterval time.Duration `toml:"-"`

	// Duration fields mirrored as strings for the TOML layer.
	AckTimeoutRaw          string `toml:"ack_timeout"`
	BlendTauRaw            string `toml:"blend_tau"`
	PingIntervalRaw        string `toml:"ping_interval"`
	ReplayMaxAgeRaw        string `toml:"replay_max_age"`
	ReplaySweepIntervalRaw string `toml:"replay_sweep_interval"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Load reads configuration from an optional TOML file (SYNC_CONFIG_FILE)
// layered under environment variable overrides, applying sane defaults and
// returning descriptive errors for invalid values.
func Load() (*Config, error) {
	cfg := defaults()

	//1.- Layer the optional TOML file first so env vars stay authoritative.
	if path := strings.TrimSpace(os.Getenv("SYNC_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("SYNC_ADDR")); raw != "" {
		cfg.Address = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_TICK_RATE_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_TICK_RATE_HZ must be a positive number, got %q", raw))
		} else {
			cfg.TickRateHz = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_SNAPSHOT_CADENCE_TICKS")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("SYNC_SNAPSHOT_CADENCE_TICKS must be a positive integer, got %q", raw))
		} else {
			cfg.SnapshotCadenceTicks = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_HISTORY_DEPTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_HISTORY_DEPTH must be a positive integer, got %q", raw))
		} else {
			cfg.HistoryDepth = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_REORDER_WINDOW_TICKS")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || value == 0 {
			problems = append(problems, fmt.Sprintf("SYNC_REORDER_WINDOW_TICKS must be a positive integer, got %q", raw))
		} else {
			cfg.ReorderWindowTicks = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_ACK_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_ACK_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.AckTimeout = duration
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_RTT_MARGIN_TICKS")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SYNC_RTT_MARGIN_TICKS must be a non-negative integer, got %q", raw))
		} else {
			cfg.RTTMarginTicks = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_BANDWIDTH_BYTES_PER_SEC")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_BANDWIDTH_BYTES_PER_SEC must be a positive number, got %q", raw))
		} else {
			cfg.BandwidthBytesPerSec = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_SNAP_DISTANCE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_SNAP_DISTANCE must be a positive number, got %q", raw))
		} else {
			cfg.SnapDistance = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_BLEND_TAU")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_BLEND_TAU must be a positive duration, got %q", raw))
		} else {
			cfg.BlendTau = duration
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_REPLAY_DIR")); raw != "" {
		cfg.ReplayDir = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_REPLAY_MAX_SESSIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_REPLAY_MAX_SESSIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayMaxSessions = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_REPLAY_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_REPLAY_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.ReplayMaxAge = duration
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_REPLAY_SWEEP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_REPLAY_SWEEP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.ReplaySweepInterval = duration
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_LEVEL")); raw != "" {
		cfg.Logging.Level = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_PATH")); raw != "" {
		cfg.Logging.Path = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("SYNC_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Address:              DefaultAddr,
		TickRateHz:           DefaultTickRateHz,
		SnapshotCadenceTicks: DefaultSnapshotCadenceTicks,
		HistoryDepth:         DefaultHistoryDepth,
		ReorderWindowTicks:   DefaultReorderWindowTicks,
		AckTimeout:           DefaultAckTimeout,
		RTTMarginTicks:       DefaultRTTMarginTicks,
		BandwidthBytesPerSec: DefaultBandwidthBytesPerSecond,
		SnapDistance:         DefaultSnapDistance,
		BlendTau:             DefaultBlendTau,
		PingInterval:         DefaultPingInterval,
		MaxPayloadBytes:      DefaultMaxPayloadBytes,
		MaxClients:           DefaultMaxClients,
		ReplayMaxSessions:    DefaultReplayMaxSessions,
		ReplayMaxAge:         DefaultReplayMaxAge,
		ReplaySweepInterval:  DefaultReplaySweepInterval,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	//1.- Promote the string duration mirrors into their typed fields.
	for _, entry := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{c.AckTimeoutRaw, "ack_timeout", &c.AckTimeout},
		{c.BlendTauRaw, "blend_tau", &c.BlendTau},
		{c.PingIntervalRaw, "ping_interval", &c.PingInterval},
		{c.ReplayMaxAgeRaw, "replay_max_age", &c.ReplayMaxAge},
		{c.ReplaySweepIntervalRaw, "replay_sweep_interval", &c.ReplaySweepInterval},
	} {
		if strings.TrimSpace(entry.raw) == "" {
			continue
		}
		duration, err := time.ParseDuration(entry.raw)
		if err != nil || duration <= 0 {
			return fmt.Errorf("config file %s must be a positive duration, got %q", entry.name, entry.raw)
		}
		*entry.dst = duration
	}
	return nil
}
