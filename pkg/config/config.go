// Package config loads Synap's process configuration from YAML with
// environment-variable overrides, the way cmd/synapd wires up the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hivellm/synap/pkg/log"
)

// Config is the root configuration document.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Shards int          `yaml:"shards"`
	Queue  QueueConfig  `yaml:"queue"`
	Plog   PlogConfig   `yaml:"plog"`
	Group  GroupConfig  `yaml:"group"`
	Script ScriptConfig `yaml:"script"`
	Sink   SinkConfig   `yaml:"sink"`
}

// LogConfig controls pkg/log.Init.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// QueueConfig supplies defaults for newly created queues.
type QueueConfig struct {
	MaxDepth          int           `yaml:"max_depth"`
	AckDeadline       time.Duration `yaml:"ack_deadline"`
	DefaultMaxRetries uint32        `yaml:"default_max_retries"`
	DefaultPriority   uint8         `yaml:"default_priority"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

// PlogConfig supplies defaults for newly created topics.
type PlogConfig struct {
	NumPartitions   int           `yaml:"num_partitions"`
	SegmentBytes    int64         `yaml:"segment_bytes"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	CompactInterval time.Duration `yaml:"compact_interval"`
}

// GroupConfig supplies defaults for newly created consumer groups.
type GroupConfig struct {
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	RebalanceTimeout  time.Duration `yaml:"rebalance_timeout"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
}

// ScriptConfig controls the sandboxed script engine.
type ScriptConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxCacheEntries int           `yaml:"max_cache_entries"`
}

// SinkConfig selects the persistence sink implementation.
type SinkConfig struct {
	Kind string `yaml:"kind"` // "memory" | "bolt"
	Path string `yaml:"path"`
}

// Default returns the configuration Synap boots with when no file is given.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", JSON: false},
		Shards: 64,
		Queue: QueueConfig{
			MaxDepth:          10_000,
			AckDeadline:       30 * time.Second,
			DefaultMaxRetries: 3,
			DefaultPriority:   5,
			SweepInterval:     1 * time.Second,
		},
		Plog: PlogConfig{
			NumPartitions:   4,
			SegmentBytes:    64 << 20,
			MaxBatchSize:    500,
			FlushInterval:   5 * time.Second,
			CompactInterval: 1 * time.Minute,
		},
		Group: GroupConfig{
			SessionTimeout:    10 * time.Second,
			RebalanceTimeout:  30 * time.Second,
			RebalanceInterval: 10 * time.Second,
		},
		Script: ScriptConfig{
			DefaultTimeout:  5 * time.Second,
			MaxCacheEntries: 1000,
		},
		Sink: SinkConfig{Kind: "memory"},
	}
}

// Load reads path (or SYNAP_CONFIG, or falls back to Default) and applies
// environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SYNAP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Shards <= 0 || cfg.Shards&(cfg.Shards-1) != 0 {
		return nil, fmt.Errorf("shards must be a power of two, got %d", cfg.Shards)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYNAP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYNAP_SHARD_COUNT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Shards = n
		}
	}
	if v := os.Getenv("SYNAP_SCRIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Script.DefaultTimeout = d
		}
	}
}

// LogLevel converts the string level into a pkg/log.Level.
func (c *Config) LogLevel() log.Level {
	switch c.Log.Level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
