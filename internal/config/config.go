// Package config loads ForestShield's on-disk configuration: the
// Shared State Store location, Object Store bucket, Distributed
// Coordinator address, and the tunables for the Orchestrator, Model
// Lifecycle Manager, and Region Scheduler.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	SSS          SSSConfig          `toml:"sss"`
	ObjectStore  ObjectStoreConfig  `toml:"object_store"`
	Coordinator  CoordinatorConfig  `toml:"coordinator"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	MLM          MLMConfig          `toml:"mlm"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Logging      LoggingConfig      `toml:"logging"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
	Workers      map[string]string  `toml:"workers"`
}

// SSSConfig controls the Shared State Store (SQLite-backed).
type SSSConfig struct {
	DataDir string `toml:"data_dir"`
}

// ObjectStoreConfig controls the content-addressed blob store.
type ObjectStoreConfig struct {
	Bucket string `toml:"bucket"`
	Region string `toml:"region"`
	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// stores (MinIO, LocalStack) in development.
	Endpoint string `toml:"endpoint"`
}

// CoordinatorConfig controls the Distributed Coordinator (Redis).
// Addr is handed to the Redis client as is (go-redis treats an empty
// Addr as localhost:6379); the coordinator runs in degraded
// single-replica mode when Redis cannot be reached at startup.
type CoordinatorConfig struct {
	Addr string `toml:"addr"`
}

// OrchestratorConfig mirrors orchestrator.Config's tunables.
type OrchestratorConfig struct {
	MaxParallelImages int    `toml:"max_parallel_images"`
	MaxPayloadBytes   int    `toml:"max_payload_bytes"`
	SearchLookbackDays int   `toml:"search_lookback_days"`
	RunTimeoutMinutes int    `toml:"run_timeout_minutes"`
	MaxAttempts       int    `toml:"max_attempts"`
	InitialBackoffMS  int    `toml:"initial_backoff_ms"`
	Multiplier        float64 `toml:"multiplier"`
	JitterFraction    float64 `toml:"jitter_fraction"`
}

// MLMConfig mirrors mlm.Config's tunables.
type MLMConfig struct {
	KCandidates           []int `toml:"k_candidates"`
	FallbackK             int   `toml:"fallback_k"`
	MaxPointerFlipRetries int   `toml:"max_pointer_flip_retries"`
}

// SchedulerConfig mirrors scheduler.Config's tunables.
type SchedulerConfig struct {
	ClaimTTLSeconds int `toml:"claim_ttl_seconds"`
	QueueDepth      int `toml:"queue_depth"`
	Workers         int `toml:"workers"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// TelemetryConfig controls Prometheus metrics exposition.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// DefaultConfig returns a sensible default configuration — all of it
// runnable against a single replica with no Redis or S3 reachable,
// per spec §4.3's graceful-degradation requirement.
func DefaultConfig() Config {
	home := Home()
	return Config{
		SSS: SSSConfig{
			DataDir: filepath.Join(home, "data"),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "forestshield",
			Region: "us-east-1",
		},
		Coordinator: CoordinatorConfig{
			Addr: "127.0.0.1:6379",
		},
		Orchestrator: OrchestratorConfig{
			MaxParallelImages:  5,
			MaxPayloadBytes:    256 * 1024,
			SearchLookbackDays: 30,
			RunTimeoutMinutes:  30,
			MaxAttempts:        3,
			InitialBackoffMS:   1000,
			Multiplier:         2.0,
			JitterFraction:     0.2,
		},
		MLM: MLMConfig{
			KCandidates:           []int{2, 3, 4, 5, 6},
			FallbackK:             3,
			MaxPointerFlipRetries: 5,
		},
		Scheduler: SchedulerConfig{
			ClaimTTLSeconds: 60,
			QueueDepth:      256,
			Workers:         4,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Port:    9090,
		},
		// Workers maps each spec §6 worker name to the HTTP endpoint of
		// its deployed implementation. Empty by default — those workers
		// are out-of-scope collaborators the operator deploys separately
		// and points the core at.
		Workers: map[string]string{},
	}
}

// Load reads config from $FORESTSHIELD_HOME/config.toml, falling back
// to defaults when the file does not exist.
func Load() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(Home(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to $FORESTSHIELD_HOME/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(Home(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Home returns the ForestShield data/config directory.
func Home() string {
	if env := os.Getenv("FORESTSHIELD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".forestshield")
}
