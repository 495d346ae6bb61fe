package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Coordinator.Addr != "127.0.0.1:6379" {
		t.Errorf("Coordinator.Addr = %q, want %q", cfg.Coordinator.Addr, "127.0.0.1:6379")
	}
	if cfg.Orchestrator.MaxParallelImages != 5 {
		t.Errorf("Orchestrator.MaxParallelImages = %d, want %d", cfg.Orchestrator.MaxParallelImages, 5)
	}
	if len(cfg.MLM.KCandidates) != 5 {
		t.Errorf("MLM.KCandidates = %v, want length 5", cfg.MLM.KCandidates)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Setenv("FORESTSHIELD_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Scheduler.Workers = 9
	cfg.ObjectStore.Bucket = "test-bucket"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scheduler.Workers != 9 {
		t.Errorf("Scheduler.Workers = %d, want 9", loaded.Scheduler.Workers)
	}
	if loaded.ObjectStore.Bucket != "test-bucket" {
		t.Errorf("ObjectStore.Bucket = %q, want %q", loaded.ObjectStore.Bucket, "test-bucket")
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv("FORESTSHIELD_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}
