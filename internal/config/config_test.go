package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/odgrim/abathur/internal/config"
)

func TestLoad_FromConfigYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("concurrency: 8\ntask_timeout_seconds: 120\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ABATHUR_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Concurrency != 8 {
		t.Fatalf("expected concurrency=8, got %d", cfg.Concurrency)
	}
	if cfg.TaskTimeoutSeconds != 120 {
		t.Fatalf("expected task_timeout_seconds=120, got %d", cfg.TaskTimeoutSeconds)
	}
}

func TestLoad_EnvOverridesTakePrecedence(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("concurrency: 8\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ABATHUR_HOME", home)
	t.Setenv("ABATHUR_CONCURRENCY", "2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Concurrency != 2 {
		t.Fatalf("expected env override concurrency=2, got %d", cfg.Concurrency)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	t.Setenv("ABATHUR_HOME", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true with no config.yaml present")
	}
}

func TestLoad_DefaultsAppliedWhenUnset(t *testing.T) {
	t.Setenv("ABATHUR_HOME", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Concurrency != 4 {
		t.Fatalf("expected default concurrency=4, got %d", cfg.Concurrency)
	}
	if cfg.Budget.CautionUSD != 10 || cfg.Budget.WarningUSD != 25 || cfg.Budget.CriticalUSD != 50 {
		t.Fatalf("expected default budget thresholds, got %+v", cfg.Budget)
	}
	if cfg.Limits.MaxDepth != 5 || cfg.Limits.MaxDirectSubtasks != 10 || cfg.Limits.MaxDescendants != 50 {
		t.Fatalf("expected default spawn limits, got %+v", cfg.Limits)
	}
	if cfg.Weights.Urgency != 2.0 {
		t.Fatalf("expected default urgency weight 2.0, got %v", cfg.Weights.Urgency)
	}
}

func TestLoad_PartialWeightsOverrideDoesNotZeroOthers(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("weights:\n  base: 2.0\n  urgency: 3.0\n  depth: 1.5\n  blocking: 0.5\n  source: 1.0\n  wait: 0.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ABATHUR_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Weights.Base != 2.0 || cfg.Weights.Urgency != 3.0 {
		t.Fatalf("expected yaml weights to override defaults, got %+v", cfg.Weights)
	}
}

func TestFingerprint_ChangesWhenConcurrencyChanges(t *testing.T) {
	a := config.Config{Concurrency: 4, PollIntervalSeconds: 5}
	b := config.Config{Concurrency: 8, PollIntervalSeconds: 5}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected distinct fingerprints for distinct concurrency")
	}
}
