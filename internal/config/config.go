// Package config loads and hot-reloads the engine's runtime settings:
// priority weights, budget thresholds, spawn limits, timeouts, and the
// directories the worktree manager provisions into. YAML plus env
// overrides plus fsnotify hot reload, with a Fingerprint for detecting
// a stale-vs-current config.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PriorityWeights mirrors internal/priority.Weights in a YAML-tagged
// shape, so config.yaml can override the scoring coefficients without
// importing the priority package here.
type PriorityWeights struct {
	Base     float64 `yaml:"base"`
	Urgency  float64 `yaml:"urgency"`
	Depth    float64 `yaml:"depth"`
	Blocking float64 `yaml:"blocking"`
	Source   float64 `yaml:"source"`
	Wait     float64 `yaml:"wait"`
}

// BudgetConfig names the USD spend thresholds past which the reactor
// scales dispatch concurrency down.
type BudgetConfig struct {
	CautionUSD  float64 `yaml:"caution_usd"`
	WarningUSD  float64 `yaml:"warning_usd"`
	CriticalUSD float64 `yaml:"critical_usd"`
}

// LimitsConfig names the spawn-tree ceilings the reactor enforces
// before dispatching a task.
type LimitsConfig struct {
	MaxDepth          int `yaml:"max_depth"`
	MaxDirectSubtasks int `yaml:"max_direct_subtasks"`
	MaxDescendants    int `yaml:"max_descendants"`
}

// BreakerConfig names the per-template circuit breaker's tunables.
type BreakerConfig struct {
	Threshold       int `yaml:"threshold"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// EvolutionConfig names the sliding-window thresholds the evolution
// loop uses to open refinement requests.
type EvolutionConfig struct {
	WindowSize     int     `yaml:"window_size"`
	MinorThreshold float64 `yaml:"minor_threshold"`
	MajorThreshold float64 `yaml:"major_threshold"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// RepoRoot is the canonical checkout worktree.Manager branches and
	// merges against. RuntimeDir is the parent of every task worktree
	// (<runtime_dir>/worktrees/<task_id>); AgentsDir is where agent
	// template definitions are read from on startup.
	RepoRoot   string `yaml:"repo_root"`
	RuntimeDir string `yaml:"runtime_dir"`
	AgentsDir  string `yaml:"agents_dir"`

	Concurrency          int           `yaml:"concurrency"`
	PollIntervalSeconds  int           `yaml:"poll_interval_seconds"`
	TaskTimeoutSeconds   int           `yaml:"task_timeout_seconds"`
	HeartbeatIntervalSec int           `yaml:"heartbeat_interval_seconds"`

	Weights   PriorityWeights `yaml:"weights"`
	Budget    BudgetConfig    `yaml:"budget"`
	Limits    LimitsConfig    `yaml:"limits"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Evolution EvolutionConfig `yaml:"evolution"`

	// SubstrateCommand is the argv of the subprocess executor.RunAttempt
	// spawns per task attempt: whatever agent binary this deployment runs.
	SubstrateCommand []string `yaml:"substrate_command"`

	NeedsGenesis bool `yaml:"-"`
}

func (w PriorityWeights) isZero() bool {
	return w == PriorityWeights{}
}

func (b BudgetConfig) isZero() bool {
	return b == BudgetConfig{}
}

func (l LimitsConfig) isZero() bool {
	return l == LimitsConfig{}
}

// ConfigPath returns the path to config.yaml within the given home
// directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		DBPath:               "abathur.db",
		LogLevel:             "info",
		RepoRoot:             ".",
		RuntimeDir:           "./runtime",
		AgentsDir:            "./agents",
		Concurrency:          4,
		PollIntervalSeconds:  5,
		TaskTimeoutSeconds:   int((10 * time.Minute).Seconds()),
		HeartbeatIntervalSec: 30,
		Weights: PriorityWeights{
			Base: 1.0, Urgency: 2.0, Depth: 1.5, Blocking: 0.5, Source: 1.0, Wait: 0.5,
		},
		Budget: BudgetConfig{CautionUSD: 10, WarningUSD: 25, CriticalUSD: 50},
		Limits: LimitsConfig{MaxDepth: 5, MaxDirectSubtasks: 10, MaxDescendants: 50},
		Breaker: BreakerConfig{Threshold: 5, CooldownSeconds: 300},
		Evolution: EvolutionConfig{WindowSize: 20, MinorThreshold: 0.6, MajorThreshold: 0.4},
	}
}

// HomeDir returns the engine's home directory, overridable via
// ABATHUR_HOME.
func HomeDir() string {
	if override := os.Getenv("ABATHUR_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".abathur")
}

// Load reads config.yaml from HomeDir(), applies env overrides and
// defaults, and returns the effective Config. A missing config.yaml is
// not an error: NeedsGenesis is set so the caller can write a starter
// file.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create abathur home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	defaults := defaultConfig()
	if cfg.DBPath == "" {
		cfg.DBPath = defaults.DBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.RepoRoot == "" {
		cfg.RepoRoot = defaults.RepoRoot
	}
	if cfg.RuntimeDir == "" {
		cfg.RuntimeDir = defaults.RuntimeDir
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = defaults.AgentsDir
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaults.PollIntervalSeconds
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		cfg.TaskTimeoutSeconds = defaults.TaskTimeoutSeconds
	}
	if cfg.HeartbeatIntervalSec <= 0 {
		cfg.HeartbeatIntervalSec = defaults.HeartbeatIntervalSec
	}
	if cfg.Weights.isZero() {
		cfg.Weights = defaults.Weights
	}
	if cfg.Budget.isZero() {
		cfg.Budget = defaults.Budget
	}
	if cfg.Limits.isZero() {
		cfg.Limits = defaults.Limits
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker.Threshold = defaults.Breaker.Threshold
	}
	if cfg.Breaker.CooldownSeconds <= 0 {
		cfg.Breaker.CooldownSeconds = defaults.Breaker.CooldownSeconds
	}
	if cfg.Evolution.WindowSize <= 0 {
		cfg.Evolution.WindowSize = defaults.Evolution.WindowSize
	}
	if cfg.Evolution.MinorThreshold <= 0 {
		cfg.Evolution.MinorThreshold = defaults.Evolution.MinorThreshold
	}
	if cfg.Evolution.MajorThreshold <= 0 {
		cfg.Evolution.MajorThreshold = defaults.Evolution.MajorThreshold
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ABATHUR_CONCURRENCY"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Concurrency = v
		}
	}
	if raw := os.Getenv("ABATHUR_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ABATHUR_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("ABATHUR_RUNTIME_DIR"); raw != "" {
		cfg.RuntimeDir = raw
	}
	if raw := os.Getenv("ABATHUR_AGENTS_DIR"); raw != "" {
		cfg.AgentsDir = raw
	}
}

// Fingerprint returns a stable hash of the settings that change a
// running process's behavior, so a hot-reloaded config can be compared
// against what's currently live before triggering a re-wire.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "concurrency=%d|poll=%d|timeout=%d|budget=%v|limits=%v|breaker=%v|weights=%v",
		c.Concurrency, c.PollIntervalSeconds, c.TaskTimeoutSeconds, c.Budget, c.Limits, c.Breaker, c.Weights)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
