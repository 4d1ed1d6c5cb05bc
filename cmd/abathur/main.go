// Command abathur runs the self-evolving agent swarm engine as a
// daemon: load config, open the store, wire the reactor's dispatch
// loop, and serve until a shutdown signal arrives. No TUI, HTTP
// gateway, or channel adapters ship here — internal/api and
// internal/ingestion are library surfaces an operator wires a
// transport or external adapter against separately; this entrypoint
// only drives the dispatch loop itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odgrim/abathur/internal/audit"
	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/config"
	"github.com/odgrim/abathur/internal/egress"
	"github.com/odgrim/abathur/internal/evolution"
	"github.com/odgrim/abathur/internal/executor"
	"github.com/odgrim/abathur/internal/memory"
	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/reactor"
	"github.com/odgrim/abathur/internal/store"
	"github.com/odgrim/abathur/internal/substrate"
	"github.com/odgrim/abathur/internal/telemetry"
	"github.com/odgrim/abathur/internal/worktree"
)

// Version is stamped at release time via -ldflags.
var Version = "v0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if cfg.NeedsGenesis {
		if err := writeMinimalConfig(cfg.HomeDir); err != nil {
			fatalStartup(nil, "E_CONFIG_WRITE", err)
		}
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(nil, "E_CONFIG_RELOAD", err)
		}
	}

	// Audit opens before the logger so a logger init failure is itself
	// audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	eventBus := bus.NewWithLogger(logger)

	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.HomeDir, dbPath)
	}
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	audit.SetRepo(st.Audit)
	logger.Info("startup phase", "phase", "schema_migrated")

	runtimeDir := cfg.RuntimeDir
	if !filepath.IsAbs(runtimeDir) {
		runtimeDir = filepath.Join(cfg.HomeDir, runtimeDir)
	}
	if err := os.MkdirAll(filepath.Join(runtimeDir, "worktrees"), 0o755); err != nil {
		fatalStartup(logger, "E_RUNTIME_DIR_CREATE", err)
	}

	wt := worktree.New(cfg.RepoRoot, runtimeDir, st.Worktrees)

	if len(cfg.SubstrateCommand) == 0 {
		fatalStartup(logger, "E_SUBSTRATE_COMMAND_MISSING", fmt.Errorf("config.yaml: substrate_command must name the agent process to invoke per task attempt"))
	}
	adapter := substrate.NewExecAdapter(cfg.SubstrateCommand)

	exec := executor.New(st, wt, adapter, eventBus, executor.NoopVerifier)

	decay := memory.NewDecayDaemon(memory.DecayConfig{Store: st.Memories, Logger: logger})
	decay.Start(ctx)
	defer decay.Stop()

	evo := evolution.New(st, eventBus, evolution.Config{
		WindowSize:     cfg.Evolution.WindowSize,
		MinorThreshold: cfg.Evolution.MinorThreshold,
		MajorThreshold: cfg.Evolution.MajorThreshold,
	})

	pollInterval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	r := reactor.New(reactor.Config{
		Store:     st,
		Bus:       eventBus,
		Executor:  exec,
		Egress:    egress.NoopPublisher{}, // no concrete adapter ships; wire a real Publisher here
		Evolution: evo,
		Weights: priority.Weights{
			Base:     cfg.Weights.Base,
			Urgency:  cfg.Weights.Urgency,
			Depth:    cfg.Weights.Depth,
			Blocking: cfg.Weights.Blocking,
			Source:   cfg.Weights.Source,
			Wait:     cfg.Weights.Wait,
		},
		Logger:       logger,
		Concurrency:  cfg.Concurrency,
		PollInterval: pollInterval,
		Budget: reactor.BudgetConfig{
			CautionUSD:  cfg.Budget.CautionUSD,
			WarningUSD:  cfg.Budget.WarningUSD,
			CriticalUSD: cfg.Budget.CriticalUSD,
		},
		BreakerConfig: reactor.BreakerConfig{
			Threshold: cfg.Breaker.Threshold,
			Cooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		},
		Limits: reactor.Limits{
			MaxDepth:          cfg.Limits.MaxDepth,
			MaxDirectSubtasks: cfg.Limits.MaxDirectSubtasks,
			MaxDescendants:    cfg.Limits.MaxDescendants,
		},
	})

	r.Start(ctx)
	logger.Info("startup phase", "phase", "reactor_started", "concurrency", cfg.Concurrency)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	r.Stop()
	logger.Info("shutdown complete")
}

func writeMinimalConfig(homeDir string) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}
	data, err := yaml.Marshal(map[string]any{
		"substrate_command": []string{"abathur-agent"},
	})
	if err != nil {
		return err
	}
	return os.WriteFile(config.ConfigPath(homeDir), data, 0o644)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), "startup", reasonCode, "", message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
