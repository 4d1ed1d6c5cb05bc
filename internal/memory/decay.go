package memory

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/odgrim/abathur/internal/store"
)

// DefaultDecayFloor is the confidence level below which a memory is
// archived rather than merely cooled.
const DefaultDecayFloor = 0.05

// DecayFactor computes exp(-elapsed.Hours() * decayRate), the multiplier
// a memory's confidence is scaled by after elapsed has passed since its
// last decay tick.
func DecayFactor(elapsed time.Duration, decayRate float64) float64 {
	return math.Exp(-elapsed.Hours() * decayRate)
}

// DecayConfig holds the dependencies for the decay daemon, shaped the
// same way internal/cron's Config holds a scheduler's.
type DecayConfig struct {
	Store    *store.MemoryRepo
	Logger   *slog.Logger
	Interval time.Duration // sweep interval; defaults to 1 hour if zero
	Floor    float64       // archive floor; defaults to DefaultDecayFloor if zero
}

// DecayDaemon periodically sweeps every non-archived memory and decays
// its confidence by elapsed time since its last update, archiving rows
// that fall below the floor. Loop shape grounded on internal/cron's
// Scheduler (ticker, cancel, waitgroup), generalized from "fire due
// cron schedules" to "decay due memories".
type DecayDaemon struct {
	store    *store.MemoryRepo
	logger   *slog.Logger
	interval time.Duration
	floor    float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDecayDaemon builds a DecayDaemon with cfg, filling unset fields with
// defaults.
func NewDecayDaemon(cfg DecayConfig) *DecayDaemon {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	floor := cfg.Floor
	if floor <= 0 {
		floor = DefaultDecayFloor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DecayDaemon{store: cfg.Store, logger: logger, interval: interval, floor: floor}
}

// Start begins the sweep loop in a background goroutine.
func (d *DecayDaemon) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("memory decay daemon started", "interval", d.interval)
}

// Stop cancels the sweep loop and waits for it to exit.
func (d *DecayDaemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("memory decay daemon stopped")
}

func (d *DecayDaemon) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick decays every eligible memory by the time elapsed since its last
// update.
func (d *DecayDaemon) tick(ctx context.Context) {
	now := time.Now().UTC()
	memories, err := d.store.ListDecayable(ctx)
	if err != nil {
		d.logger.Error("decay: failed to list memories", "error", err)
		return
	}
	for _, m := range memories {
		elapsed := now.Sub(m.UpdatedAt)
		if elapsed <= 0 {
			continue
		}
		factor := DecayFactor(elapsed, m.DecayRate)
		if err := d.store.DecayConfidence(ctx, m.ID, factor, d.floor); err != nil {
			d.logger.Error("decay: failed to decay memory", "memory_id", m.ID, "error", err)
		}
	}
}
