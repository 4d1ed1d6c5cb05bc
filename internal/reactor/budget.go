package reactor

import "sync"

// Caution/warning/critical are the three cost thresholds (USD, rolling
// total since the tracker was created or last Reset) at which the
// reactor throttles its dispatch concurrency.
type BudgetConfig struct {
	CautionUSD  float64
	WarningUSD  float64
	CriticalUSD float64
}

// DefaultBudgetConfig is a conservative starting point; operators are
// expected to tune these against their own provider pricing.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{CautionUSD: 10, WarningUSD: 25, CriticalUSD: 50}
}

// BudgetTracker accumulates spend and reduces the reactor's effective
// concurrency by 25/50/75% once spend crosses the caution/warning/
// critical thresholds.
type BudgetTracker struct {
	mu     sync.Mutex
	spent  float64
	config BudgetConfig
}

// NewBudgetTracker builds a tracker with cfg, defaulted if zero-valued.
func NewBudgetTracker(cfg BudgetConfig) *BudgetTracker {
	if cfg.CautionUSD <= 0 && cfg.WarningUSD <= 0 && cfg.CriticalUSD <= 0 {
		cfg = DefaultBudgetConfig()
	}
	return &BudgetTracker{config: cfg}
}

// RecordCost adds usd to the rolling spend total.
func (b *BudgetTracker) RecordCost(usd float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += usd
}

// Spent returns the rolling spend total.
func (b *BudgetTracker) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Reset zeroes the rolling spend total, for a new accounting window.
func (b *BudgetTracker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent = 0
}

// Concurrency scales baseConcurrency down by the threshold currently
// crossed: 25% off past caution, 50% off past warning, 75% off past
// critical. Always returns at least 1 so the reactor never fully stalls
// on cost alone.
func (b *BudgetTracker) Concurrency(baseConcurrency int) int {
	b.mu.Lock()
	spent := b.spent
	cfg := b.config
	b.mu.Unlock()

	reduced := float64(baseConcurrency)
	switch {
	case cfg.CriticalUSD > 0 && spent >= cfg.CriticalUSD:
		reduced *= 0.25
	case cfg.WarningUSD > 0 && spent >= cfg.WarningUSD:
		reduced *= 0.50
	case cfg.CautionUSD > 0 && spent >= cfg.CautionUSD:
		reduced *= 0.75
	}
	n := int(reduced)
	if n < 1 {
		n = 1
	}
	return n
}
