package reactor

import (
	"sync"
	"time"
)

// StallDetector flags a correlation (typically a goal ID) as stalled
// when the reactor has observed no state change and no running tasks
// for 2x the configured check interval, deduplicating the escalation
// per correlation id so a persistent stall doesn't re-alert on every
// tick.
type StallDetector struct {
	mu             sync.Mutex
	checkInterval  time.Duration
	lastActivity   map[string]time.Time
	lastAlertedAt  map[string]time.Time
}

// NewStallDetector builds a detector with the given check interval,
// defaulting to one minute.
func NewStallDetector(checkInterval time.Duration) *StallDetector {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &StallDetector{
		checkInterval: checkInterval,
		lastActivity:  map[string]time.Time{},
		lastAlertedAt: map[string]time.Time{},
	}
}

// Touch records activity for correlationID at now, clearing any prior
// stall alert for it.
func (d *StallDetector) Touch(correlationID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity[correlationID] = now
	delete(d.lastAlertedAt, correlationID)
}

// CheckStalled reports whether correlationID has gone silent for at
// least 2x the check interval and, if so, whether this call should
// raise a fresh escalation (it returns true at most once per stall
// episode, until Touch clears it).
func (d *StallDetector) CheckStalled(correlationID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastActivity[correlationID]
	if !ok {
		d.lastActivity[correlationID] = now
		return false
	}
	if now.Sub(last) < 2*d.checkInterval {
		return false
	}
	if _, alerted := d.lastAlertedAt[correlationID]; alerted {
		return false
	}
	d.lastAlertedAt[correlationID] = now
	return true
}
