package reactor

import (
	"sync"
	"time"
)

// defaultBreakerThreshold and defaultBreakerCooldown are the circuit
// breaker's fallback tunables when a caller configures neither.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 5 * time.Minute
)

// templateBreaker tracks consecutive failure counts and trip state for
// a single agent template: a template version that keeps failing
// attempts stops being dispatched for a cooldown window instead of
// burning through every Ready task bound to it.
type templateBreaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// TemplateBreakers holds one templateBreaker per template name.
type TemplateBreakers struct {
	mu        sync.Mutex
	breakers  map[string]*templateBreaker
	threshold int
	cooldown  time.Duration
}

// NewTemplateBreakers builds a breaker set with the given threshold and
// cooldown, defaulting both if unset.
func NewTemplateBreakers(threshold int, cooldown time.Duration) *TemplateBreakers {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &TemplateBreakers{breakers: map[string]*templateBreaker{}, threshold: threshold, cooldown: cooldown}
}

// Tripped reports whether templateName's breaker is currently open,
// resetting it automatically once the cooldown has elapsed.
func (t *TemplateBreakers) Tripped(templateName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[templateName]
	if !ok || !cb.tripped {
		return false
	}
	if time.Since(cb.lastFailure) >= t.cooldown {
		cb.tripped = false
		cb.failures = 0
		return false
	}
	return true
}

// RecordFailure increments templateName's failure count and trips its
// breaker once the threshold is reached.
func (t *TemplateBreakers) RecordFailure(templateName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[templateName]
	if !ok {
		cb = &templateBreaker{}
		t.breakers[templateName] = cb
	}
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= t.threshold {
		cb.tripped = true
	}
	return cb.tripped
}

// RecordSuccess clears templateName's failure count.
func (t *TemplateBreakers) RecordSuccess(templateName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[templateName]
	if !ok {
		return
	}
	cb.failures = 0
	cb.tripped = false
}
