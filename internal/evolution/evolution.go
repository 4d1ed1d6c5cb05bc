// Package evolution maintains a sliding success window per agent
// template version and reacts to it: opening Minor/Major refinement
// requests when success rate degrades, and auto-reverting a newly
// deployed version that underperforms the one it replaced. The shape
// is a circuit breaker generalized from "trip on failure count" to
// "open a refinement request when a window's success rate degrades".
package evolution

import (
	"context"
	"fmt"

	"github.com/odgrim/abathur/internal/audit"
	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/shared"
	"github.com/odgrim/abathur/internal/store"
)

// DefaultWindowSize is N in "success_rate < threshold over N outcomes".
// Left as configuration rather than a hardcoded constant.
const DefaultWindowSize = 20

// DefaultMinorThreshold and DefaultMajorThreshold gate Minor/Major
// refinement requests; also left as configuration.
const (
	DefaultMinorThreshold = 0.6
	DefaultMajorThreshold = 0.4
)

// Config holds the evolution loop's tunables.
type Config struct {
	WindowSize     int
	MinorThreshold float64
	MajorThreshold float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinorThreshold <= 0 {
		c.MinorThreshold = DefaultMinorThreshold
	}
	if c.MajorThreshold <= 0 {
		c.MajorThreshold = DefaultMajorThreshold
	}
	return c
}

// Loop evaluates outcome windows and opens refinement requests or
// triggers an auto-revert.
type Loop struct {
	store  *store.Store
	bus    *bus.Bus
	config Config
}

// New builds a Loop with cfg's tunables, defaulted where unset.
func New(s *store.Store, b *bus.Bus, cfg Config) *Loop {
	return &Loop{store: s, bus: b, config: cfg.withDefaults()}
}

// RecordOutcome records one task's terminal outcome for its bound
// template version (idempotent per correlation id + payload type, so a
// retried event emission can't double-count) and re-evaluates that
// version's window.
func (l *Loop) RecordOutcome(ctx context.Context, templateName string, version int, correlationID, payloadType string, succeeded bool) error {
	recorded, err := l.store.IdempotentOutcome(ctx, templateName, version, correlationID, payloadType, succeeded)
	if err != nil {
		return fmt.Errorf("record outcome for %s v%d: %w", templateName, version, err)
	}
	if !recorded {
		return nil
	}
	if err := l.evaluate(ctx, templateName, version); err != nil {
		return err
	}
	return l.maybeCheckRevert(ctx, templateName, version)
}

// maybeCheckRevert runs the auto-revert check against version's
// immediate predecessor, but only while version is still the template's
// currently active deploy — once a later version has since replaced it,
// reverting this one would undo the wrong deploy.
func (l *Loop) maybeCheckRevert(ctx context.Context, templateName string, version int) error {
	if version <= 1 {
		return nil
	}
	active, err := l.store.Templates.Active(ctx, templateName)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load active template %s: %w", templateName, err)
	}
	if active.Version != version {
		return nil
	}
	return l.CheckRevert(ctx, templateName, version, version-1)
}

// evaluate re-reads a version's sliding window and opens a refinement
// request if its success rate has crossed a threshold. Requires a full
// window's worth of samples before judging, so a handful of early
// outcomes can't trigger a premature refinement.
func (l *Loop) evaluate(ctx context.Context, templateName string, version int) error {
	successes, total, err := l.store.CountOutcomes(ctx, templateName, version, l.config.WindowSize)
	if err != nil {
		return fmt.Errorf("count outcomes for %s v%d: %w", templateName, version, err)
	}
	if total < l.config.WindowSize {
		return nil
	}
	rate := float64(successes) / float64(total)

	var kind store.RefinementKind
	switch {
	case rate < l.config.MajorThreshold:
		kind = store.RefinementMajor
	case rate < l.config.MinorThreshold:
		kind = store.RefinementMinor
	default:
		return nil
	}
	return l.openRefinement(ctx, templateName, version, kind, fmt.Sprintf("success rate %.2f over %d outcomes", rate, total))
}

// openRefinement opens a refinement request, silently skipping if one is
// already open for this (template, version).
func (l *Loop) openRefinement(ctx context.Context, templateName string, fromVersion int, kind store.RefinementKind, reason string) error {
	req, err := l.store.Refinements.Open(ctx, store.RefinementRequest{
		TemplateName: templateName,
		FromVersion:  fromVersion,
		Kind:         kind,
		Status:       store.RefinementPending,
		Reason:       reason,
	})
	if err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return fmt.Errorf("open %s refinement for %s v%d: %w", kind, templateName, fromVersion, err)
	}
	l.emit(ctx, bus.TopicRefinementOpened, bus.RefinementEvent{
		TemplateName: req.TemplateName, FromVersion: req.FromVersion, Kind: string(req.Kind), Status: string(req.Status),
	})
	return nil
}

// CheckRevert compares a newly deployed version's window against its
// immediate predecessor's and, if the new version's success rate is
// lower, reverts to the predecessor's exact stored content — never a
// regenerated reconstruction — and records a Completed Revert request.
func (l *Loop) CheckRevert(ctx context.Context, templateName string, newVersion, previousVersion int) error {
	newSuccesses, newTotal, err := l.store.CountOutcomes(ctx, templateName, newVersion, l.config.WindowSize)
	if err != nil {
		return fmt.Errorf("count outcomes for %s v%d: %w", templateName, newVersion, err)
	}
	if newTotal < l.config.WindowSize {
		return nil
	}
	prevSuccesses, prevTotal, err := l.store.CountOutcomes(ctx, templateName, previousVersion, l.config.WindowSize)
	if err != nil {
		return fmt.Errorf("count outcomes for %s v%d: %w", templateName, previousVersion, err)
	}
	if prevTotal == 0 {
		return nil
	}

	newRate := float64(newSuccesses) / float64(newTotal)
	prevRate := float64(prevSuccesses) / float64(prevTotal)
	if newRate >= prevRate {
		return nil
	}

	if err := l.store.Templates.Revert(ctx, templateName, newVersion, previousVersion); err != nil {
		return fmt.Errorf("revert %s v%d to v%d: %w", templateName, newVersion, previousVersion, err)
	}

	toVersion := previousVersion
	req, err := l.store.Refinements.Open(ctx, store.RefinementRequest{
		TemplateName: templateName,
		FromVersion:  newVersion,
		ToVersion:    &toVersion,
		Kind:         store.RefinementRevert,
		Status:       store.RefinementCompleted,
		Reason:       fmt.Sprintf("v%d success rate %.2f below v%d's %.2f", newVersion, newRate, previousVersion, prevRate),
	})
	if err != nil && err != store.ErrConflict {
		return fmt.Errorf("record revert refinement for %s v%d: %w", templateName, newVersion, err)
	}
	audit.Record(ctx, "evolution", "template_revert", templateName, req.Reason)
	l.emit(ctx, bus.TopicRefinementReverted, bus.RefinementEvent{
		TemplateName: templateName, FromVersion: newVersion, ToVersion: previousVersion,
		Kind: string(store.RefinementRevert), Status: string(req.Status),
	})
	return nil
}

func (l *Loop) emit(ctx context.Context, topic string, payload bus.RefinementEvent) {
	if l.bus == nil {
		return
	}
	l.bus.PublishCorrelated(topic, payload, shared.TraceID(ctx))
}
