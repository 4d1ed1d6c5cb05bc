package store

import "github.com/odgrim/abathur/internal/enginerr"

// Repository-level failure modes: NotFound, Conflict, CycleViolation,
// Transient, Fatal. NotFound and Conflict and
// CycleViolation are all "input" class (caller's request was invalid
// given current state); Transient/Fatal are handled via enginerr
// directly by callers that need to retry or halt.
var (
	// ErrConflict marks a unique or foreign-key violation surfaced as a
	// typed error instead of a raw driver error.
	ErrConflict = enginerr.Input("conflict")
	// ErrCycleViolation marks a dependency insertion that would create a
	// cycle in the task DAG.
	ErrCycleViolation = enginerr.Input("cycle violation")
)
