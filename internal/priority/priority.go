// Package priority scores ready (and soon-to-be-ready) tasks so the
// reactor's dispatch loop and the repository's readiness index agree on
// ordering.
package priority

import (
	"math"
	"time"

	"github.com/odgrim/abathur/internal/store"
)

// Weights holds the configurable coefficients of the scoring formula.
type Weights struct {
	Base     float64
	Urgency  float64
	Depth    float64
	Blocking float64
	Source   float64
	Wait     float64
}

// DefaultWeights returns the documented defaults (1.0, 2.0, 1.5, 0.5, 1.0, 0.5).
func DefaultWeights() Weights {
	return Weights{
		Base:     1.0,
		Urgency:  2.0,
		Depth:    1.5,
		Blocking: 0.5,
		Source:   1.0,
		Wait:     0.5,
	}
}

// maxWaitBoost bounds the wait term so long-idle tasks don't dominate
// the score indefinitely, preventing starvation from going unbounded.
const maxWaitBoost = 10.0

// waitHalfLife is the wall-clock age at which the wait term reaches half
// of maxWaitBoost.
const waitHalfLife = 30 * time.Minute

// Input is the set of per-task facts the scorer needs; callers assemble
// it from internal/store and internal/resolver so this package has no
// direct database dependency.
type Input struct {
	Task            store.Task
	DependencyDepth int
	BlockingCount   int
	Now             time.Time
}

// Score computes p = w_b*base + w_u*urgency + w_d*depth + w_k*blocking
// + w_s*source + w_w*wait.
func Score(in Input, w Weights) float64 {
	base := float64(in.Task.Priority)
	urgency := urgencyTerm(in.Task.Deadline, in.Now)
	depth := float64(in.DependencyDepth)
	blocking := float64(in.BlockingCount)
	source := sourceTerm(in.Task.Source)
	wait := waitTerm(in.Task.SubmittedAt, in.Now)

	return w.Base*base + w.Urgency*urgency + w.Depth*depth + w.Blocking*blocking + w.Source*source + w.Wait*wait
}

// urgencyTerm is a sigmoid of deadline proximity: 0 when there is no
// deadline, approaching 1 as the deadline nears or passes.
func urgencyTerm(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return 0
	}
	remaining := deadline.Sub(now).Hours()
	// Sigmoid centered so a 24h-out deadline scores ~0.5; more urgent
	// (smaller/negative remaining) approaches 1.
	return 1 / (1 + math.Exp(remaining/12))
}

// sourceTerm rewards human- and planner-originated work over
// agent-spawned implementation subtasks.
func sourceTerm(source store.TaskSource) float64 {
	switch source {
	case store.TaskSourceHuman:
		return 2
	case store.TaskSourceAgentPlanner:
		return 1
	default:
		return 0
	}
}

// waitTerm grows monotonically with wall-clock age toward maxWaitBoost,
// using an exponential saturation curve so it never overtakes a fresh
// high-urgency or high-source task but still prevents starvation.
func waitTerm(submittedAt, now time.Time) float64 {
	age := now.Sub(submittedAt)
	if age <= 0 {
		return 0
	}
	return maxWaitBoost * (1 - math.Exp(-float64(age)/float64(waitHalfLife)))
}
