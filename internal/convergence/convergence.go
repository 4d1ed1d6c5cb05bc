package convergence

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/odgrim/abathur/internal/bus"
	"github.com/odgrim/abathur/internal/shared"
	"github.com/odgrim/abathur/internal/store"
)

// DefaultMaxIterations bounds the loop when a task doesn't specify one.
const DefaultMaxIterations = 10

// IterationResult is what one convergence iteration produced.
type IterationResult struct {
	AttemptBranch string
	DiffSize      int
	TestsPassed   bool
}

// IterateFunc performs one iteration under the chosen strategy (an
// executor re-invocation, a diff against the previous attempt, a test
// run) and reports its outcome. Kept abstract so this package never
// imports internal/executor directly — the reactor wires the two
// together the same way worktree.Verifier keeps the merge queue
// decoupled from goal-constraint checking.
type IterateFunc func(ctx context.Context, strategy store.ConvergenceStrategy, iteration int) (IterationResult, error)

// Engine drives a task's Setup -> Prepare -> Decide -> Iterate -> Resolve
// convergence loop.
type Engine struct {
	trajectories *store.ConvergenceRepo
	bandit       *Bandit
	bus          *bus.Bus
}

// New builds an Engine backed by repo, with bus optional (nil disables
// event emission).
func New(repo *store.ConvergenceRepo, b *bus.Bus) *Engine {
	return &Engine{trajectories: repo, bandit: NewBandit(repo), bus: b}
}

// Run executes the loop for one task until an iteration's trajectory
// resolves to an attractor or maxIterations is exhausted (in which case
// the trajectory is classified Chaotic: anything left unresolved at the
// ceiling is treated as a failure needing a human diagnostic, not
// silently abandoned).
func (e *Engine) Run(ctx context.Context, taskID, goalID string, maxIterations int, rng *rand.Rand, iterate IterateFunc) (store.Attractor, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	e.emit(ctx, bus.TopicConvergenceStarted, bus.ConvergenceEvent{TaskID: taskID, GoalID: goalID})

	var history []store.Trajectory
	for iteration := 1; iteration <= maxIterations; iteration++ {
		strategy, err := e.bandit.Choose(ctx, goalID, rng)
		if err != nil {
			return store.AttractorNone, fmt.Errorf("choose strategy: %w", err)
		}

		result, err := iterate(ctx, strategy, iteration)
		if err != nil {
			return store.AttractorNone, fmt.Errorf("iterate (strategy=%s, iteration=%d): %w", strategy, iteration, err)
		}

		traj, err := e.trajectories.RecordTrajectory(ctx, store.Trajectory{
			TaskID:        taskID,
			GoalID:        goalID,
			Iteration:     iteration,
			Strategy:      strategy,
			AttemptBranch: result.AttemptBranch,
			DiffSize:      result.DiffSize,
			TestsPassed:   result.TestsPassed,
		})
		if err != nil {
			return store.AttractorNone, fmt.Errorf("record trajectory: %w", err)
		}
		history = append(history, traj)
		e.emit(ctx, bus.TopicConvergenceIterated, bus.ConvergenceEvent{
			TaskID: taskID, GoalID: goalID, Iteration: iteration, Strategy: string(strategy),
		})

		classification := Classify(history)
		if classification == store.AttractorNone {
			continue
		}
		return e.resolve(ctx, taskID, goalID, traj.ID, strategy, classification)
	}

	last := history[len(history)-1]
	return e.resolve(ctx, taskID, goalID, last.ID, last.Strategy, store.AttractorChaotic)
}

// resolve stamps the terminal classification, updates the bandit's
// posterior for the strategy that produced it, and emits the resolved
// event.
func (e *Engine) resolve(ctx context.Context, taskID, goalID, trajectoryID string, strategy store.ConvergenceStrategy, classification store.Attractor) (store.Attractor, error) {
	if err := e.trajectories.SetClassification(ctx, trajectoryID, classification); err != nil {
		return store.AttractorNone, fmt.Errorf("classify trajectory: %w", err)
	}
	success := classification == store.AttractorFixedPoint
	if err := e.bandit.Update(ctx, goalID, strategy, success); err != nil {
		return store.AttractorNone, fmt.Errorf("update bandit posterior: %w", err)
	}
	e.emit(ctx, bus.TopicConvergenceResolved, bus.ConvergenceEvent{
		TaskID: taskID, GoalID: goalID, Strategy: string(strategy), Classification: string(classification),
	})
	return classification, nil
}

func (e *Engine) emit(ctx context.Context, topic string, payload bus.ConvergenceEvent) {
	if e.bus == nil {
		return
	}
	e.bus.PublishCorrelated(topic, payload, shared.TraceID(ctx))
}
