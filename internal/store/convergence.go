package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ConvergenceRepo is the persistence port for bandit priors and
// iteration trajectories.
type ConvergenceRepo struct{ s *Store }

// PriorFor returns a goal's posterior for strategy, inserting a flat
// Beta(1, 1) prior on first use.
func (r *ConvergenceRepo) PriorFor(ctx context.Context, goalID string, strategy ConvergenceStrategy) (StrategyPrior, error) {
	var out StrategyPrior
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanPrior(tx.QueryRowContext(ctx, priorSelect+` WHERE goal_id = ? AND strategy = ?;`, goalID, strategy))
		if err == nil {
			out = p
			return nil
		}
		if err != ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		p = StrategyPrior{GoalID: goalID, Strategy: strategy, Alpha: 1.0, Beta: 1.0, UpdatedAt: now}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO convergence_strategy_priors (goal_id, strategy, alpha, beta, updated_at) VALUES (?,?,?,?,?);`,
			p.GoalID, p.Strategy, p.Alpha, p.Beta, p.UpdatedAt); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// UpdatePrior applies a Bernoulli observation (success/failure) to a
// goal/strategy's Beta posterior, called at Resolve.
func (r *ConvergenceRepo) UpdatePrior(ctx context.Context, goalID string, strategy ConvergenceStrategy, success bool) (StrategyPrior, error) {
	prior, err := r.PriorFor(ctx, goalID, strategy)
	if err != nil {
		return StrategyPrior{}, err
	}
	if success {
		prior.Alpha++
	} else {
		prior.Beta++
	}
	prior.UpdatedAt = time.Now().UTC()
	_, err = r.s.db.ExecContext(ctx, `
		UPDATE convergence_strategy_priors SET alpha = ?, beta = ?, updated_at = ? WHERE goal_id = ? AND strategy = ?;`,
		prior.Alpha, prior.Beta, prior.UpdatedAt, goalID, strategy)
	return prior, err
}

// AllPriors returns every strategy's posterior for a goal, creating any
// missing ones with a flat prior so the bandit always has a full set to
// sample from.
func (r *ConvergenceRepo) AllPriors(ctx context.Context, goalID string) ([]StrategyPrior, error) {
	strategies := []ConvergenceStrategy{StrategyThreshold, StrategyStability, StrategyTestPass, StrategyJudge}
	out := make([]StrategyPrior, 0, len(strategies))
	for _, st := range strategies {
		p, err := r.PriorFor(ctx, goalID, st)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordTrajectory inserts one iteration's outcome.
func (r *ConvergenceRepo) RecordTrajectory(ctx context.Context, t Trajectory) (Trajectory, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO convergence_trajectories (id, task_id, goal_id, iteration, strategy, attempt_branch, diff_size, tests_passed, classification, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?);`,
		t.ID, t.TaskID, t.GoalID, t.Iteration, t.Strategy, t.AttemptBranch, t.DiffSize, t.TestsPassed, t.Classification, t.CreatedAt)
	if err != nil {
		return Trajectory{}, err
	}
	return t, nil
}

// SetClassification stamps a trajectory's final attractor label.
func (r *ConvergenceRepo) SetClassification(ctx context.Context, id string, a Attractor) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE convergence_trajectories SET classification = ? WHERE id = ?;`, a, id)
	return err
}

// ListTrajectories returns every iteration recorded for a task, oldest
// first, the input the attractor classifier compares successive
// iterations from.
func (r *ConvergenceRepo) ListTrajectories(ctx context.Context, taskID string) ([]Trajectory, error) {
	rows, err := r.s.db.QueryContext(ctx, trajectorySelect+` WHERE task_id = ? ORDER BY iteration ASC;`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trajectory
	for rows.Next() {
		t, err := scanTrajectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const priorSelect = `SELECT goal_id, strategy, alpha, beta, updated_at FROM convergence_strategy_priors`

func scanPrior(row rowScanner) (StrategyPrior, error) {
	var p StrategyPrior
	if err := row.Scan(&p.GoalID, &p.Strategy, &p.Alpha, &p.Beta, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return StrategyPrior{}, ErrNotFound
		}
		return StrategyPrior{}, err
	}
	return p, nil
}

const trajectorySelect = `
	SELECT id, task_id, goal_id, iteration, strategy, attempt_branch, diff_size, tests_passed, classification, created_at
	FROM convergence_trajectories`

func scanTrajectory(row rowScanner) (Trajectory, error) {
	var t Trajectory
	if err := row.Scan(&t.ID, &t.TaskID, &t.GoalID, &t.Iteration, &t.Strategy, &t.AttemptBranch, &t.DiffSize, &t.TestsPassed, &t.Classification, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Trajectory{}, ErrNotFound
		}
		return Trajectory{}, err
	}
	return t, nil
}
