package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GoalRepo is the persistence port for Goal aggregates.
type GoalRepo struct{ s *Store }

// Create inserts a new goal, generating an ID if g.ID is empty.
func (r *GoalRepo) Create(ctx context.Context, g Goal) (Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	constraints, err := json.Marshal(g.Constraints)
	if err != nil {
		return Goal{}, fmt.Errorf("marshal constraints: %w", err)
	}
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO goals (id, name, description, status, priority, constraints_json, parent_id, created_at, last_convergence_check_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			g.ID, g.Name, g.Description, g.Status, g.Priority, string(constraints), g.ParentID, g.CreatedAt, g.LastConvergenceCheckAt)
		return execErr
	})
	if err != nil {
		return Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

// Get loads a single goal by ID.
func (r *GoalRepo) Get(ctx context.Context, id string) (Goal, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, priority, constraints_json, parent_id, created_at, last_convergence_check_at
		FROM goals WHERE id = ?;`, id)
	return scanGoal(row)
}

// ActiveConstraints returns the constraints of goal id and all of its
// Active ancestors, transitively — only Active goals contribute
// constraints to new tasks.
func (r *GoalRepo) ActiveConstraints(ctx context.Context, id string) ([]Constraint, error) {
	var out []Constraint
	cursor := id
	seen := map[string]bool{}
	for cursor != "" && !seen[cursor] {
		seen[cursor] = true
		g, err := r.Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if g.Status == GoalStatusActive {
			out = append(out, g.Constraints...)
		}
		if g.ParentID == nil {
			break
		}
		cursor = *g.ParentID
	}
	return out, nil
}

// SetStatus transitions a goal's status. Retired is terminal: callers
// attempting to un-retire receive ErrConflict.
func (r *GoalRepo) SetStatus(ctx context.Context, id string, status GoalStatus) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		var current GoalStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM goals WHERE id = ?;`, id).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if current == GoalStatusRetired {
			return fmt.Errorf("goal %s is retired: %w", id, ErrConflict)
		}
		_, err := tx.ExecContext(ctx, `UPDATE goals SET status = ? WHERE id = ?;`, status, id)
		return err
	})
}

// TouchConvergenceCheck stamps last_convergence_check_at to now.
func (r *GoalRepo) TouchConvergenceCheck(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.s.db.ExecContext(ctx, `UPDATE goals SET last_convergence_check_at = ? WHERE id = ?;`, now, id)
	return err
}

// ListActive returns all goals with status Active, for reactor sweeps.
func (r *GoalRepo) ListActive(ctx context.Context) ([]Goal, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, name, description, status, priority, constraints_json, parent_id, created_at, last_convergence_check_at
		FROM goals WHERE status = ?;`, GoalStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGoal(row rowScanner) (Goal, error) {
	var g Goal
	var constraintsJSON string
	var parentID sql.NullString
	var lastCheck sql.NullTime
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Status, &g.Priority, &constraintsJSON, &parentID, &g.CreatedAt, &lastCheck); err != nil {
		if err == sql.ErrNoRows {
			return Goal{}, ErrNotFound
		}
		return Goal{}, err
	}
	if err := json.Unmarshal([]byte(constraintsJSON), &g.Constraints); err != nil {
		return Goal{}, fmt.Errorf("unmarshal constraints: %w", err)
	}
	if parentID.Valid {
		g.ParentID = &parentID.String
	}
	if lastCheck.Valid {
		g.LastConvergenceCheckAt = &lastCheck.Time
	}
	return g, nil
}
