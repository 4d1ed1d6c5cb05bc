package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DependencyRepo is the persistence port for TaskDependency edges. Cycle
// detection runs here at insert time so the graph is atomically acyclic
// at every commit point; the full wave/depth computation lives in
// internal/resolver, which reads via List.
type DependencyRepo struct{ s *Store }

// Add inserts prerequisite_id -> dependent_id. If dependent_id can
// already reach prerequisite_id (i.e. the edge would close a cycle),
// the insert is rejected atomically with ErrCycleViolation and the graph
// is left unchanged.
func (r *DependencyRepo) Add(ctx context.Context, d TaskDependency) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		reachable, err := reachableFrom(ctx, tx, d.DependentID, d.PrerequisiteID)
		if err != nil {
			return err
		}
		if reachable || d.PrerequisiteID == d.DependentID {
			return fmt.Errorf("edge %s -> %s would create a cycle: %w", d.PrerequisiteID, d.DependentID, ErrCycleViolation)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (prerequisite_id, dependent_id, kind) VALUES (?, ?, ?);`,
			d.PrerequisiteID, d.DependentID, d.Kind)
		return err
	})
}

// reachableFrom runs a DFS over existing prerequisite edges starting at
// from, reporting whether target is reachable. O(V+E) on the current
// graph.
func reachableFrom(ctx context.Context, tx *sql.Tx, from, target string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == target {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rows, err := tx.QueryContext(ctx, `SELECT dependent_id FROM task_dependencies WHERE prerequisite_id = ?;`, cur)
		if err != nil {
			return false, err
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
		stack = append(stack, next...)
	}
	return false, nil
}

// ListAll returns every dependency edge among non-Cancelled tasks, the
// input to the resolver's wave/depth computation.
func (r *DependencyRepo) ListAll(ctx context.Context) ([]TaskDependency, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT d.prerequisite_id, d.dependent_id, d.kind
		FROM task_dependencies d
		JOIN tasks dt ON dt.id = d.dependent_id
		JOIN tasks pt ON pt.id = d.prerequisite_id
		WHERE dt.status <> ? AND pt.status <> ?;`, TaskStatusCancelled, TaskStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.PrerequisiteID, &d.DependentID, &d.Kind); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PrerequisitesOf returns the direct prerequisite edges for dependentID.
func (r *DependencyRepo) PrerequisitesOf(ctx context.Context, dependentID string) ([]TaskDependency, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT prerequisite_id, dependent_id, kind FROM task_dependencies WHERE dependent_id = ?;`, dependentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.PrerequisiteID, &d.DependentID, &d.Kind); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DirectBlockingCount returns the number of tasks directly awaiting
// taskID, used by the priority engine's "blocking" term.
func (r *DependencyRepo) DirectBlockingCount(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_dependencies WHERE prerequisite_id = ?;`, taskID).Scan(&n)
	return n, err
}
