package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// WorktreeRepo is the persistence port for Worktree aggregates. A task
// exclusively owns its worktree record while status is Ready, Running,
// or Blocked; the repository doesn't enforce that directly —
// internal/worktree's manager is the only writer of these rows.
type WorktreeRepo struct{ s *Store }

// Create records a newly provisioned worktree.
func (r *WorktreeRepo) Create(ctx context.Context, w Worktree) (Worktree, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO worktrees (id, task_id, path, branch, base_ref, status) VALUES (?,?,?,?,?,?);`,
		w.ID, w.TaskID, w.Path, w.Branch, w.BaseRef, w.Status)
	if err != nil {
		return Worktree{}, err
	}
	return w, nil
}

// ByTask returns the worktree record for a task, if any.
func (r *WorktreeRepo) ByTask(ctx context.Context, taskID string) (Worktree, error) {
	return scanWorktree(r.s.db.QueryRowContext(ctx, worktreeSelect+` WHERE task_id = ? ORDER BY rowid DESC LIMIT 1;`, taskID))
}

// SetStatus updates a worktree's lifecycle status.
func (r *WorktreeRepo) SetStatus(ctx context.Context, id string, status WorktreeStatus) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE worktrees SET status = ? WHERE id = ?;`, status, id)
	return err
}

// ListOrphaned returns worktrees left Active or Failed whose owning task
// is terminal — candidates for the operator prune path.
func (r *WorktreeRepo) ListOrphaned(ctx context.Context) ([]Worktree, error) {
	rows, err := r.s.db.QueryContext(ctx, worktreeSelect+`
		JOIN tasks t ON t.id = worktrees.task_id
		WHERE worktrees.status IN (?, ?) AND t.status IN (?, ?, ?);`,
		WorktreeStatusActive, WorktreeStatusFailed, TaskStatusComplete, TaskStatusFailed, TaskStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const worktreeSelect = `SELECT worktrees.id, worktrees.task_id, worktrees.path, worktrees.branch, worktrees.base_ref, worktrees.status FROM worktrees`

func scanWorktree(row rowScanner) (Worktree, error) {
	var w Worktree
	if err := row.Scan(&w.ID, &w.TaskID, &w.Path, &w.Branch, &w.BaseRef, &w.Status); err != nil {
		if err == sql.ErrNoRows {
			return Worktree{}, ErrNotFound
		}
		return Worktree{}, err
	}
	return w, nil
}
