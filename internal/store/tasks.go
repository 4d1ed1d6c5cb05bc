package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskRepo is the persistence port for Task aggregates, including the
// state-machine transition that cascades dependency unblocks.
type TaskRepo struct{ s *Store }

// Create inserts a new task in status Pending (or Blocked/Ready, for
// callers that already know its dependency state), generating an ID if
// t.ID is empty.
func (r *TaskRepo) Create(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.TaskType == "" {
		t.TaskType = TaskTypeStandard
	}
	var estMS sql.NullInt64
	if t.EstimatedDuration != nil {
		estMS = sql.NullInt64{Int64: t.EstimatedDuration.Milliseconds(), Valid: true}
	}
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, parent_id, goal_id, title, description, agent_type, priority, calculated_priority,
				status, retry_count, max_retries, deadline, estimated_duration_ms, submitted_at,
				feature_branch, task_branch, worktree_path, dependency_depth, source, task_type,
				summary, template_name, template_version
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`,
			t.ID, t.ParentID, t.GoalID, t.Title, t.Description, t.AgentType, t.Priority, t.CalculatedPriority,
			t.Status, t.RetryCount, t.MaxRetries, t.Deadline, estMS, t.SubmittedAt,
			t.FeatureBranch, t.TaskBranch, t.WorktreePath, t.DependencyDepth, t.Source, t.TaskType,
			t.Summary, t.TemplateName, t.TemplateVersion)
		return execErr
	})
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get loads a single task by ID.
func (r *TaskRepo) Get(ctx context.Context, id string) (Task, error) {
	return scanTask(r.s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, id))
}

const taskSelect = `
	SELECT id, parent_id, goal_id, title, description, agent_type, priority, calculated_priority,
		status, retry_count, max_retries, deadline, estimated_duration_ms, submitted_at, started_at,
		completed_at, feature_branch, task_branch, worktree_path, dependency_depth, source, task_type,
		summary, failure_reason, template_name, template_version, last_heartbeat_at
	FROM tasks`

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var parentID, goalID sql.NullString
	var deadline, startedAt, completedAt, heartbeat sql.NullTime
	var estMS sql.NullInt64
	if err := row.Scan(
		&t.ID, &parentID, &goalID, &t.Title, &t.Description, &t.AgentType, &t.Priority, &t.CalculatedPriority,
		&t.Status, &t.RetryCount, &t.MaxRetries, &deadline, &estMS, &t.SubmittedAt, &startedAt,
		&completedAt, &t.FeatureBranch, &t.TaskBranch, &t.WorktreePath, &t.DependencyDepth, &t.Source, &t.TaskType,
		&t.Summary, &t.FailureReason, &t.TemplateName, &t.TemplateVersion, &heartbeat,
	); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if goalID.Valid {
		t.GoalID = &goalID.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.Time
	}
	if estMS.Valid {
		d := time.Duration(estMS.Int64) * time.Millisecond
		t.EstimatedDuration = &d
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if heartbeat.Valid {
		t.LastHeartbeatAt = &heartbeat.Time
	}
	return t, nil
}

// ReadyQueue returns tasks in status Ready ordered by
// (calculated_priority DESC, submitted_at ASC), the index the priority
// engine and reactor dispatch loop consult.
func (r *TaskRepo) ReadyQueue(ctx context.Context, limit int) ([]Task, error) {
	rows, err := r.s.db.QueryContext(ctx, taskSelect+`
		WHERE status = ? ORDER BY calculated_priority DESC, submitted_at ASC LIMIT ?;`,
		TaskStatusReady, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// NonTerminal returns every task not in a terminal status, for the
// resolver's graph cache rebuild and the priority engine's periodic
// tick.
func (r *TaskRepo) NonTerminal(ctx context.Context) ([]Task, error) {
	rows, err := r.s.db.QueryContext(ctx, taskSelect+`
		WHERE status NOT IN (?, ?, ?);`,
		TaskStatusComplete, TaskStatusCancelled, TaskStatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListByGoal returns every task under goalID, or every task in the
// store when goalID is nil, newest first. Used by the api package's
// task_list projection.
func (r *TaskRepo) ListByGoal(ctx context.Context, goalID *string) ([]Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if goalID != nil {
		rows, err = r.s.db.QueryContext(ctx, taskSelect+` WHERE goal_id = ? ORDER BY submitted_at DESC;`, *goalID)
	} else {
		rows, err = r.s.db.QueryContext(ctx, taskSelect+` ORDER BY submitted_at DESC;`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SpawnDepth counts the length of taskID's parent_id chain back to its
// root ancestor, the reactor's D_max check.
func (r *TaskRepo) SpawnDepth(ctx context.Context, taskID string) (int, error) {
	var depth int
	err := r.s.db.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id, parent_id, depth) AS (
			SELECT id, parent_id, 0 FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id, t.parent_id, a.depth + 1
			FROM tasks t JOIN ancestors a ON t.id = a.parent_id
		)
		SELECT COALESCE(MAX(depth), 0) FROM ancestors;`, taskID).Scan(&depth)
	return depth, err
}

// CountDirectChildren counts taskID's immediate subtasks, the reactor's
// S_max check.
func (r *TaskRepo) CountDirectChildren(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_id = ?;`, taskID).Scan(&n)
	return n, err
}

// CountDescendants counts every task reachable through taskID's
// parent_id subtree, the reactor's T_max check.
func (r *TaskRepo) CountDescendants(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM tasks WHERE parent_id = ?
			UNION ALL
			SELECT t.id FROM tasks t JOIN descendants d ON t.parent_id = d.id
		)
		SELECT COUNT(*) FROM descendants;`, taskID).Scan(&n)
	return n, err
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetCalculatedPriority updates a task's score in place; called by the
// priority engine after recomputation. Does not touch status.
func (r *TaskRepo) SetCalculatedPriority(ctx context.Context, id string, score float64) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE tasks SET calculated_priority = ? WHERE id = ?;`, score, id)
	return err
}

// Heartbeat stamps last_heartbeat_at to now, used by the executor's
// heartbeat goroutine and by the stale-task detector.
func (r *TaskRepo) Heartbeat(ctx context.Context, id string) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE tasks SET last_heartbeat_at = ? WHERE id = ?;`, time.Now().UTC(), id)
	return err
}

// TransitionResult reports the task that moved plus any dependents that
// cascaded to Ready or Blocked in the same transaction.
type TransitionResult struct {
	Task           Task
	CascadedReady  []Task
	CascadedBlocked []Task
}

// Transition moves task id from its current status to next, validating
// the edge against allowedTaskTransitions, and — when next is Complete
// or Failed — cascades the dependency-driven state changes inside the
// same transaction:
//   - Complete: each dependent whose remaining prerequisites are now all
//     Complete moves Blocked -> Ready.
//   - Failed (terminal, retries exhausted): dependents move to Blocked
//     with a failure annotation; they are NOT auto-failed.
func (r *TaskRepo) Transition(ctx context.Context, id string, next TaskStatus, reason string) (TransitionResult, error) {
	var result TransitionResult
	var failedTerminal bool
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var current TaskStatus
		var retryCount, maxRetries int
		if err := tx.QueryRowContext(ctx, `SELECT status, retry_count, max_retries FROM tasks WHERE id = ?;`, id).
			Scan(&current, &retryCount, &maxRetries); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		if _, ok := allowedTaskTransitions[current][next]; !ok {
			return fmt.Errorf("transition %s -> %s not allowed for task %s: %w", current, next, id, ErrConflict)
		}

		now := time.Now().UTC()
		switch next {
		case TaskStatusRunning:
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = ? WHERE id = ?;`, next, now, id); err != nil {
				return err
			}
		case TaskStatusComplete:
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?;`, next, now, id); err != nil {
				return err
			}
		case TaskStatusFailed:
			failedTerminal = retryCount >= maxRetries
			if failedTerminal {
				if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ?, failure_reason = ? WHERE id = ?;`,
					next, now, reason, id); err != nil {
					return err
				}
			} else {
				if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, retry_count = retry_count + 1, failure_reason = ? WHERE id = ?;`,
					next, reason, id); err != nil {
					return err
				}
			}
		case TaskStatusPending:
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?;`, next, id); err != nil {
				return err
			}
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?;`, next, id); err != nil {
				return err
			}
		}

		t, err := scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, id))
		if err != nil {
			return err
		}
		result.Task = t

		switch next {
		case TaskStatusComplete:
			ready, err := cascadeComplete(ctx, tx, id)
			if err != nil {
				return err
			}
			result.CascadedReady = ready
		case TaskStatusFailed:
			if failedTerminal {
				blocked, err := cascadeFailure(ctx, tx, id, reason)
				if err != nil {
					return err
				}
				result.CascadedBlocked = blocked
			}
		}
		return nil
	})
	return result, err
}

// cascadeComplete moves every dependent of prereqID to Ready if all of
// its prerequisites are now Complete. PARALLEL and SEQUENTIAL both use
// AND semantics.
func cascadeComplete(ctx context.Context, tx *sql.Tx, prereqID string) ([]Task, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT d.dependent_id FROM task_dependencies d
		JOIN tasks t ON t.id = d.dependent_id
		WHERE d.prerequisite_id = ? AND t.status = ?;`, prereqID, TaskStatusBlocked)
	if err != nil {
		return nil, err
	}
	var dependents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dependents = append(dependents, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ready []Task
	for _, depID := range dependents {
		var remaining int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM task_dependencies d
			JOIN tasks t ON t.id = d.prerequisite_id
			WHERE d.dependent_id = ? AND t.status <> ?;`, depID, TaskStatusComplete).Scan(&remaining); err != nil {
			return nil, err
		}
		if remaining > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?;`, TaskStatusReady, depID); err != nil {
			return nil, err
		}
		t, err := scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, depID))
		if err != nil {
			return nil, err
		}
		ready = append(ready, t)
	}
	return ready, nil
}

// cascadeFailure marks direct dependents Blocked with a failure
// annotation. They are not auto-failed: an operator or recovery
// workflow may retry the upstream task.
func cascadeFailure(ctx context.Context, tx *sql.Tx, failedID, reason string) ([]Task, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT d.dependent_id FROM task_dependencies d
		JOIN tasks t ON t.id = d.dependent_id
		WHERE d.prerequisite_id = ? AND t.status IN (?, ?);`, failedID, TaskStatusPending, TaskStatusReady)
	if err != nil {
		return nil, err
	}
	var dependents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dependents = append(dependents, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	annotation := fmt.Sprintf("upstream task %s failed: %s", failedID, reason)
	var blocked []Task
	for _, depID := range dependents {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, failure_reason = ? WHERE id = ?;`,
			TaskStatusBlocked, annotation, depID); err != nil {
			return nil, err
		}
		t, err := scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, depID))
		if err != nil {
			return nil, err
		}
		blocked = append(blocked, t)
	}
	return blocked, nil
}

// RecordIngestion inserts the (source, external_id) dedup row and its
// task atomically; returns ErrConflict if the pair was already seen, in
// which case the caller should not create a second task.
func (r *TaskRepo) RecordIngestion(ctx context.Context, source, externalID string, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var created Task
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT task_id FROM ingestion_items WHERE source = ? AND external_id = ?;`,
			source, externalID).Scan(&existing)
		if err == nil {
			created, err = scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE id = ?;`, existing))
			if err != nil {
				return err
			}
			return fmt.Errorf("ingestion item %s/%s already has task %s: %w", source, externalID, existing, ErrConflict)
		}
		if err != sql.ErrNoRows {
			return err
		}

		if t.SubmittedAt.IsZero() {
			t.SubmittedAt = time.Now().UTC()
		}
		if t.Status == "" {
			t.Status = TaskStatusPending
		}
		if t.TaskType == "" {
			t.TaskType = TaskTypeStandard
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, goal_id, title, description, agent_type, priority, status, submitted_at, source, task_type, external_source, external_id)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`,
			t.ID, t.GoalID, t.Title, t.Description, t.AgentType, t.Priority, t.Status, t.SubmittedAt, t.Source, t.TaskType, source, externalID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ingestion_items (source, external_id, task_id) VALUES (?,?,?);`,
			source, externalID, t.ID); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil && created.ID == "" {
		return Task{}, err
	}
	if err != nil {
		return created, err
	}
	return created, nil
}
