package store

import (
	"context"
	"time"
)

// AuditRepo is the persistence port for the audit_log table: a plain,
// queryable mirror of state-transition decisions. internal/audit wraps
// this with a JSONL file mirror.
type AuditRepo struct{ s *Store }

// Record inserts one audit entry.
func (r *AuditRepo) Record(ctx context.Context, actor, action, subject, reason string) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, actor, action, subject, reason) VALUES (?,?,?,?,?);`,
		time.Now().UTC(), actor, action, subject, reason)
	return err
}

// ForSubject returns the audit trail for one subject (typically a task
// or template id), oldest first.
func (r *AuditRepo) ForSubject(ctx context.Context, subject string) ([]AuditEntry, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, timestamp, actor, action, subject, reason FROM audit_log WHERE subject = ? ORDER BY id ASC;`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Subject, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
