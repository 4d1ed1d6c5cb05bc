package store

import (
	"context"
	"database/sql"
	"time"
)

// EventRepo is the persistence port for the append-only event log.
// Append is the one mutation that does not run inside the transaction
// that changed the triggering row: callers commit their
// state change first, then Append, so consumers never observe an event
// without the state it describes, though they may observe the state
// slightly before the event.
type EventRepo struct{ s *Store }

// Append inserts an event row and returns it with its assigned ID and
// timestamp.
func (r *EventRepo) Append(ctx context.Context, e Event) (Event, error) {
	now := time.Now().UTC()
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO events (category, payload_type, payload, correlation_id, created_at) VALUES (?,?,?,?,?);`,
		e.Category, e.PayloadType, e.Payload, e.CorrelationID, now)
	if err != nil {
		return Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, err
	}
	e.ID = id
	e.CreatedAt = now
	return e, nil
}

// ByCorrelation returns every event sharing a correlation id, in commit
// order — the per-correlation ordering guarantee callers rely on.
func (r *EventRepo) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, category, payload_type, payload, correlation_id, created_at
		FROM events WHERE correlation_id = ? ORDER BY id ASC;`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Since returns events with id > afterID, for catch-up reads after a
// bus reconnect.
func (r *EventRepo) Since(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, category, payload_type, payload, correlation_id, created_at
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?;`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Category, &e.PayloadType, &e.Payload, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IdempotentOutcome records a (template, version, correlation, payload
// type) outcome exactly once; the evolution loop's sliding window reads
// via CountOutcomes. Recording the same tuple twice is a no-op.
func (r *Store) IdempotentOutcome(ctx context.Context, templateName string, version int, correlationID, payloadType string, succeeded bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outcome_windows (template_name, template_version, correlation_id, payload_type, succeeded, recorded_at)
		VALUES (?,?,?,?,?,?);`, templateName, version, correlationID, payloadType, succeeded, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountOutcomes returns (successes, total) recorded for a template
// version, most recent N rows only — the evolution loop's sliding
// window.
func (r *Store) CountOutcomes(ctx context.Context, templateName string, version, windowSize int) (successes, total int, err error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT succeeded FROM outcome_windows
		WHERE template_name = ? AND template_version = ?
		ORDER BY recorded_at DESC LIMIT ?;`, templateName, version, windowSize)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var s bool
		if err := rows.Scan(&s); err != nil {
			return 0, 0, err
		}
		total++
		if s {
			successes++
		}
	}
	return successes, total, rows.Err()
}
