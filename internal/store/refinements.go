package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RefinementRepo is the persistence port for RefinementRequest records.
type RefinementRepo struct{ s *Store }

// Open inserts a new refinement request, but only if no Pending or
// InProgress request already exists for the same (template_name,
// from_version) pair — the evolution loop's dedup rule.
func (r *RefinementRepo) Open(ctx context.Context, req RefinementRequest) (RefinementRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = RefinementPending
	}
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM refinement_requests
			WHERE template_name = ? AND from_version = ? AND status IN (?, ?);`,
			req.TemplateName, req.FromVersion, RefinementPending, RefinementInProgress).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("open refinement already exists for %s v%d: %w", req.TemplateName, req.FromVersion, ErrConflict)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO refinement_requests (id, template_name, from_version, to_version, kind, status, reason, created_at)
			VALUES (?,?,?,?,?,?,?,?);`,
			req.ID, req.TemplateName, req.FromVersion, req.ToVersion, req.Kind, req.Status, req.Reason, req.CreatedAt)
		return err
	})
	if err != nil {
		return RefinementRequest{}, err
	}
	return req, nil
}

// SetStatus advances a refinement request's own small lifecycle.
func (r *RefinementRepo) SetStatus(ctx context.Context, id string, status RefinementStatus) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE refinement_requests SET status = ? WHERE id = ?;`, status, id)
	return err
}

// OpenFor returns the open (Pending or InProgress) request for a
// template version, if any.
func (r *RefinementRepo) OpenFor(ctx context.Context, templateName string, fromVersion int) (RefinementRequest, error) {
	return scanRefinement(r.s.db.QueryRowContext(ctx, refinementSelect+`
		WHERE template_name = ? AND from_version = ? AND status IN (?, ?);`,
		templateName, fromVersion, RefinementPending, RefinementInProgress))
}

const refinementSelect = `
	SELECT id, template_name, from_version, to_version, kind, status, reason, created_at FROM refinement_requests`

func scanRefinement(row rowScanner) (RefinementRequest, error) {
	var req RefinementRequest
	var toVersion sql.NullInt64
	if err := row.Scan(&req.ID, &req.TemplateName, &req.FromVersion, &toVersion, &req.Kind, &req.Status, &req.Reason, &req.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return RefinementRequest{}, ErrNotFound
		}
		return RefinementRequest{}, err
	}
	if toVersion.Valid {
		v := int(toVersion.Int64)
		req.ToVersion = &v
	}
	return req, nil
}
