package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is the persistence port for Memory aggregates.
type MemoryRepo struct{ s *Store }

// Upsert inserts or replaces a memory by (namespace, key, tier).
func (r *MemoryRepo) Upsert(ctx context.Context, m Memory) (Memory, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	accessors, err := json.Marshal(m.DistinctAccessors)
	if err != nil {
		return Memory{}, err
	}
	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO memories (id, namespace, key, value, tier, confidence, access_count, distinct_accessors_json, decay_rate, state, version, parent_id, provenance, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(namespace, key, tier) DO UPDATE SET
				value = excluded.value,
				confidence = excluded.confidence,
				updated_at = excluded.updated_at;`,
			m.ID, m.Namespace, m.Key, m.Value, m.Tier, m.Confidence, m.AccessCount, string(accessors), m.DecayRate, m.State, m.Version, m.ParentID, m.Provenance, m.CreatedAt, m.UpdatedAt)
		return execErr
	})
	if err != nil {
		return Memory{}, fmt.Errorf("upsert memory %s/%s: %w", m.Namespace, m.Key, err)
	}
	return m, nil
}

// RecordAccess appends accessorID to a memory's distinct_accessors set
// (if new) and increments access_count. Returns the updated memory so
// callers (internal/memory's promotion gate) can check the accessor
// count without a second round-trip.
func (r *MemoryRepo) RecordAccess(ctx context.Context, id, accessorID string) (Memory, error) {
	var out Memory
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMemory(tx.QueryRowContext(ctx, memorySelect+` WHERE id = ?;`, id))
		if err != nil {
			return err
		}
		found := false
		for _, a := range m.DistinctAccessors {
			if a == accessorID {
				found = true
				break
			}
		}
		if !found {
			m.DistinctAccessors = append(m.DistinctAccessors, accessorID)
		}
		m.AccessCount++
		accessors, err := json.Marshal(m.DistinctAccessors)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET access_count = ?, distinct_accessors_json = ?, updated_at = ? WHERE id = ?;`,
			m.AccessCount, string(accessors), time.Now().UTC(), id); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Promote moves a memory to the next tier. Callers must have already
// verified len(distinct_accessors) >= k for the target tier; this method
// does not re-check it so the gate's policy lives in one place
// (internal/memory), not duplicated here.
func (r *MemoryRepo) Promote(ctx context.Context, id string, tier MemoryTier) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE memories SET tier = ?, version = version + 1, updated_at = ? WHERE id = ?;`,
		tier, time.Now().UTC(), id)
	return err
}

// DecayConfidence multiplies confidence by factor and, if the result
// falls below floor, archives the row. Used by the decay daemon's
// periodic sweep.
func (r *MemoryRepo) DecayConfidence(ctx context.Context, id string, factor, floor float64) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		var confidence float64
		if err := tx.QueryRowContext(ctx, `SELECT confidence FROM memories WHERE id = ?;`, id).Scan(&confidence); err != nil {
			return err
		}
		newConfidence := confidence * factor
		state := MemoryStateActive
		if newConfidence < floor {
			state = MemoryStateArchived
		} else if newConfidence < floor*2 {
			state = MemoryStateCooling
		}
		_, err := tx.ExecContext(ctx, `UPDATE memories SET confidence = ?, state = ?, updated_at = ? WHERE id = ?;`,
			newConfidence, state, time.Now().UTC(), id)
		return err
	})
}

// ListActiveByNamespace returns every non-Archived memory in a
// namespace, the candidate set for executor context retrieval.
func (r *MemoryRepo) ListActiveByNamespace(ctx context.Context, namespace string) ([]Memory, error) {
	rows, err := r.s.db.QueryContext(ctx, memorySelect+` WHERE namespace = ? AND state <> ?;`, namespace, MemoryStateArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDecayable returns every memory not already archived, across all
// namespaces, the candidate set for the decay daemon's periodic sweep.
func (r *MemoryRepo) ListDecayable(ctx context.Context) ([]Memory, error) {
	rows, err := r.s.db.QueryContext(ctx, memorySelect+` WHERE state <> ?;`, MemoryStateArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const memorySelect = `
	SELECT id, namespace, key, value, tier, confidence, access_count, distinct_accessors_json, decay_rate, state, version, parent_id, provenance, created_at, updated_at
	FROM memories`

func scanMemory(row rowScanner) (Memory, error) {
	var m Memory
	var accessors string
	var parentID sql.NullString
	if err := row.Scan(&m.ID, &m.Namespace, &m.Key, &m.Value, &m.Tier, &m.Confidence, &m.AccessCount, &accessors,
		&m.DecayRate, &m.State, &m.Version, &parentID, &m.Provenance, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Memory{}, ErrNotFound
		}
		return Memory{}, err
	}
	if err := json.Unmarshal([]byte(accessors), &m.DistinctAccessors); err != nil {
		return Memory{}, err
	}
	if parentID.Valid {
		m.ParentID = &parentID.String
	}
	return m, nil
}
