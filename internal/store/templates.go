package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TemplateRepo is the persistence port for AgentTemplate aggregates. It
// enforces "at most one is_active=true per name" transactionally and
// preserves every prior version on deploy and on revert.
type TemplateRepo struct{ s *Store }

// Deploy inserts a new template version and, if t.IsActive, deactivates
// any previously active version of the same name in the same
// transaction.
func (r *TemplateRepo) Deploy(ctx context.Context, t AgentTemplate) (AgentTemplate, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	tools, err := json.Marshal(t.Tools)
	if err != nil {
		return AgentTemplate{}, err
	}
	constraints, err := json.Marshal(t.Constraints)
	if err != nil {
		return AgentTemplate{}, err
	}
	handoffs, err := json.Marshal(t.HandoffTargets)
	if err != nil {
		return AgentTemplate{}, err
	}

	err = r.s.withTx(ctx, func(tx *sql.Tx) error {
		if t.IsActive {
			if _, err := tx.ExecContext(ctx, `UPDATE agent_templates SET is_active = 0 WHERE name = ? AND is_active = 1;`, t.Name); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_templates (id, name, tier, version, is_active, system_prompt, tools_json, constraints_json, handoff_targets_json, max_turns, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?);`,
			t.ID, t.Name, t.Tier, t.Version, t.IsActive, t.SystemPrompt, string(tools), string(constraints), string(handoffs), t.MaxTurns, t.CreatedAt)
		return err
	})
	if err != nil {
		return AgentTemplate{}, fmt.Errorf("deploy template %s v%d: %w", t.Name, t.Version, err)
	}
	return t, nil
}

// Active returns the currently active version of the named template.
func (r *TemplateRepo) Active(ctx context.Context, name string) (AgentTemplate, error) {
	return scanTemplate(r.s.db.QueryRowContext(ctx, templateSelect+` WHERE name = ? AND is_active = 1;`, name))
}

// GetVersion returns a specific version of a named template, including
// inactive ones (needed for exact-content revert).
func (r *TemplateRepo) GetVersion(ctx context.Context, name string, version int) (AgentTemplate, error) {
	return scanTemplate(r.s.db.QueryRowContext(ctx, templateSelect+` WHERE name = ? AND version = ?;`, name, version))
}

// Revert activates an exact previous version's row (not a generated
// reconstruction) and deactivates the regressed version, in one
// transaction. Both rows are retained.
func (r *TemplateRepo) Revert(ctx context.Context, name string, fromVersion, toVersion int) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE agent_templates SET is_active = 0 WHERE name = ? AND version = ?;`, name, fromVersion); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE agent_templates SET is_active = 1 WHERE name = ? AND version = ?;`, name, toVersion)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("template %s v%d not found for revert: %w", name, toVersion, ErrNotFound)
		}
		return nil
	})
}

const templateSelect = `
	SELECT id, name, tier, version, is_active, system_prompt, tools_json, constraints_json, handoff_targets_json, max_turns, created_at
	FROM agent_templates`

func scanTemplate(row rowScanner) (AgentTemplate, error) {
	var t AgentTemplate
	var tools, constraints, handoffs string
	if err := row.Scan(&t.ID, &t.Name, &t.Tier, &t.Version, &t.IsActive, &t.SystemPrompt, &tools, &constraints, &handoffs, &t.MaxTurns, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return AgentTemplate{}, ErrNotFound
		}
		return AgentTemplate{}, err
	}
	if err := json.Unmarshal([]byte(tools), &t.Tools); err != nil {
		return AgentTemplate{}, err
	}
	if err := json.Unmarshal([]byte(constraints), &t.Constraints); err != nil {
		return AgentTemplate{}, err
	}
	if err := json.Unmarshal([]byte(handoffs), &t.HandoffTargets); err != nil {
		return AgentTemplate{}, err
	}
	return t, nil
}
