// Package audit records engine state-transition decisions — task
// status changes, template deploys/reverts, spawn-limit breaches,
// reactor halts — append-only, both to a JSONL file and to the
// store's audit_log table mirror. Structure (package-level JSONL
// writer + optional SQL mirror, redact-before-persist) follows the
// teacher's internal/audit/audit.go, generalized from policy
// allow/deny decisions to state-machine transitions.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odgrim/abathur/internal/shared"
	"github.com/odgrim/abathur/internal/store"
)

type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
}

var (
	mu   sync.Mutex
	file *os.File
	repo *store.AuditRepo
)

// Init opens the append-only audit.jsonl file under homeDir/logs.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetRepo wires in the store's audit_log mirror. Record is a no-op on
// the SQL side until this is called.
func SetRepo(r *store.AuditRepo) {
	mu.Lock()
	defer mu.Unlock()
	repo = r
}

// Close closes the JSONL file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Record appends one audit entry: actor is the component raising it
// (e.g. "reactor", "evolution"), action is the decision taken (e.g.
// "task_transition", "template_revert", "spawn_limit_breach"), subject
// is the affected entity's ID, reason is a human-readable explanation.
func Record(ctx context.Context, actor, action, subject, reason string) {
	reason = shared.Redact(reason)

	ev := entry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Reason:    reason,
	}

	mu.Lock()
	f := file
	r := repo
	mu.Unlock()

	if f != nil {
		if b, err := json.Marshal(ev); err == nil {
			mu.Lock()
			_, _ = f.Write(append(b, '\n'))
			mu.Unlock()
		}
	}

	if r != nil {
		_ = r.Record(ctx, actor, action, subject, reason)
	}
}
