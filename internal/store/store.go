// Package store is the repository layer: a transactional, migration-
// versioned SQLite-backed persistence layer for goals, tasks,
// dependencies, agent templates, memories, worktrees, events, refinement
// requests and the audit log.
//
// Every exported repository method that issues more than one statement
// does so inside a single transaction; the only exception is
// EventRepo.Append, which by design runs after the triggering state
// change has already committed (spec: the event row is a fast-path
// wakeup, the mutated row is the source of truth).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odgrim/abathur/internal/enginerr"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionV1  = 1
	schemaChecksumV1 = "abathur-v1-core-schema"

	schemaVersionLatest  = schemaVersionV1
	schemaChecksumLatest = schemaChecksumV1

	maxBusyRetries = 5
)

// Store owns the database handle and the prepared-statement-per-method
// repositories built on top of it.
type Store struct {
	db *sql.DB

	Goals       *GoalRepo
	Tasks       *TaskRepo
	Deps        *DependencyRepo
	Templates   *TemplateRepo
	Memories    *MemoryRepo
	Worktrees   *WorktreeRepo
	Events      *EventRepo
	Refinements *RefinementRepo
	Audit       *AuditRepo
	Convergence *ConvergenceRepo
}

// Open creates (or reopens) a SQLite-backed Store at path, running
// migrations and configuring WAL pragmas before returning.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	// The cgo sqlite3 driver is not safe for concurrent writers beyond
	// what WAL mode buys; cap the pool the way a single-writer engine
	// should.
	db.SetMaxOpenConns(8)

	s := &Store{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.Goals = &GoalRepo{s: s}
	s.Tasks = &TaskRepo{s: s}
	s.Deps = &DependencyRepo{s: s}
	s.Templates = &TemplateRepo{s: s}
	s.Memories = &MemoryRepo{s: s}
	s.Worktrees = &WorktreeRepo{s: s}
	s.Events = &EventRepo{s: s}
	s.Refinements = &RefinementRepo{s: s}
	s.Audit = &AuditRepo{s: s}
	s.Convergence = &ConvergenceRepo{s: s}
	return s, nil
}

// DB returns the underlying handle for callers (tests, doctor tooling)
// that need raw access.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// retry wraps f with the engine-wide busy/backoff policy every
// multi-statement repository method uses for its transaction.
func (s *Store) retry(ctx context.Context, f func() error) error {
	return enginerr.RetryBusy(ctx, maxBusyRetries, f)
}

func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := f(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var checksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, maxVersion).Scan(&checksum); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if checksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", maxVersion, checksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	for _, stmt := range coreSchemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum, applied_at)
		VALUES (?, ?, ?);`, schemaVersionLatest, schemaChecksumLatest, time.Now().UTC()); err != nil {
		return fmt.Errorf("record schema migration: %w", err)
	}

	return tx.Commit()
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = enginerr.Input("not found")
