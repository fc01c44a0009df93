package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mcpdash/internal/api"
	"mcpdash/pkg/logging"
)

// DefaultBound is the per-(target, capability) record cap used when the
// configuration does not override it.
const DefaultBound = 20

// Store is the bounded, durable execution history. Records are keyed by the
// (target id, capability) pair, kept newest first, and evicted oldest-first
// the moment an append would exceed the bound. Its lifecycle is explicit:
// Open at startup, Close at shutdown.
type Store struct {
	db    *sql.DB
	bound int
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string, bound int) (*Store, error) {
	if bound < 1 {
		return nil, &api.ValidationError{Field: "bound", Reason: "must be at least 1"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, bound: bound}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Bound returns the configured per-key record cap.
func (s *Store) Bound() int {
	return s.bound
}

// Append persists a finalized invocation and immediately enforces the bound
// by evicting the oldest records for the same (target, capability) key.
// Cancelled invocations are provisional by definition and are rejected.
func (s *Store) Append(ctx context.Context, inv api.Invocation) error {
	if inv.ID == "" {
		return &api.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if inv.TargetID == "" || inv.Capability == "" {
		return &api.ValidationError{Field: "target/capability", Reason: "must not be empty"}
	}
	if inv.Outcome == api.InvocationCancelled {
		return &api.ValidationError{Field: "outcome", Reason: "cancelled invocations are not persisted"}
	}
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now().UTC()
	}

	argsJSON, err := json.Marshal(inv.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO invocations(id, target_id, capability, args_json, outcome, result, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TargetID, inv.Capability, string(argsJSON), string(inv.Outcome),
		inv.Result, inv.Error, inv.DurationMs, inv.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert invocation: %w", err)
	}

	// Evict everything older than the newest `bound` records for this key.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM invocations
WHERE target_id = ? AND capability = ?
  AND id NOT IN (
	SELECT id FROM invocations
	WHERE target_id = ? AND capability = ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
  )`,
		inv.TargetID, inv.Capability, inv.TargetID, inv.Capability, s.bound); err != nil {
		tx.Rollback()
		return fmt.Errorf("evict history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	logging.Debug("HistoryStore", "Recorded %s invocation %s for %s/%s", inv.Outcome, inv.ID, inv.TargetID, inv.Capability)
	return nil
}

// List returns the recorded invocations for a (target, capability) key,
// newest first.
func (s *Store) List(ctx context.Context, targetID, capability string) ([]api.Invocation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target_id, capability, args_json, outcome, result, error, duration_ms, created_at
FROM invocations
WHERE target_id = ? AND capability = ?
ORDER BY created_at DESC, rowid DESC`,
		targetID, capability)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var invocations []api.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// LoadForReplay returns the argument snapshot of a recorded invocation so
// the caller can repopulate an input form. Absence is not an error.
func (s *Store) LoadForReplay(ctx context.Context, id string) (api.Args, bool, error) {
	var argsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT args_json FROM invocations WHERE id = ?`, id).Scan(&argsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load invocation %s: %w", id, err)
	}

	var args api.Args
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, false, fmt.Errorf("decode args for %s: %w", id, err)
	}
	return args, true, nil
}

// Clear removes all records for a (target, capability) key. Confirmation is
// the caller's responsibility.
func (s *Store) Clear(ctx context.Context, targetID, capability string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM invocations WHERE target_id = ? AND capability = ?`,
		targetID, capability); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	logging.Debug("HistoryStore", "Cleared history for %s/%s", targetID, capability)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (api.Invocation, error) {
	var inv api.Invocation
	var argsJSON, outcome, createdAt string
	if err := row.Scan(&inv.ID, &inv.TargetID, &inv.Capability, &argsJSON, &outcome,
		&inv.Result, &inv.Error, &inv.DurationMs, &createdAt); err != nil {
		return inv, fmt.Errorf("scan invocation: %w", err)
	}

	if err := json.Unmarshal([]byte(argsJSON), &inv.Args); err != nil {
		return inv, fmt.Errorf("decode args for %s: %w", inv.ID, err)
	}
	inv.Outcome = api.InvocationOutcome(outcome)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return inv, fmt.Errorf("parse timestamp for %s: %w", inv.ID, err)
	}
	inv.Timestamp = ts
	return inv, nil
}
