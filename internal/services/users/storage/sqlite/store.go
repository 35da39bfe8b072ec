// Package sqlite provides a SQLite-backed registry storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/overlay/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/overlay/internal/services/users/storage"
	"github.com/louisbranch/overlay/internal/services/users/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists registry state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite registry store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadSnapshot returns the current registry snapshot.
func (s *Store) LoadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT revision, state, updated_at
		 FROM registry_snapshot
		 WHERE id = 1`,
	)
	var snap storage.Snapshot
	var updatedAt int64
	if err := row.Scan(&snap.Revision, &snap.State, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.UpdatedAt = fromMillis(updatedAt)
	return snap, nil
}

// SaveSnapshot applies one state transition in a single transaction: the
// snapshot row moves to the next revision, the journal gains one event, and
// an optional code activation lands alongside.
func (s *Store) SaveSnapshot(ctx context.Context, req storage.SaveRequest) (storage.Snapshot, storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, storage.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("storage is not configured")
	}
	if len(req.State) == 0 {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("snapshot state is required")
	}
	if strings.TrimSpace(req.Event.Entrypoint) == "" {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("event entrypoint is required")
	}
	if req.ExpectedRevision < 0 {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("expected revision must not be negative")
	}

	evt := req.Event
	if evt.Ts.IsZero() {
		evt.Ts = time.Now().UTC()
	}
	evt.Ts = evt.Ts.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newRevision := req.ExpectedRevision + 1
	var res sql.Result
	if req.ExpectedRevision == 0 {
		res, err = tx.ExecContext(
			ctx,
			`INSERT INTO registry_snapshot (id, revision, state, updated_at)
			 VALUES (1, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			newRevision,
			req.State,
			toMillis(evt.Ts),
		)
	} else {
		res, err = tx.ExecContext(
			ctx,
			`UPDATE registry_snapshot
			 SET revision = ?, state = ?, updated_at = ?
			 WHERE id = 1 AND revision = ?`,
			newRevision,
			req.State,
			toMillis(evt.Ts),
			req.ExpectedRevision,
		)
	}
	if err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("save snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("save snapshot: %w", err)
	}
	if affected == 0 {
		return storage.Snapshot{}, storage.Event{}, storage.ErrRevisionConflict
	}

	inserted, err := tx.ExecContext(
		ctx,
		`INSERT INTO registry_events (ts, entrypoint, origin, sender_kind, sender_id, params)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		evt.Ts.Format(time.RFC3339Nano),
		evt.Entrypoint,
		evt.Origin,
		evt.SenderKind,
		evt.SenderID,
		string(evt.Params),
	)
	if err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("append event: %w", err)
	}
	seq, err := inserted.LastInsertId()
	if err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("append event: %w", err)
	}
	evt.Seq = seq

	if ref := strings.TrimSpace(req.ActivateRef); ref != "" {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO active_code (id, ref)
			 VALUES (1, ?)
			 ON CONFLICT (id) DO UPDATE SET ref = excluded.ref`,
			ref,
		); err != nil {
			return storage.Snapshot{}, storage.Event{}, fmt.Errorf("activate code ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Snapshot{}, storage.Event{}, fmt.Errorf("commit save: %w", err)
	}

	snap := storage.Snapshot{
		Revision:  newRevision,
		State:     req.State,
		UpdatedAt: evt.Ts,
	}
	return snap, evt, nil
}

var _ storage.Store = (*Store)(nil)
