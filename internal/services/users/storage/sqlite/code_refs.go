package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/overlay/internal/services/users/storage"
)

// PutCodeRef records a code reference. Existing refs keep their note and
// insertion time.
func (s *Store) PutCodeRef(ctx context.Context, ref storage.CodeRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	name := strings.TrimSpace(ref.Ref)
	if name == "" {
		return fmt.Errorf("code ref is required")
	}
	addedAt := ref.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO code_refs (ref, note, added_at)
		 VALUES (?, ?, ?)`,
		name,
		ref.Note,
		toMillis(addedAt),
	)
	if err != nil {
		return fmt.Errorf("put code ref: %w", err)
	}
	return nil
}

// ListCodeRefs returns all known code references in insertion order.
func (s *Store) ListCodeRefs(ctx context.Context) ([]storage.CodeRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT c.ref, c.note, c.added_at,
		        EXISTS (SELECT 1 FROM active_code a WHERE a.ref = c.ref)
		 FROM code_refs c
		 ORDER BY c.added_at ASC, c.ref ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list code refs: %w", err)
	}
	defer rows.Close()

	var refs []storage.CodeRef
	for rows.Next() {
		var (
			ref     storage.CodeRef
			addedAt int64
		)
		if err := rows.Scan(&ref.Ref, &ref.Note, &addedAt, &ref.Active); err != nil {
			return nil, fmt.Errorf("scan code ref: %w", err)
		}
		ref.AddedAt = fromMillis(addedAt)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list code refs: %w", err)
	}
	return refs, nil
}

// ActiveCodeRef returns the currently active code reference.
func (s *Store) ActiveCodeRef(ctx context.Context) (storage.CodeRef, error) {
	if err := ctx.Err(); err != nil {
		return storage.CodeRef{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CodeRef{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT c.ref, c.note, c.added_at
		 FROM active_code a
		 JOIN code_refs c ON c.ref = a.ref
		 WHERE a.id = 1`,
	)
	var (
		ref     storage.CodeRef
		addedAt int64
	)
	if err := row.Scan(&ref.Ref, &ref.Note, &addedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CodeRef{}, storage.ErrNotFound
		}
		return storage.CodeRef{}, fmt.Errorf("active code ref: %w", err)
	}
	ref.AddedAt = fromMillis(addedAt)
	ref.Active = true
	return ref, nil
}
