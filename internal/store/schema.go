// internal/store/schema.go
package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		published_year INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT 'pl',
		isbn TEXT UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS book_authors (
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		author_order INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (book_id, author_order)
	)`,
	`CREATE INDEX IF NOT EXISTS book_authors_name_idx ON book_authors (name)`,
	`CREATE TABLE IF NOT EXISTS book_subjects (
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		PRIMARY KEY (book_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('member', 'librarian')),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS copies (
		id BIGSERIAL PRIMARY KEY,
		book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('available', 'reserved', 'borrowed')),
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS copies_book_status_idx ON copies (book_id, status, id)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		copy_id BIGINT NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'canceled', 'collected'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_copy ON reservations (copy_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS reservations_status_expires_idx ON reservations (status, expires_at)`,
	`CREATE INDEX IF NOT EXISTS reservations_user_idx ON reservations (user_id)`,
	`CREATE TABLE IF NOT EXISTS history (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		copy_id BIGINT NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		borrowed_at TIMESTAMPTZ NOT NULL,
		due_at TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ,
		status TEXT NOT NULL CHECK (status IN ('borrowed', 'returned'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS history_one_open_per_copy ON history (copy_id) WHERE status = 'borrowed'`,
	`CREATE INDEX IF NOT EXISTS history_user_idx ON history (user_id)`,
	`CREATE TABLE IF NOT EXISTS copy_events (
		id BIGSERIAL PRIMARY KEY,
		copy_id BIGINT NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		UNIQUE (copy_id, version)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		published_year INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT 'pl',
		isbn TEXT UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS book_authors (
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		author_order INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (book_id, author_order)
	)`,
	`CREATE INDEX IF NOT EXISTS book_authors_name_idx ON book_authors (name)`,
	`CREATE TABLE IF NOT EXISTS book_subjects (
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		PRIMARY KEY (book_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('member', 'librarian')),
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS copies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('available', 'reserved', 'borrowed')),
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS copies_book_status_idx ON copies (book_id, status, id)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		copy_id INTEGER NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'canceled', 'collected'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_copy ON reservations (copy_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS reservations_status_expires_idx ON reservations (status, expires_at)`,
	`CREATE INDEX IF NOT EXISTS reservations_user_idx ON reservations (user_id)`,
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		copy_id INTEGER NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		borrowed_at DATETIME NOT NULL,
		due_at DATETIME NOT NULL,
		returned_at DATETIME,
		status TEXT NOT NULL CHECK (status IN ('borrowed', 'returned'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS history_one_open_per_copy ON history (copy_id) WHERE status = 'borrowed'`,
	`CREATE INDEX IF NOT EXISTS history_user_idx ON history (user_id)`,
	`CREATE TABLE IF NOT EXISTS copy_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		copy_id INTEGER NOT NULL REFERENCES copies(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		UNIQUE (copy_id, version)
	)`,
}

// Migrate creates the schema for the active dialect. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == DriverSQLite {
		stmts = sqliteSchema
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// invariantViolationsQuery counts copies whose status disagrees with their open reservations and loans.
const invariantViolationsQuery = `
SELECT COUNT(*) FROM (
	SELECT c.id, c.status,
		(SELECT COUNT(*) FROM reservations r WHERE r.copy_id = c.id AND r.status = 'active') AS open_reservations,
		(SELECT COUNT(*) FROM history h WHERE h.copy_id = c.id AND h.status = 'borrowed') AS open_loans
	FROM copies c
) s
WHERE (s.status = 'available' AND (s.open_reservations > 0 OR s.open_loans > 0))
   OR (s.status = 'reserved' AND (s.open_reservations <> 1 OR s.open_loans > 0))
   OR (s.status = 'borrowed' AND (s.open_loans <> 1 OR s.open_reservations > 0))`

// InvariantViolations returns how many copies break the rule that a copy is available exactly when no active
// reservation and no open loan reference it.
func (s *Store) InvariantViolations(ctx context.Context) (int, error) {
	var n int
	err := s.ReadOnly(ctx, func(tx Tx) error {
		var err error
		n, err = tx.InvariantViolations(ctx)
		return err
	})
	return n, err
}
