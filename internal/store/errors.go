// internal/store/errors.go
package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrSerializationFailure marks errors caused by concurrent transactions; the unit of work is retried.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrUniqueViolation marks a violated unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrStaleCopy is returned when a copy changed between read and version guarded write.
	ErrStaleCopy = errors.New("copy was modified concurrently")

	// ErrStaleRecord is returned when a reservation or history entry left the expected status before the write.
	ErrStaleRecord = errors.New("record was modified concurrently")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify tags driver errors with the store's sentinels. sql.ErrNoRows passes through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(string(pqErr.Code), err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return errors.Join(ErrUniqueViolation, err)
		case liteErr.Code == sqlite3.ErrBusy, liteErr.Code == sqlite3.ErrLocked:
			return errors.Join(ErrSerializationFailure, err)
		}
	}

	return err
}

func classifyCode(code string, err error) error {
	switch code {
	case pgUniqueViolation:
		return errors.Join(ErrUniqueViolation, err)
	case pgSerializationFailure, pgDeadlockDetected:
		return errors.Join(ErrSerializationFailure, err)
	}
	return err
}
