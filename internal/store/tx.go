// internal/store/tx.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/library"
)

// Tx is the typed view of one unit of work. Lookups of missing rows return the matching library not found error.
type Tx interface {
	InsertBook(ctx context.Context, in library.BookInput) (library.Book, error)
	GetBook(ctx context.Context, id int64) (library.Book, error)
	UpdateBook(ctx context.Context, id int64, in library.BookInput) (library.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	ListBooks(ctx context.Context, filter library.BookFilter) ([]library.Book, error)

	InsertCopy(ctx context.Context, bookID int64, location string, at time.Time) (library.Copy, error)
	GetCopy(ctx context.Context, id int64) (library.Copy, error)
	LockCopy(ctx context.Context, id int64) (library.Copy, error)
	ClaimAvailableCopy(ctx context.Context, bookID int64, to library.CopyStatus) (library.Copy, error)
	SetCopyStatus(ctx context.Context, c library.Copy, to library.CopyStatus) (library.Copy, error)
	UpdateCopyLocation(ctx context.Context, id int64, location string) (library.Copy, error)
	DeleteCopy(ctx context.Context, id int64) error
	ListCopies(ctx context.Context, bookID int64, status *library.CopyStatus) ([]library.Copy, error)
	CountCopies(ctx context.Context, bookID int64, status library.CopyStatus) (int, error)

	InsertReservation(ctx context.Context, r library.Reservation) (library.Reservation, error)
	GetReservation(ctx context.Context, id int64) (library.Reservation, error)
	FindActiveReservation(ctx context.Context, userID uuid.UUID, copyID int64) (library.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, from, to library.ReservationStatus) error
	ListReservations(ctx context.Context, filter library.ReservationFilter) ([]library.Reservation, error)
	ListExpiredReservations(ctx context.Context, now time.Time, after library.ReservationCursor, limit int) ([]library.Reservation, error)

	InsertHistory(ctx context.Context, h library.HistoryEntry) (library.HistoryEntry, error)
	GetHistory(ctx context.Context, id int64) (library.HistoryEntry, error)
	CloseHistory(ctx context.Context, id int64, at time.Time) error
	SetHistoryDueAt(ctx context.Context, id int64, due time.Time) error
	ListHistory(ctx context.Context, filter library.HistoryFilter) ([]library.HistoryEntry, error)
	ListOverdue(ctx context.Context, now time.Time) ([]library.HistoryEntry, error)

	InsertUser(ctx context.Context, u library.User) error
	GetUser(ctx context.Context, id uuid.UUID) (library.User, error)
	GetUserByEmail(ctx context.Context, email string) (library.User, error)

	AppendCopyEvent(ctx context.Context, copyID int64, version int, eventType string, payload any, at time.Time) error
	CopyEvents(ctx context.Context, copyID int64) ([]library.CopyEvent, error)

	InvariantViolations(ctx context.Context) (int, error)
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

type sqlTx struct {
	tx *sqlx.Tx
	s  *Store
}

func (t *sqlTx) from(table string) *goqu.SelectDataset {
	return t.s.dialect.From(table).Prepared(true)
}

func (t *sqlTx) insert(table string) *goqu.InsertDataset {
	return t.s.dialect.Insert(table).Prepared(true)
}

func (t *sqlTx) update(table string) *goqu.UpdateDataset {
	return t.s.dialect.Update(table).Prepared(true)
}

func (t *sqlTx) delete(table string) *goqu.DeleteDataset {
	return t.s.dialect.Delete(table).Prepared(true)
}

// forUpdate adds a row lock where the dialect has one. SQLite serializes whole transactions instead.
func (t *sqlTx) forUpdate(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if !t.s.supportsRowLocks() {
		return ds
	}
	return ds.ForUpdate(exp.Wait)
}

func (t *sqlTx) get(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	start := time.Now()
	err = t.tx.GetContext(ctx, dest, query, args...)
	t.s.logQuery(query, time.Since(start), err)
	return classify(err)
}

func (t *sqlTx) selectAll(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	start := time.Now()
	err = t.tx.SelectContext(ctx, dest, query, args...)
	t.s.logQuery(query, time.Since(start), err)
	return classify(err)
}

func (t *sqlTx) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	t.s.logQuery(query, time.Since(start), err)
	return res, classify(err)
}

// execAffected runs a statement and reports the number of changed rows.
func (t *sqlTx) execAffected(ctx context.Context, b sqlBuilder) (int64, error) {
	res, err := t.exec(ctx, b)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// insertID inserts one row and returns its generated id.
func (t *sqlTx) insertID(ctx context.Context, ds *goqu.InsertDataset) (int64, error) {
	if t.s.driver == DriverSQLite {
		res, err := t.exec(ctx, ds)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	var id int64
	if err := t.get(ctx, &id, ds.Returning(colID)); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *sqlTx) InvariantViolations(ctx context.Context) (int, error) {
	var n int
	start := time.Now()
	err := t.tx.GetContext(ctx, &n, invariantViolationsQuery)
	t.s.logQuery(invariantViolationsQuery, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("count invariant violations: %w", classify(err))
	}
	return n, nil
}
