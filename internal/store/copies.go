// internal/store/copies.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"libracirc/internal/library"
)

// copyAddedPayload is journaled when a copy enters the catalog.
type copyAddedPayload struct {
	BookID   int64  `json:"book_id"`
	Location string `json:"location,omitempty"`
}

// InsertCopy creates an available copy and opens its journal at version 1.
func (t *sqlTx) InsertCopy(ctx context.Context, bookID int64, location string, at time.Time) (library.Copy, error) {
	id, err := t.insertID(ctx, t.insert(tableCopies).Rows(goqu.Record{
		colBookID:  bookID,
		"location": location,
		colStatus:  string(library.CopyAvailable),
		"version":  1,
	}))
	if err != nil {
		return library.Copy{}, fmt.Errorf("insert copy of book %d: %w", bookID, err)
	}

	payload := copyAddedPayload{BookID: bookID, Location: location}
	if err := t.AppendCopyEvent(ctx, id, 1, library.EventCopyAdded, payload, at); err != nil {
		return library.Copy{}, err
	}

	return library.Copy{
		ID:       id,
		BookID:   bookID,
		Location: location,
		Status:   library.CopyAvailable,
		Version:  1,
	}, nil
}

func (t *sqlTx) GetCopy(ctx context.Context, id int64) (library.Copy, error) {
	return t.getCopy(ctx, t.from(tableCopies).Select(copyColumns...).Where(goqu.C(colID).Eq(id)))
}

// LockCopy reads a copy and holds its row lock until the transaction ends.
func (t *sqlTx) LockCopy(ctx context.Context, id int64) (library.Copy, error) {
	ds := t.from(tableCopies).Select(copyColumns...).Where(goqu.C(colID).Eq(id))
	return t.getCopy(ctx, t.forUpdate(ds))
}

// ClaimAvailableCopy moves the lowest id available copy of a book to status to. A copy locked by another
// transaction is waited for, not skipped; if that transaction changed it, the unit fails with a serialization
// error and is retried. It returns library.ErrNoAvailableCopy when nothing qualifies.
func (t *sqlTx) ClaimAvailableCopy(ctx context.Context, bookID int64, to library.CopyStatus) (library.Copy, error) {
	ds := t.from(tableCopies).
		Select(copyColumns...).
		Where(
			goqu.C(colBookID).Eq(bookID),
			goqu.C(colStatus).Eq(string(library.CopyAvailable)),
		).
		Order(goqu.C(colID).Asc()).
		Limit(1)

	c, err := t.getCopy(ctx, t.forUpdate(ds))
	if errors.Is(err, library.ErrCopyNotFound) {
		return library.Copy{}, library.ErrNoAvailableCopy
	}
	if err != nil {
		return library.Copy{}, err
	}
	return t.SetCopyStatus(ctx, c, to)
}

// SetCopyStatus writes a new status if the copy still has the version and status of c, and bumps the version.
// A copy changed in the meantime yields ErrStaleCopy.
func (t *sqlTx) SetCopyStatus(ctx context.Context, c library.Copy, to library.CopyStatus) (library.Copy, error) {
	n, err := t.execAffected(ctx, t.update(tableCopies).
		Set(goqu.Record{colStatus: string(to), "version": c.Version + 1}).
		Where(
			goqu.C(colID).Eq(c.ID),
			goqu.C(colStatus).Eq(string(c.Status)),
			goqu.C("version").Eq(c.Version),
		))
	if err != nil {
		return library.Copy{}, fmt.Errorf("update copy %d: %w", c.ID, err)
	}
	if n == 0 {
		return library.Copy{}, fmt.Errorf("copy %d at version %d: %w", c.ID, c.Version, ErrStaleCopy)
	}

	c.Status = to
	c.Version++
	return c, nil
}

func (t *sqlTx) UpdateCopyLocation(ctx context.Context, id int64, location string) (library.Copy, error) {
	n, err := t.execAffected(ctx, t.update(tableCopies).
		Set(goqu.Record{"location": location}).
		Where(goqu.C(colID).Eq(id)))
	if err != nil {
		return library.Copy{}, fmt.Errorf("update location of copy %d: %w", id, err)
	}
	if n == 0 {
		return library.Copy{}, library.ErrCopyNotFound
	}
	return t.GetCopy(ctx, id)
}

// DeleteCopy removes a copy with its journal and closed records.
func (t *sqlTx) DeleteCopy(ctx context.Context, id int64) error {
	for _, table := range []string{tableCopyEvents, tableHistory, tableReservations} {
		if _, err := t.exec(ctx, t.delete(table).Where(goqu.C(colCopyID).Eq(id))); err != nil {
			return fmt.Errorf("delete %s of copy %d: %w", table, id, err)
		}
	}

	n, err := t.execAffected(ctx, t.delete(tableCopies).Where(goqu.C(colID).Eq(id)))
	if err != nil {
		return fmt.Errorf("delete copy %d: %w", id, err)
	}
	if n == 0 {
		return library.ErrCopyNotFound
	}
	return nil
}

func (t *sqlTx) ListCopies(ctx context.Context, bookID int64, status *library.CopyStatus) ([]library.Copy, error) {
	ds := t.from(tableCopies).
		Select(copyColumns...).
		Where(goqu.C(colBookID).Eq(bookID)).
		Order(goqu.C(colID).Asc())
	if status != nil {
		ds = ds.Where(goqu.C(colStatus).Eq(string(*status)))
	}

	var recs []copyRecord
	if err := t.selectAll(ctx, &recs, ds); err != nil {
		return nil, fmt.Errorf("list copies of book %d: %w", bookID, err)
	}

	copies := make([]library.Copy, 0, len(recs))
	for _, r := range recs {
		copies = append(copies, toCopy(r))
	}
	return copies, nil
}

func (t *sqlTx) CountCopies(ctx context.Context, bookID int64, status library.CopyStatus) (int, error) {
	var n int
	err := t.get(ctx, &n, t.from(tableCopies).
		Select(goqu.COUNT("*")).
		Where(
			goqu.C(colBookID).Eq(bookID),
			goqu.C(colStatus).Eq(string(status)),
		))
	if err != nil {
		return 0, fmt.Errorf("count copies of book %d: %w", bookID, err)
	}
	return n, nil
}

func (t *sqlTx) getCopy(ctx context.Context, ds *goqu.SelectDataset) (library.Copy, error) {
	var rec copyRecord
	err := t.get(ctx, &rec, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Copy{}, library.ErrCopyNotFound
	}
	if err != nil {
		return library.Copy{}, fmt.Errorf("get copy: %w", err)
	}
	return toCopy(rec), nil
}
