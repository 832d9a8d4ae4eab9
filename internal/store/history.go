// internal/store/history.go
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

func (t *sqlTx) InsertHistory(ctx context.Context, h library.HistoryEntry) (library.HistoryEntry, error) {
	h.BorrowedAt = h.BorrowedAt.UTC()
	h.DueAt = h.DueAt.UTC()

	id, err := t.insertID(ctx, t.insert(tableHistory).Rows(goqu.Record{
		colUserID:     h.UserID,
		colCopyID:     h.CopyID,
		"borrowed_at": h.BorrowedAt,
		"due_at":      h.DueAt,
		"returned_at": nullTime(h.ReturnedAt),
		colStatus:     string(h.Status),
	}))
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return library.HistoryEntry{}, library.ErrCopyNotAvailable
		}
		return library.HistoryEntry{}, fmt.Errorf("insert history entry: %w", err)
	}

	h.ID = id
	return h, nil
}

func (t *sqlTx) GetHistory(ctx context.Context, id int64) (library.HistoryEntry, error) {
	var rec historyRecord
	err := t.get(ctx, &rec, t.from(tableHistory).Select(historyColumns...).Where(goqu.C(colID).Eq(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return library.HistoryEntry{}, library.ErrHistoryNotFound
	}
	if err != nil {
		return library.HistoryEntry{}, fmt.Errorf("get history entry %d: %w", id, err)
	}
	return toHistoryEntry(rec), nil
}

// CloseHistory marks an open loan returned at the given time. ErrStaleRecord reports that it was already closed.
func (t *sqlTx) CloseHistory(ctx context.Context, id int64, at time.Time) error {
	return t.updateOpenHistory(ctx, id, goqu.Record{
		colStatus:     string(library.HistoryReturned),
		"returned_at": at.UTC(),
	})
}

// SetHistoryDueAt moves the due date of an open loan.
func (t *sqlTx) SetHistoryDueAt(ctx context.Context, id int64, due time.Time) error {
	return t.updateOpenHistory(ctx, id, goqu.Record{"due_at": due.UTC()})
}

func (t *sqlTx) updateOpenHistory(ctx context.Context, id int64, set goqu.Record) error {
	n, err := t.execAffected(ctx, t.update(tableHistory).
		Set(set).
		Where(
			goqu.C(colID).Eq(id),
			goqu.C(colStatus).Eq(string(library.HistoryBorrowed)),
		))
	if err != nil {
		return fmt.Errorf("update history entry %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("history entry %d not borrowed: %w", id, ErrStaleRecord)
	}
	return nil
}

func (t *sqlTx) ListHistory(ctx context.Context, filter library.HistoryFilter) ([]library.HistoryEntry, error) {
	ds := t.from(tableHistory).Select(historyColumns...).Order(goqu.C(colID).Asc())
	if filter.UserID != nil {
		ds = ds.Where(goqu.C(colUserID).Eq(*filter.UserID))
	}
	if filter.CopyID != nil {
		ds = ds.Where(goqu.C(colCopyID).Eq(*filter.CopyID))
	}
	if filter.Status != nil {
		ds = ds.Where(goqu.C(colStatus).Eq(string(*filter.Status)))
	}
	return t.selectHistory(ctx, ds)
}

// ListOverdue returns open loans that were due before now, most overdue first.
func (t *sqlTx) ListOverdue(ctx context.Context, now time.Time) ([]library.HistoryEntry, error) {
	return t.selectHistory(ctx, t.from(tableHistory).
		Select(historyColumns...).
		Where(
			goqu.C(colStatus).Eq(string(library.HistoryBorrowed)),
			goqu.C("returned_at").IsNull(),
			goqu.C("due_at").Lt(now.UTC()),
		).
		Order(goqu.C("due_at").Asc(), goqu.C(colID).Asc()))
}

func (t *sqlTx) selectHistory(ctx context.Context, ds *goqu.SelectDataset) ([]library.HistoryEntry, error) {
	var recs []historyRecord
	if err := t.selectAll(ctx, &recs, ds); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]library.HistoryEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, toHistoryEntry(r))
	}
	return out, nil
}
