// internal/store/reservations.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"libracirc/internal/library"
)

func (t *sqlTx) InsertReservation(ctx context.Context, r library.Reservation) (library.Reservation, error) {
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()

	id, err := t.insertID(ctx, t.insert(tableReservations).Rows(goqu.Record{
		colUserID:    r.UserID,
		colCopyID:    r.CopyID,
		"created_at": r.CreatedAt,
		"expires_at": r.ExpiresAt,
		colStatus:    string(r.Status),
	}))
	if err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return library.Reservation{}, library.ErrCopyNotAvailable
		}
		return library.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	r.ID = id
	return r, nil
}

func (t *sqlTx) GetReservation(ctx context.Context, id int64) (library.Reservation, error) {
	return t.getReservation(ctx, t.from(tableReservations).
		Select(reservationColumns...).
		Where(goqu.C(colID).Eq(id)))
}

// FindActiveReservation returns the active reservation of userID on copyID.
func (t *sqlTx) FindActiveReservation(ctx context.Context, userID uuid.UUID, copyID int64) (library.Reservation, error) {
	return t.getReservation(ctx, t.from(tableReservations).
		Select(reservationColumns...).
		Where(
			goqu.C(colUserID).Eq(userID),
			goqu.C(colCopyID).Eq(copyID),
			goqu.C(colStatus).Eq(string(library.ReservationActive)),
		))
}

// UpdateReservationStatus moves a reservation from one status to another. ErrStaleRecord reports that the
// reservation is no longer in status from.
func (t *sqlTx) UpdateReservationStatus(ctx context.Context, id int64, from, to library.ReservationStatus) error {
	n, err := t.execAffected(ctx, t.update(tableReservations).
		Set(goqu.Record{colStatus: string(to)}).
		Where(
			goqu.C(colID).Eq(id),
			goqu.C(colStatus).Eq(string(from)),
		))
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reservation %d not %s: %w", id, from, ErrStaleRecord)
	}
	return nil
}

func (t *sqlTx) ListReservations(ctx context.Context, filter library.ReservationFilter) ([]library.Reservation, error) {
	ds := t.from(tableReservations).Select(reservationColumns...).Order(goqu.C(colID).Asc())
	if filter.UserID != nil {
		ds = ds.Where(goqu.C(colUserID).Eq(*filter.UserID))
	}
	if filter.CopyID != nil {
		ds = ds.Where(goqu.C(colCopyID).Eq(*filter.CopyID))
	}
	if filter.Status != nil {
		ds = ds.Where(goqu.C(colStatus).Eq(string(*filter.Status)))
	}
	return t.selectReservations(ctx, ds)
}

// ListExpiredReservations returns active reservations whose hold ended before now, oldest first, starting after
// the cursor.
func (t *sqlTx) ListExpiredReservations(ctx context.Context, now time.Time, after library.ReservationCursor, limit int) ([]library.Reservation, error) {
	ds := t.from(tableReservations).
		Select(reservationColumns...).
		Where(
			goqu.C(colStatus).Eq(string(library.ReservationActive)),
			goqu.C("expires_at").Lt(now.UTC()),
		).
		Order(goqu.C("expires_at").Asc(), goqu.C(colID).Asc())
	if after != (library.ReservationCursor{}) {
		at := after.ExpiresAt.UTC()
		ds = ds.Where(goqu.Or(
			goqu.C("expires_at").Gt(at),
			goqu.And(goqu.C("expires_at").Eq(at), goqu.C(colID).Gt(after.ID)),
		))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return t.selectReservations(ctx, ds)
}

func (t *sqlTx) getReservation(ctx context.Context, ds *goqu.SelectDataset) (library.Reservation, error) {
	var rec reservationRecord
	err := t.get(ctx, &rec, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Reservation{}, library.ErrReservationNotFound
	}
	if err != nil {
		return library.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return toReservation(rec), nil
}

func (t *sqlTx) selectReservations(ctx context.Context, ds *goqu.SelectDataset) ([]library.Reservation, error) {
	var recs []reservationRecord
	if err := t.selectAll(ctx, &recs, ds); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	out := make([]library.Reservation, 0, len(recs))
	for _, r := range recs {
		out = append(out, toReservation(r))
	}
	return out, nil
}
