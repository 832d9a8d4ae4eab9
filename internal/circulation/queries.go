// internal/circulation/queries.go
package circulation

import (
	"context"
	"time"

	"libracirc/internal/library"
	"libracirc/internal/store"
)

func (s *service) GetReservation(ctx context.Context, id int64) (library.Reservation, error) {
	var r library.Reservation
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		return err
	})
	return r, err
}

func (s *service) GetHistoryEntry(ctx context.Context, id int64) (library.HistoryEntry, error) {
	var h library.HistoryEntry
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		h, err = tx.GetHistory(ctx, id)
		return err
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}
	return h.WithOverdue(s.clock.Now()), nil
}

func (s *service) ListReservations(ctx context.Context, filter library.ReservationFilter) ([]library.Reservation, error) {
	var out []library.Reservation
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListReservations(ctx, filter)
		return err
	})
	return out, err
}

// ListHistory returns matching entries with the overdue flag evaluated now.
func (s *service) ListHistory(ctx context.Context, filter library.HistoryFilter) ([]library.HistoryEntry, error) {
	var out []library.HistoryEntry
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListHistory(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return withOverdue(out, s.clock.Now()), nil
}

func (s *service) ListOverdue(ctx context.Context) ([]library.HistoryEntry, error) {
	now := s.clock.Now()

	var out []library.HistoryEntry
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListOverdue(ctx, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return withOverdue(out, now), nil
}

func (s *service) ExpiredReservations(ctx context.Context, after library.ReservationCursor, limit int) ([]library.Reservation, error) {
	now := s.clock.Now()

	var out []library.Reservation
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListExpiredReservations(ctx, now, after, limit)
		return err
	})
	return out, err
}

// CopyTimeline returns the journal of a copy, oldest event first.
func (s *service) CopyTimeline(ctx context.Context, copyID int64) ([]library.CopyEvent, error) {
	var events []library.CopyEvent
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCopy(ctx, copyID); err != nil {
			return err
		}
		var err error
		events, err = tx.CopyEvents(ctx, copyID)
		return err
	})
	return events, err
}

func withOverdue(entries []library.HistoryEntry, now time.Time) []library.HistoryEntry {
	for i := range entries {
		entries[i] = entries[i].WithOverdue(now)
	}
	return entries
}
