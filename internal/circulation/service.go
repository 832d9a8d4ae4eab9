// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/library"
)

// Service defines the interface for the circulation service.
type Service interface {
	// Reserve claims the lowest id available copy of a book for the user.
	Reserve(ctx context.Context, bookID int64, userID uuid.UUID) (library.Reservation, error)
	// BorrowDirect hands an available copy to a user without a reservation.
	BorrowDirect(ctx context.Context, copyID int64, userID uuid.UUID) (library.HistoryEntry, error)
	// Collect turns the user's active reservation of a copy into a loan.
	Collect(ctx context.Context, userID uuid.UUID, copyID int64) (library.HistoryEntry, error)
	Cancel(ctx context.Context, reservationID int64) (library.Reservation, error)
	ReturnCopy(ctx context.Context, historyID int64) (library.HistoryEntry, error)
	Prolong(ctx context.Context, historyID int64, extraDays int) (library.HistoryEntry, error)

	// ExpireReservation cancels a reservation whose hold ended and frees its copy. It reports false without
	// changing anything when the reservation is no longer active or not yet expired.
	ExpireReservation(ctx context.Context, reservationID int64) (bool, error)
	// ExpiredReservations pages through reservations whose hold ended, in (expires_at, id) order after the cursor.
	ExpiredReservations(ctx context.Context, after library.ReservationCursor, limit int) ([]library.Reservation, error)

	GetReservation(ctx context.Context, id int64) (library.Reservation, error)
	GetHistoryEntry(ctx context.Context, id int64) (library.HistoryEntry, error)
	ListReservations(ctx context.Context, filter library.ReservationFilter) ([]library.Reservation, error)
	ListHistory(ctx context.Context, filter library.HistoryFilter) ([]library.HistoryEntry, error)
	ListOverdue(ctx context.Context) ([]library.HistoryEntry, error)
	CopyTimeline(ctx context.Context, copyID int64) ([]library.CopyEvent, error)
}
