// internal/circulation/domain.go
package circulation

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/library"
)

var (
	ErrInvalidReservationTTL = errors.New("reservation ttl must be positive")
	ErrInvalidLoanPeriod     = errors.New("loan period must be positive")
	ErrNilClock              = errors.New("clock must not be nil")
)

// Option configures the circulation service.
type Option func(*service) error

// WithReservationTTL sets how long a reservation holds its copy.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *service) error {
		if ttl <= 0 {
			return ErrInvalidReservationTTL
		}
		s.reservationTTL = ttl
		return nil
	}
}

// WithLoanPeriod sets the time between borrowing and the due date.
func WithLoanPeriod(period time.Duration) Option {
	return func(s *service) error {
		if period <= 0 {
			return ErrInvalidLoanPeriod
		}
		s.loanPeriod = period
		return nil
	}
}

// WithClock replaces the system clock.
func WithClock(clock library.Clock) Option {
	return func(s *service) error {
		if clock == nil {
			return ErrNilClock
		}
		s.clock = clock
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// Journal payloads, one per copy event type.

type CopyReservedEvent struct {
	ReservationID int64     `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ReservationReleasedEvent struct {
	ReservationID int64     `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
}

type CopyBorrowedEvent struct {
	HistoryID     int64     `json:"history_id"`
	ReservationID int64     `json:"reservation_id,omitempty"`
	UserID        uuid.UUID `json:"user_id"`
	DueAt         time.Time `json:"due_at"`
}

type CopyReturnedEvent struct {
	HistoryID  int64     `json:"history_id"`
	UserID     uuid.UUID `json:"user_id"`
	ReturnedAt time.Time `json:"returned_at"`
	Overdue    bool      `json:"overdue"`
}

type LoanProlongedEvent struct {
	HistoryID int64     `json:"history_id"`
	Days      int       `json:"days"`
	DueAt     time.Time `json:"due_at"`
}
