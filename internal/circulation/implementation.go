// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/library"
	"libracirc/internal/store"
)

const (
	opReserve      = "reserve"
	opBorrowDirect = "borrow_direct"
	opCollect      = "collect"
	opCancel       = "cancel"
	opReturn       = "return"
	opProlong      = "prolong"
	opExpire       = "expire"

	outcomeOK = "ok"
)

// service implements the Service interface.
type service struct {
	store          *store.Store
	clock          library.Clock
	reservationTTL time.Duration
	loanPeriod     time.Duration
	logger         *slog.Logger
	tracer         trace.Tracer
	transitions    metric.Int64Counter
}

// NewService creates a new circulation service instance.
func NewService(st *store.Store, opts ...Option) (Service, error) {
	s := &service{
		store:          st,
		clock:          library.SystemClock,
		reservationTTL: library.DefaultReservationTTL,
		loanPeriod:     library.DefaultLoanPeriod,
		logger:         slog.New(slog.DiscardHandler),
		tracer:         otel.Tracer("libracirc/circulation"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	transitions, err := otel.Meter("libracirc/circulation").Int64Counter(
		"circulation.transitions",
		metric.WithDescription("Circulation operations by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	s.transitions = transitions

	return s, nil
}

// Reserve runs the copy allocator: the lowest id available copy is claimed and held for the user.
func (s *service) Reserve(ctx context.Context, bookID int64, userID uuid.UUID) (res library.Reservation, err error) {
	ctx, span := s.start(ctx, opReserve, attribute.Int64("book.id", bookID), attribute.String("user.id", userID.String()))
	defer func() { s.finish(ctx, span, opReserve, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()

		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		c, err := tx.ClaimAvailableCopy(ctx, bookID, library.CopyReserved)
		if err != nil {
			return err
		}

		res, err = tx.InsertReservation(ctx, library.Reservation{
			UserID:    userID,
			CopyID:    c.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.reservationTTL),
			Status:    library.ReservationActive,
		})
		if err != nil {
			return err
		}

		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventCopyReserved, CopyReservedEvent{
			ReservationID: res.ID,
			UserID:        userID,
			ExpiresAt:     res.ExpiresAt,
		}, now)
	})
	if err != nil {
		return library.Reservation{}, err
	}

	span.SetAttributes(attribute.Int64("copy.id", res.CopyID), attribute.Int64("reservation.id", res.ID))
	s.logger.Info("copy reserved", "reservation_id", res.ID, "copy_id", res.CopyID, "user_id", userID)
	return res, nil
}

func (s *service) BorrowDirect(ctx context.Context, copyID int64, userID uuid.UUID) (h library.HistoryEntry, err error) {
	ctx, span := s.start(ctx, opBorrowDirect, attribute.Int64("copy.id", copyID), attribute.String("user.id", userID.String()))
	defer func() { s.finish(ctx, span, opBorrowDirect, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()

		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		c, err := tx.LockCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if c.Status != library.CopyAvailable {
			return library.ErrCopyNotAvailable
		}

		if c, err = tx.SetCopyStatus(ctx, c, library.CopyBorrowed); err != nil {
			return err
		}
		if h, err = s.openLoan(ctx, tx, userID, c.ID, now); err != nil {
			return err
		}

		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventCopyBorrowed, CopyBorrowedEvent{
			HistoryID: h.ID,
			UserID:    userID,
			DueAt:     h.DueAt,
		}, now)
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}

	span.SetAttributes(attribute.Int64("history.id", h.ID))
	s.logger.Info("copy borrowed", "history_id", h.ID, "copy_id", copyID, "user_id", userID)
	return h, nil
}

func (s *service) Collect(ctx context.Context, userID uuid.UUID, copyID int64) (h library.HistoryEntry, err error) {
	ctx, span := s.start(ctx, opCollect, attribute.Int64("copy.id", copyID), attribute.String("user.id", userID.String()))
	defer func() { s.finish(ctx, span, opCollect, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()

		r, err := tx.FindActiveReservation(ctx, userID, copyID)
		if err != nil {
			return err
		}
		// an expired hold is released by the sweeper and can no longer be collected
		if r.Expired(now) {
			return library.ErrReservationNotFound
		}

		c, err := tx.LockCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if c.Status != library.CopyReserved {
			return library.ErrCopyNotAvailable
		}

		if err := tx.UpdateReservationStatus(ctx, r.ID, library.ReservationActive, library.ReservationCollected); err != nil {
			return err
		}
		if c, err = tx.SetCopyStatus(ctx, c, library.CopyBorrowed); err != nil {
			return err
		}
		if h, err = s.openLoan(ctx, tx, userID, c.ID, now); err != nil {
			return err
		}

		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventCopyCollected, CopyBorrowedEvent{
			HistoryID:     h.ID,
			ReservationID: r.ID,
			UserID:        userID,
			DueAt:         h.DueAt,
		}, now)
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}

	span.SetAttributes(attribute.Int64("history.id", h.ID))
	s.logger.Info("reservation collected", "history_id", h.ID, "copy_id", copyID, "user_id", userID)
	return h, nil
}

func (s *service) Cancel(ctx context.Context, reservationID int64) (res library.Reservation, err error) {
	ctx, span := s.start(ctx, opCancel, attribute.Int64("reservation.id", reservationID))
	defer func() { s.finish(ctx, span, opCancel, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now().UTC()

		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		switch r.Status {
		case library.ReservationCollected:
			return library.ErrReservationAlreadyConsumed
		case library.ReservationCanceled:
			return library.ErrReservationCanceled
		}

		if err := s.release(ctx, tx, r, library.EventReservationCanceled, now); err != nil {
			return err
		}
		r.Status = library.ReservationCanceled
		res = r
		return nil
	})
	if err != nil {
		return library.Reservation{}, err
	}

	s.logger.Info("reservation canceled", "reservation_id", res.ID, "copy_id", res.CopyID)
	return res, nil
}

func (s *service) ReturnCopy(ctx context.Context, historyID int64) (h library.HistoryEntry, err error) {
	ctx, span := s.start(ctx, opReturn, attribute.Int64("history.id", historyID))
	defer func() { s.finish(ctx, span, opReturn, err) }()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		now := s.clock.Now().UTC()

		h, err = tx.GetHistory(ctx, historyID)
		if err != nil {
			return err
		}
		if h.Status != library.HistoryBorrowed {
			return library.ErrBookNotBorrowed
		}

		c, err := tx.LockCopy(ctx, h.CopyID)
		if err != nil {
			return err
		}
		overdue := h.IsOverdue(now)

		if err := tx.CloseHistory(ctx, h.ID, now); err != nil {
			return err
		}
		h.Status = library.HistoryReturned
		h.ReturnedAt = &now

		if c.Status != library.CopyBorrowed {
			s.logger.Warn("returned loan did not hold its copy", "history_id", h.ID, "copy_id", c.ID, "copy_status", c.Status)
			return nil
		}
		if c, err = tx.SetCopyStatus(ctx, c, library.CopyAvailable); err != nil {
			return err
		}

		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventCopyReturned, CopyReturnedEvent{
			HistoryID:  h.ID,
			UserID:     h.UserID,
			ReturnedAt: now,
			Overdue:    overdue,
		}, now)
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}

	s.logger.Info("copy returned", "history_id", h.ID, "copy_id", h.CopyID)
	return h.WithOverdue(s.clock.Now()), nil
}

func (s *service) Prolong(ctx context.Context, historyID int64, extraDays int) (h library.HistoryEntry, err error) {
	ctx, span := s.start(ctx, opProlong, attribute.Int64("history.id", historyID), attribute.Int("days", extraDays))
	defer func() { s.finish(ctx, span, opProlong, err) }()

	if extraDays <= 0 {
		return library.HistoryEntry{}, library.ErrInvalidProlongPeriod
	}

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		now := s.clock.Now().UTC()

		h, err = tx.GetHistory(ctx, historyID)
		if err != nil {
			return err
		}
		if h.Status != library.HistoryBorrowed {
			return library.ErrBookNotBorrowed
		}

		c, err := tx.LockCopy(ctx, h.CopyID)
		if err != nil {
			return err
		}

		h.DueAt = h.DueAt.AddDate(0, 0, extraDays)
		if err := tx.SetHistoryDueAt(ctx, h.ID, h.DueAt); err != nil {
			return err
		}
		// same status, new version: the journal records every change of the loan
		if c, err = tx.SetCopyStatus(ctx, c, c.Status); err != nil {
			return err
		}

		return tx.AppendCopyEvent(ctx, c.ID, c.Version, library.EventLoanProlonged, LoanProlongedEvent{
			HistoryID: h.ID,
			Days:      extraDays,
			DueAt:     h.DueAt,
		}, now)
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}

	s.logger.Info("loan prolonged", "history_id", h.ID, "due_at", h.DueAt)
	return h.WithOverdue(s.clock.Now()), nil
}

func (s *service) ExpireReservation(ctx context.Context, reservationID int64) (expired bool, err error) {
	ctx, span := s.start(ctx, opExpire, attribute.Int64("reservation.id", reservationID))
	defer func() {
		span.SetAttributes(attribute.Bool("expired", expired))
		s.finish(ctx, span, opExpire, err)
	}()

	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		expired = false
		now := s.clock.Now().UTC()

		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		// collected or canceled in the meantime, or prolonged by a clock change
		if !r.Expired(now) {
			return nil
		}

		if err := s.release(ctx, tx, r, library.EventReservationExpired, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

// release cancels an active reservation and frees its copy if the copy is still reserved.
func (s *service) release(ctx context.Context, tx store.Tx, r library.Reservation, eventType string, now time.Time) error {
	c, err := tx.LockCopy(ctx, r.CopyID)
	if err != nil {
		return err
	}
	if err := tx.UpdateReservationStatus(ctx, r.ID, library.ReservationActive, library.ReservationCanceled); err != nil {
		return err
	}

	if c.Status != library.CopyReserved {
		s.logger.Warn("released reservation did not hold its copy", "reservation_id", r.ID, "copy_id", c.ID, "copy_status", c.Status)
		return nil
	}
	if c, err = tx.SetCopyStatus(ctx, c, library.CopyAvailable); err != nil {
		return err
	}

	return tx.AppendCopyEvent(ctx, c.ID, c.Version, eventType, ReservationReleasedEvent{
		ReservationID: r.ID,
		UserID:        r.UserID,
	}, now)
}

func (s *service) openLoan(ctx context.Context, tx store.Tx, userID uuid.UUID, copyID int64, now time.Time) (library.HistoryEntry, error) {
	h, err := tx.InsertHistory(ctx, library.HistoryEntry{
		UserID:     userID,
		CopyID:     copyID,
		BorrowedAt: now,
		DueAt:      now.Add(s.loanPeriod),
		Status:     library.HistoryBorrowed,
	})
	if err != nil {
		return library.HistoryEntry{}, err
	}
	return h.WithOverdue(now), nil
}

func (s *service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "circulation."+op, trace.WithAttributes(attrs...))
}

// finish records the outcome of an operation on its span and the transitions counter, then ends the span.
func (s *service) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := outcomeOK
	if err != nil {
		kind := library.KindOf(err)
		outcome = string(kind)
		span.RecordError(err)
		if kind == library.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}

	span.SetAttributes(attribute.String("outcome", outcome))
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	span.End()
}
