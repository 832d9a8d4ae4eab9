// internal/circulation/sweeper.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const defaultSweepBatch = 500

var ErrInvalidSweepInterval = errors.New("sweep interval must be positive")

// SweepReport summarizes one pass of the sweeper.
type SweepReport struct {
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Overdue int `json:"overdue"`
}

// Sweeper expires stale reservations on a fixed interval. Overdue loans are derived on read, the sweeper only
// counts them.
type Sweeper struct {
	service  Service
	interval time.Duration
	batch    int
	logger   *slog.Logger

	expired metric.Int64Counter
	failed  metric.Int64Counter
	overdue metric.Int64Gauge
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepBatch limits how many reservations one query of a pass loads.
func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func NewSweeper(service Service, interval time.Duration, opts ...SweeperOption) (*Sweeper, error) {
	if interval <= 0 {
		return nil, ErrInvalidSweepInterval
	}

	s := &Sweeper{
		service:  service,
		interval: interval,
		batch:    defaultSweepBatch,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("libracirc/circulation")
	var err error
	if s.expired, err = meter.Int64Counter("circulation.sweep.expired",
		metric.WithDescription("Reservations expired by the sweeper")); err != nil {
		return nil, fmt.Errorf("create expired counter: %w", err)
	}
	if s.failed, err = meter.Int64Counter("circulation.sweep.failed",
		metric.WithDescription("Reservations the sweeper failed to expire")); err != nil {
		return nil, fmt.Errorf("create failed counter: %w", err)
	}
	if s.overdue, err = meter.Int64Gauge("circulation.overdue",
		metric.WithDescription("Open loans past their due date at the last sweep")); err != nil {
		return nil, fmt.Errorf("create overdue gauge: %w", err)
	}

	return s, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval.String())
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every reservation whose hold ended. Each reservation is expired in its own transaction;
// a failure is logged and counted and the pass goes on with the next one. Batches are paged by cursor, so
// reservations that keep failing never hide the ones behind them.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		cursor library.ReservationCursor
	)

	for {
		batch, err := s.service.ExpiredReservations(ctx, cursor, s.batch)
		if err != nil {
			return report, fmt.Errorf("list expired reservations: %w", err)
		}

		for _, r := range batch {
			cursor = library.CursorAfter(r)

			expired, err := s.service.ExpireReservation(ctx, r.ID)
			switch {
			case err != nil:
				report.Failed++
				s.failed.Add(ctx, 1)
				s.logger.Warn("failed to expire reservation", "reservation_id", r.ID, "copy_id", r.CopyID, "error", err)
			case expired:
				report.Expired++
				s.expired.Add(ctx, 1)
			default:
				report.Skipped++
			}
		}

		if len(batch) < s.batch {
			break
		}
	}

	overdue, err := s.service.ListOverdue(ctx)
	if err != nil {
		return report, fmt.Errorf("list overdue loans: %w", err)
	}
	report.Overdue = len(overdue)
	s.overdue.Record(ctx, int64(report.Overdue))

	s.logger.Info("sweep finished",
		"expired", report.Expired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"overdue", report.Overdue,
	)
	return report, nil
}
