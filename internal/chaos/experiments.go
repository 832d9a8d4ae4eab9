// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/circulation"
	"libracirc/internal/library"
	"libracirc/internal/store"
)

const (
	metricInvariantViolations = "invariant_violations"
	metricUnexpectedErrors    = "unexpected_errors"
)

// ShiftClock is the wall clock moved forward by an adjustable offset, so experiments can age reservations.
type ShiftClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *ShiftClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().UTC().Add(c.offset)
}

// Shift moves the clock forward by d.
func (c *ShiftClock) Shift(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Suite holds the circulation services the experiments drive. It uses its own clock, so it must not share a
// service with request traffic.
type Suite struct {
	store       *store.Store
	service     circulation.Service
	sweeper     *circulation.Sweeper
	clock       *ShiftClock
	ttl         time.Duration
	concurrency int
}

func NewSuite(st *store.Store, concurrency int, logger *slog.Logger) (*Suite, error) {
	if concurrency < 2 {
		return nil, fmt.Errorf("concurrency must be at least 2, got %d", concurrency)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	clock := &ShiftClock{}
	svc, err := circulation.NewService(st, circulation.WithClock(clock), circulation.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	sweeper, err := circulation.NewSweeper(svc, time.Minute, circulation.WithSweepLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Suite{
		store:       st,
		service:     svc,
		sweeper:     sweeper,
		clock:       clock,
		ttl:         library.DefaultReservationTTL,
		concurrency: concurrency,
	}, nil
}

// Register adds every circulation experiment to the engine.
func (s *Suite) Register(e *Engine) {
	e.Register(
		s.ConcurrentReserveExperiment(),
		s.CancelCollectRaceExperiment(),
		s.CollectSweepRaceExperiment(),
	)
}

// ConcurrentReserveExperiment fires concurrent reservations at a book with a single copy.
func (s *Suite) ConcurrentReserveExperiment() Experiment {
	var successes, unexpected atomic.Int64

	return Experiment{
		Name:        "concurrent-reserve-single-copy",
		Hypothesis:  "Exactly one of many simultaneous reservations of a single copy book succeeds",
		SteadyState: []Metric{s.invariantMetric()},
		Observe: []Metric{
			counterMetric("reserve_successes", &successes),
			counterMetric(metricUnexpectedErrors, &unexpected),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "copy-allocator",
				Execute: func(ctx context.Context) error {
					book, _, users, err := s.seed(ctx, 1, s.concurrency)
					if err != nil {
						return err
					}

					s.parallel(len(users), func(i int) {
						_, err := s.service.Reserve(ctx, book.ID, users[i])
						switch {
						case err == nil:
							successes.Add(1)
						case errors.Is(err, library.ErrNoAvailableCopy):
						default:
							unexpected.Add(1)
						}
					})
					return nil
				},
			},
		},
		Validation: []Assertion{
			s.invariantAssertion(),
			{Metric: "reserve_successes", Condition: equals(1), Message: "Exactly one reservation should succeed"},
			{Metric: metricUnexpectedErrors, Condition: equals(0), Message: "Losers should fail with no available copy"},
		},
	}
}

// CancelCollectRaceExperiment cancels and collects every reservation at the same time.
func (s *Suite) CancelCollectRaceExperiment() Experiment {
	var double, lost, unexpected atomic.Int64

	return Experiment{
		Name:        "cancel-collect-race",
		Hypothesis:  "A reservation canceled and collected simultaneously ends up either canceled or collected, never both",
		SteadyState: []Metric{s.invariantMetric()},
		Observe: []Metric{
			counterMetric("double_outcomes", &double),
			counterMetric("lost_outcomes", &lost),
			counterMetric(metricUnexpectedErrors, &unexpected),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "circulation-state-machine",
				Execute: func(ctx context.Context) error {
					reservations, err := s.reserveAll(ctx, s.concurrency)
					if err != nil {
						return err
					}

					s.parallel(len(reservations), func(i int) {
						r := reservations[i]
						var wg sync.WaitGroup
						var canceled, collected bool
						wg.Add(2)
						go func() {
							defer wg.Done()
							_, err := s.service.Cancel(ctx, r.ID)
							canceled = err == nil
							if err != nil && library.KindOf(err) != library.KindConflict {
								unexpected.Add(1)
							}
						}()
						go func() {
							defer wg.Done()
							_, err := s.service.Collect(ctx, r.UserID, r.CopyID)
							collected = err == nil
							if err != nil && library.KindOf(err) == library.KindInternal {
								unexpected.Add(1)
							}
						}()
						wg.Wait()

						switch {
						case canceled && collected:
							double.Add(1)
						case !canceled && !collected:
							lost.Add(1)
						}
					})
					return nil
				},
			},
		},
		Validation: []Assertion{
			s.invariantAssertion(),
			{Metric: "double_outcomes", Condition: equals(0), Message: "No reservation may be canceled and collected"},
			{Metric: "lost_outcomes", Condition: equals(0), Message: "Every reservation must be canceled or collected"},
			{Metric: metricUnexpectedErrors, Condition: equals(0), Message: "Only domain errors are expected"},
		},
	}
}

// CollectSweepRaceExperiment runs the expiry sweep while users collect both stale and fresh reservations.
func (s *Suite) CollectSweepRaceExperiment() Experiment {
	var (
		misplaced, unexpected atomic.Int64
		mu                    sync.Mutex
		loans                 []int64
	)

	return Experiment{
		Name:        "collect-sweep-race",
		Hypothesis:  "The sweeper frees only stale reservations and never a copy that was collected",
		SteadyState: []Metric{s.invariantMetric()},
		Observe: []Metric{
			counterMetric("misplaced_reservations", &misplaced),
			counterMetric(metricUnexpectedErrors, &unexpected),
		},
		Method: []Action{
			{
				Type:   "clock-shift",
				Target: "expiry-sweeper",
				Execute: func(ctx context.Context) error {
					half := s.concurrency / 2
					stale, err := s.reserveAll(ctx, half)
					if err != nil {
						return err
					}
					s.clock.Shift(s.ttl / 2)
					fresh, err := s.reserveAll(ctx, s.concurrency-half)
					if err != nil {
						return err
					}
					s.clock.Shift(s.ttl/2 + time.Minute)

					all := append(append([]library.Reservation(nil), stale...), fresh...)
					var wg sync.WaitGroup
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.sweeper.SweepOnce(ctx); err != nil {
							unexpected.Add(1)
						}
					}()
					s.parallel(len(all), func(i int) {
						h, err := s.service.Collect(ctx, all[i].UserID, all[i].CopyID)
						switch {
						case err == nil:
							mu.Lock()
							loans = append(loans, h.ID)
							mu.Unlock()
						case errors.Is(err, library.ErrReservationNotFound):
						default:
							unexpected.Add(1)
						}
					})
					wg.Wait()

					// the sweep may have started before a stale reservation was reachable, finish the job
					if _, err := s.sweeper.SweepOnce(ctx); err != nil {
						return err
					}

					for _, r := range stale {
						if !s.ended(ctx, r, library.ReservationCanceled, library.CopyAvailable) {
							misplaced.Add(1)
						}
					}
					for _, r := range fresh {
						if !s.ended(ctx, r, library.ReservationCollected, library.CopyBorrowed) {
							misplaced.Add(1)
						}
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return-loans",
				Target: "circulation-state-machine",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					var errs []error
					for _, id := range loans {
						if _, err := s.service.ReturnCopy(ctx, id); err != nil {
							errs = append(errs, err)
						}
					}
					loans = nil
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			s.invariantAssertion(),
			{Metric: "misplaced_reservations", Condition: equals(0), Message: "Stale reservations are canceled, fresh ones collected"},
			{Metric: metricUnexpectedErrors, Condition: equals(0), Message: "Only domain errors are expected"},
		},
	}
}

func (s *Suite) invariantMetric() Metric {
	return Metric{
		Name: metricInvariantViolations,
		Query: func(ctx context.Context) (float64, error) {
			n, err := s.store.InvariantViolations(ctx)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (s *Suite) invariantAssertion() Assertion {
	return Assertion{
		Metric:    metricInvariantViolations,
		Condition: equals(0),
		Message:   "Every copy status agrees with its reservations and loans",
	}
}

// ended reports whether reservation r and its copy reached the given states.
func (s *Suite) ended(ctx context.Context, r library.Reservation, want library.ReservationStatus, copyWant library.CopyStatus) bool {
	got, err := s.service.GetReservation(ctx, r.ID)
	if err != nil || got.Status != want {
		return false
	}
	var c library.Copy
	err = s.store.ReadOnly(ctx, func(tx store.Tx) error {
		c, err = tx.GetCopy(ctx, r.CopyID)
		return err
	})
	return err == nil && c.Status == copyWant
}

// reserveAll seeds a book with n copies and n users and reserves one copy per user.
func (s *Suite) reserveAll(ctx context.Context, n int) ([]library.Reservation, error) {
	book, _, users, err := s.seed(ctx, n, n)
	if err != nil {
		return nil, err
	}

	out := make([]library.Reservation, 0, n)
	for _, u := range users {
		r, err := s.service.Reserve(ctx, book.ID, u)
		if err != nil {
			return nil, fmt.Errorf("reserve for %s: %w", u, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// seed stores a book with the given number of copies and users that may reserve it.
func (s *Suite) seed(ctx context.Context, copies, users int) (library.Book, []library.Copy, []uuid.UUID, error) {
	var (
		book    library.Book
		created []library.Copy
		ids     []uuid.UUID
	)
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock.Now()
		created, ids = created[:0], ids[:0]

		var err error
		book, err = tx.InsertBook(ctx, library.BookInput{
			Title:    "chaos-" + uuid.NewString()[:8],
			Language: library.DefaultLanguage,
		})
		if err != nil {
			return err
		}
		for i := 0; i < copies; i++ {
			c, err := tx.InsertCopy(ctx, book.ID, "chaos", now)
			if err != nil {
				return err
			}
			created = append(created, c)
		}
		for i := 0; i < users; i++ {
			id := uuid.New()
			err := tx.InsertUser(ctx, library.User{
				ID:           id,
				Username:     "chaos-" + id.String()[:8],
				Email:        id.String() + "@chaos.invalid",
				PasswordHash: "!",
				Role:         library.RoleMember,
				CreatedAt:    now,
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return library.Book{}, nil, nil, fmt.Errorf("seed chaos data: %w", err)
	}
	return book, created, ids, nil
}

// parallel runs fn for 0..n-1 at once, released together by a start barrier.
func (s *Suite) parallel(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i)
		}()
	}
	close(start)
	wg.Wait()
}

func counterMetric(name string, c *atomic.Int64) Metric {
	return Metric{
		Name:  name,
		Query: func(context.Context) (float64, error) { return float64(c.Load()), nil },
	}
}

func equals(want float64) func(float64) bool {
	return func(v float64) bool { return v == want }
}
