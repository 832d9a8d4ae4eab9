package circulation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/circulation"
	"libracirc/internal/library"
	"libracirc/internal/store"
	"libracirc/internal/store/storetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: storetest.Epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   circulation.Service
	store *store.Store
	clock *fakeClock
}

func setup(t testing.TB, s *store.Store) fixture {
	t.Helper()

	clock := newFakeClock()
	svc, err := circulation.NewService(s, circulation.WithClock(clock))
	require.NoError(t, err)
	return fixture{svc: svc, store: s, clock: clock}
}

func (f fixture) copyStatus(t testing.TB, id int64) library.CopyStatus {
	t.Helper()

	var c library.Copy
	require.NoError(t, f.store.ReadOnly(context.Background(), func(tx store.Tx) error {
		var err error
		c, err = tx.GetCopy(context.Background(), id)
		return err
	}))
	return c.Status
}

func (f fixture) assertInvariant(t testing.TB) {
	t.Helper()

	n, err := f.store.InvariantViolations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "copies with status inconsistent with their reservations and loans")
}

func Test_Circulation_Scenario(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 2)
	c1, c2 := copies[0], copies[1]
	user1, user2, user3 := storetest.AddUser(t, f.store), storetest.AddUser(t, f.store), storetest.AddUser(t, f.store)

	_, err := f.svc.BorrowDirect(ctx, c2.ID, user3.ID)
	require.NoError(t, err)

	// act + assert
	res, err := f.svc.Reserve(ctx, book.ID, user1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, res.CopyID)
	assert.Equal(t, library.ReservationActive, res.Status)
	assert.Equal(t, f.clock.Now().Add(library.DefaultReservationTTL), res.ExpiresAt)
	assert.Equal(t, library.CopyReserved, f.copyStatus(t, c1.ID))

	_, err = f.svc.Reserve(ctx, book.ID, user2.ID)
	assert.ErrorIs(t, err, library.ErrNoAvailableCopy)

	h, err := f.svc.Collect(ctx, user1.ID, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, library.CopyBorrowed, f.copyStatus(t, c1.ID))
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), h.DueAt)

	prolonged, err := f.svc.Prolong(ctx, h.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, h.DueAt.AddDate(0, 0, 7), prolonged.DueAt)

	returned, err := f.svc.ReturnCopy(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, library.HistoryReturned, returned.Status)
	assert.Equal(t, library.CopyAvailable, f.copyStatus(t, c1.ID))

	f.assertInvariant(t)
}

func Test_Reserve_Collect_Return_Round_Trip(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)

	// act
	res, err := f.svc.Reserve(ctx, book.ID, user.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	h, err := f.svc.Collect(ctx, user.ID, copies[0].ID)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.ReturnCopy(ctx, h.ID)
	require.NoError(t, err)

	// assert
	assert.Equal(t, library.CopyAvailable, f.copyStatus(t, copies[0].ID))

	reservations, err := f.svc.ListReservations(ctx, library.ReservationFilter{UserID: &user.ID})
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, res.ID, reservations[0].ID)
	assert.Equal(t, library.ReservationCollected, reservations[0].Status)

	history, err := f.svc.ListHistory(ctx, library.HistoryFilter{UserID: &user.ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, library.HistoryReturned, history[0].Status)
	require.NotNil(t, history[0].ReturnedAt)
	assert.Equal(t, f.clock.Now(), *history[0].ReturnedAt)

	f.assertInvariant(t)
}

func Test_ReturnCopy_Is_Idempotent(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	_, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)
	h, err := f.svc.BorrowDirect(ctx, copies[0].ID, user.ID)
	require.NoError(t, err)

	// act
	_, first := f.svc.ReturnCopy(ctx, h.ID)
	_, second := f.svc.ReturnCopy(ctx, h.ID)

	// assert
	require.NoError(t, first)
	assert.ErrorIs(t, second, library.ErrBookNotBorrowed)

	events, err := f.svc.CopyTimeline(ctx, copies[0].ID)
	require.NoError(t, err)
	returns := 0
	for _, e := range events {
		if e.Type == library.EventCopyReturned {
			returns++
		}
	}
	assert.Equal(t, 1, returns)
	f.assertInvariant(t)
}

func Test_Concurrent_Reserves_On_Single_Copy(t *testing.T) {
	for name, open := range map[string]func(testing.TB, ...store.Option) *store.Store{
		"sqlite":   storetest.Open,
		"postgres": storetest.OpenPostgres,
	} {
		t.Run(name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			f := setup(t, open(t))
			book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
			const n = 16
			users := make([]library.User, n)
			for i := range users {
				users[i] = storetest.AddUser(t, f.store)
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes []library.Reservation
				noCopy    int
				other     []error
			)

			// act
			for _, u := range users {
				wg.Add(1)
				go func(userID uuid.UUID) {
					defer wg.Done()
					res, err := f.svc.Reserve(ctx, book.ID, userID)

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes = append(successes, res)
					case errors.Is(err, library.ErrNoAvailableCopy):
						noCopy++
					default:
						other = append(other, err)
					}
				}(u.ID)
			}
			wg.Wait()

			// assert
			require.Empty(t, other)
			require.Len(t, successes, 1)
			assert.Equal(t, copies[0].ID, successes[0].CopyID)
			assert.Equal(t, n-1, noCopy)
			assert.Equal(t, library.CopyReserved, f.copyStatus(t, copies[0].ID))
			f.assertInvariant(t)
		})
	}
}

func Test_Reserve_Waits_For_A_Locked_Lowest_Copy(t *testing.T) {
	for name, open := range map[string]func(testing.TB, ...store.Option) *store.Store{
		"sqlite":   storetest.Open,
		"postgres": storetest.OpenPostgres,
	} {
		t.Run(name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			f := setup(t, open(t))
			book, copies := storetest.AddBook(t, f.store, "Solaris", 2)
			user := storetest.AddUser(t, f.store)

			errAbandoned := errors.New("abandoned")
			var once sync.Once
			locked, release := make(chan struct{}), make(chan struct{})
			holder := make(chan error, 1)
			go func() {
				holder <- f.store.WithinTx(ctx, func(tx store.Tx) error {
					if _, err := tx.LockCopy(ctx, copies[0].ID); err != nil {
						return err
					}
					once.Do(func() { close(locked) })
					<-release
					return errAbandoned
				})
			}()
			<-locked

			// act
			type outcome struct {
				res library.Reservation
				err error
			}
			reserved := make(chan outcome, 1)
			go func() {
				res, err := f.svc.Reserve(ctx, book.ID, user.ID)
				reserved <- outcome{res, err}
			}()
			time.Sleep(100 * time.Millisecond)
			close(release)

			// assert
			assert.ErrorIs(t, <-holder, errAbandoned)
			got := <-reserved
			require.NoError(t, got.err)
			assert.Equal(t, copies[0].ID, got.res.CopyID, "the lowest id copy is claimed once its lock is released")
			assert.Equal(t, library.CopyAvailable, f.copyStatus(t, copies[1].ID))
			f.assertInvariant(t)
		})
	}
}

func Test_Cancel(t *testing.T) {
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)

	t.Run("frees the copy", func(t *testing.T) {
		res, err := f.svc.Reserve(ctx, book.ID, user.ID)
		require.NoError(t, err)

		canceled, err := f.svc.Cancel(ctx, res.ID)

		require.NoError(t, err)
		assert.Equal(t, library.ReservationCanceled, canceled.Status)
		assert.Equal(t, library.CopyAvailable, f.copyStatus(t, copies[0].ID))

		_, err = f.svc.Cancel(ctx, res.ID)
		assert.ErrorIs(t, err, library.ErrReservationCanceled)
	})

	t.Run("refuses a collected reservation", func(t *testing.T) {
		res, err := f.svc.Reserve(ctx, book.ID, user.ID)
		require.NoError(t, err)
		h, err := f.svc.Collect(ctx, user.ID, res.CopyID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, res.ID)

		assert.ErrorIs(t, err, library.ErrReservationAlreadyConsumed)
		assert.Equal(t, library.CopyBorrowed, f.copyStatus(t, copies[0].ID))
		_, err = f.svc.ReturnCopy(ctx, h.ID)
		require.NoError(t, err)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		_, err := f.svc.Cancel(ctx, 999)
		assert.ErrorIs(t, err, library.ErrReservationNotFound)
	})

	f.assertInvariant(t)
}

func Test_Collect_Requires_Own_Unexpired_Reservation(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	owner, stranger := storetest.AddUser(t, f.store), storetest.AddUser(t, f.store)
	_, err := f.svc.Reserve(ctx, book.ID, owner.ID)
	require.NoError(t, err)

	// act + assert
	_, err = f.svc.Collect(ctx, stranger.ID, copies[0].ID)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)

	_, err = f.svc.Collect(ctx, owner.ID, copies[0].ID+100)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)

	f.clock.Advance(library.DefaultReservationTTL + time.Minute)
	_, err = f.svc.Collect(ctx, owner.ID, copies[0].ID)
	assert.ErrorIs(t, err, library.ErrReservationNotFound)

	assert.Equal(t, library.CopyReserved, f.copyStatus(t, copies[0].ID))
	f.assertInvariant(t)
}

func Test_BorrowDirect_Preconditions(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)
	_, err := f.svc.Reserve(ctx, book.ID, user.ID)
	require.NoError(t, err)

	// act + assert
	_, err = f.svc.BorrowDirect(ctx, copies[0].ID, user.ID)
	assert.ErrorIs(t, err, library.ErrCopyNotAvailable)

	_, err = f.svc.BorrowDirect(ctx, 4242, user.ID)
	assert.ErrorIs(t, err, library.ErrCopyNotFound)

	_, err = f.svc.BorrowDirect(ctx, copies[0].ID, uuid.New())
	assert.ErrorIs(t, err, library.ErrUserNotFound)

	f.assertInvariant(t)
}

func Test_Reserve_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, _ := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)

	_, err := f.svc.Reserve(ctx, book.ID+1, user.ID)
	assert.ErrorIs(t, err, library.ErrBookNotFound)

	_, err = f.svc.Reserve(ctx, book.ID, uuid.New())
	assert.ErrorIs(t, err, library.ErrUserNotFound)

	empty, _ := storetest.AddBook(t, f.store, "Eden", 0)
	_, err = f.svc.Reserve(ctx, empty.ID, user.ID)
	assert.ErrorIs(t, err, library.ErrNoAvailableCopy)

	f.assertInvariant(t)
}

func Test_Prolong_Preconditions(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	_, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)
	h, err := f.svc.BorrowDirect(ctx, copies[0].ID, user.ID)
	require.NoError(t, err)

	// act + assert
	for _, days := range []int{0, -3} {
		_, err = f.svc.Prolong(ctx, h.ID, days)
		assert.ErrorIs(t, err, library.ErrInvalidProlongPeriod)
		assert.Equal(t, library.KindValidation, library.KindOf(err))
	}

	_, err = f.svc.Prolong(ctx, 777, 7)
	assert.ErrorIs(t, err, library.ErrHistoryNotFound)

	_, err = f.svc.ReturnCopy(ctx, h.ID)
	require.NoError(t, err)
	_, err = f.svc.Prolong(ctx, h.ID, 7)
	assert.ErrorIs(t, err, library.ErrBookNotBorrowed)
}

func Test_Overdue_Is_Derived_On_Read(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	_, copies := storetest.AddBook(t, f.store, "Solaris", 2)
	user := storetest.AddUser(t, f.store)
	late, err := f.svc.BorrowDirect(ctx, copies[0].ID, user.ID)
	require.NoError(t, err)
	f.clock.Advance(10 * 24 * time.Hour)
	onTime, err := f.svc.BorrowDirect(ctx, copies[1].ID, user.ID)
	require.NoError(t, err)

	// act
	f.clock.Advance(5 * 24 * time.Hour)
	overdue, err := f.svc.ListOverdue(ctx)
	require.NoError(t, err)
	lateEntry, err := f.svc.GetHistoryEntry(ctx, late.ID)
	require.NoError(t, err)
	onTimeEntry, err := f.svc.GetHistoryEntry(ctx, onTime.ID)
	require.NoError(t, err)

	// assert
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.True(t, overdue[0].Overdue)
	assert.True(t, lateEntry.Overdue)
	assert.False(t, onTimeEntry.Overdue)
	assert.Equal(t, library.HistoryBorrowed, lateEntry.Status)
}

func Test_CopyTimeline_Journals_Every_Transition(t *testing.T) {
	// setup
	ctx := context.Background()
	f := setup(t, storetest.Open(t))
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user := storetest.AddUser(t, f.store)

	res, err := f.svc.Reserve(ctx, book.ID, user.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, res.ID)
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, book.ID, user.ID)
	require.NoError(t, err)
	h, err := f.svc.Collect(ctx, user.ID, copies[0].ID)
	require.NoError(t, err)
	_, err = f.svc.Prolong(ctx, h.ID, 3)
	require.NoError(t, err)
	_, err = f.svc.ReturnCopy(ctx, h.ID)
	require.NoError(t, err)

	// act
	events, err := f.svc.CopyTimeline(ctx, copies[0].ID)

	// assert
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		library.EventCopyAdded,
		library.EventCopyReserved,
		library.EventReservationCanceled,
		library.EventCopyReserved,
		library.EventCopyCollected,
		library.EventLoanProlonged,
		library.EventCopyReturned,
	}, types)

	_, err = f.svc.CopyTimeline(ctx, 9999)
	assert.ErrorIs(t, err, library.ErrCopyNotFound)
}

func Test_NewService_Rejects_Invalid_Options(t *testing.T) {
	s := storetest.Open(t)

	_, err := circulation.NewService(s, circulation.WithReservationTTL(0))
	assert.ErrorIs(t, err, circulation.ErrInvalidReservationTTL)

	_, err = circulation.NewService(s, circulation.WithLoanPeriod(-time.Hour))
	assert.ErrorIs(t, err, circulation.ErrInvalidLoanPeriod)

	_, err = circulation.NewService(s, circulation.WithClock(nil))
	assert.ErrorIs(t, err, circulation.ErrNilClock)
}

func Test_Policy_Options_Change_Deadlines(t *testing.T) {
	// setup
	ctx := context.Background()
	s := storetest.Open(t)
	clock := newFakeClock()
	svc, err := circulation.NewService(s,
		circulation.WithClock(clock),
		circulation.WithReservationTTL(time.Hour),
		circulation.WithLoanPeriod(48*time.Hour),
	)
	require.NoError(t, err)
	book, copies := storetest.AddBook(t, s, "Solaris", 1)
	user := storetest.AddUser(t, s)

	// act
	res, err := svc.Reserve(ctx, book.ID, user.ID)
	require.NoError(t, err)
	h, err := svc.Collect(ctx, user.ID, copies[0].ID)
	require.NoError(t, err)

	// assert
	assert.Equal(t, clock.Now().Add(time.Hour), res.ExpiresAt)
	assert.Equal(t, clock.Now().Add(48*time.Hour), h.DueAt)
}
