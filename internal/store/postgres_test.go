package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/library"
	"libracirc/internal/store"
	"libracirc/internal/store/storetest"
)

func Test_Postgres_Concurrent_Claims_Never_Share_A_Copy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	// setup
	ctx := context.Background()
	s := storetest.OpenPostgres(t)
	book, copies := storetest.AddBook(t, s, "Solaris", 3)
	const workers = 12

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[int64]int{}
		noCopy  int
	)

	// act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var c library.Copy
			err := s.WithinTx(ctx, func(tx store.Tx) error {
				var err error
				c, err = tx.ClaimAvailableCopy(ctx, book.ID, library.CopyBorrowed)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				claimed[c.ID]++
			case errors.Is(err, library.ErrNoAvailableCopy):
				noCopy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// assert
	assert.Len(t, claimed, len(copies))
	for id, n := range claimed {
		assert.Equal(t, 1, n, "copy %d claimed more than once", id)
	}
	assert.Equal(t, workers-len(copies), noCopy)

	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DeleteBook(ctx, book.ID)
	}))
}
