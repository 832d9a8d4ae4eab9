// internal/store/storetest/storetest.go
package storetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"libracirc/internal/library"
	"libracirc/internal/store"
)

// Epoch is the fixed time used by fixtures.
var Epoch = time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

// Open returns a migrated SQLite store backed by a temporary file. It is closed when the test ends.
func Open(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "libracirc.db")
	s, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: path}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// OpenPostgres returns a migrated store on the server named by DATABASE_URL or the PG* variables.
// The test is skipped when no server answers.
func OpenPostgres(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getenv("PGHOST", "localhost"),
			getenv("PGPORT", "5432"),
			getenv("PGUSER", "user"),
			getenv("PGPASSWORD", "password"),
			getenv("PGDATABASE", "testdb"),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := store.Open(ctx, store.Config{Driver: store.DriverPostgres, DSN: dsn, MaxAttempts: 20}, opts...)
	if err != nil {
		t.Skipf("skipping postgres tests: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// AddUser stores a member with a unique email.
func AddUser(t testing.TB, s *store.Store) library.User {
	t.Helper()

	id := uuid.New()
	u := library.User{
		ID:           id,
		Username:     "user-" + id.String()[:8],
		Email:        id.String() + "@example.com",
		PasswordHash: "not-a-real-hash",
		Role:         library.RoleMember,
		CreatedAt:    Epoch,
	}
	require.NoError(t, s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertUser(context.Background(), u)
	}))
	return u
}

// AddBook stores a book with n available copies.
func AddBook(t testing.TB, s *store.Store, title string, n int) (library.Book, []library.Copy) {
	t.Helper()

	var (
		book   library.Book
		copies []library.Copy
	)
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		ctx := context.Background()
		var err error
		book, err = tx.InsertBook(ctx, library.BookInput{
			Title:    title,
			Authors:  []string{"Stanisław Lem"},
			Language: library.DefaultLanguage,
		})
		if err != nil {
			return err
		}
		copies = copies[:0]
		for i := 0; i < n; i++ {
			c, err := tx.InsertCopy(ctx, book.ID, fmt.Sprintf("shelf-%d", i+1), Epoch)
			if err != nil {
				return err
			}
			copies = append(copies, c)
		}
		return nil
	})
	require.NoError(t, err)
	return book, copies
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
