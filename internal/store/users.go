// internal/store/users.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"libracirc/internal/library"
)

func (t *sqlTx) InsertUser(ctx context.Context, u library.User) error {
	_, err := t.exec(ctx, t.insert(tableUsers).Rows(goqu.Record{
		colID:           u.ID,
		"username":      u.Username,
		"email":         strings.ToLower(u.Email),
		"password_hash": u.PasswordHash,
		"role":          string(u.Role),
		"created_at":    u.CreatedAt.UTC(),
	}))
	if errors.Is(err, ErrUniqueViolation) {
		return library.ErrEmailAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (t *sqlTx) GetUser(ctx context.Context, id uuid.UUID) (library.User, error) {
	return t.getUser(ctx, t.from(tableUsers).Select(userColumns...).Where(goqu.C(colID).Eq(id)))
}

func (t *sqlTx) GetUserByEmail(ctx context.Context, email string) (library.User, error) {
	return t.getUser(ctx, t.from(tableUsers).
		Select(userColumns...).
		Where(goqu.C("email").Eq(strings.ToLower(email))))
}

func (t *sqlTx) getUser(ctx context.Context, ds *goqu.SelectDataset) (library.User, error) {
	var rec userRecord
	err := t.get(ctx, &rec, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return library.User{}, library.ErrUserNotFound
	}
	if err != nil {
		return library.User{}, fmt.Errorf("get user: %w", err)
	}
	return toUser(rec), nil
}
