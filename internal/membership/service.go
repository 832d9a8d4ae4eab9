// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/library"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterUser(ctx context.Context, reg Registration) (library.User, error)
	Authenticate(ctx context.Context, email, password string) (library.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (library.User, error)
}
