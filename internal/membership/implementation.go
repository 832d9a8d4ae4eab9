// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libracirc/internal/library"
	"libracirc/internal/store"
)

// service implements the Service interface.
type service struct {
	store   *store.Store
	clock   library.Clock
	limiter *rate.Limiter
	params  PasswordParams
	logger  *slog.Logger
	tracer  trace.Tracer

	// dummyHash is verified against when the email is unknown, so both failures cost one hash.
	dummyHash string
}

// NewService creates a new membership service instance. Registration and authentication share one limiter of
// 5 requests per minute unless WithRateLimit says otherwise.
func NewService(st *store.Store, opts ...Option) (Service, error) {
	s := &service{
		store:   st,
		clock:   library.SystemClock,
		limiter: rate.NewLimiter(rate.Every(1*time.Minute/5), 5),
		params:  DefaultPasswordParams,
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("libracirc/membership"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	dummy, err := hashPassword(uuid.NewString(), s.params)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	return s, nil
}

// RegisterUser creates a user with a hashed password. The role defaults to member.
func (s *service) RegisterUser(ctx context.Context, reg Registration) (u library.User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_user")
	defer func() { end(span, err) }()

	if !s.limiter.Allow() {
		return library.User{}, library.ErrRateLimited
	}

	reg, err = normalize(reg)
	if err != nil {
		return library.User{}, err
	}

	hash, err := hashPassword(reg.Password, s.params)
	if err != nil {
		return library.User{}, fmt.Errorf("hash password: %w", err)
	}

	u = library.User{
		ID:           uuid.New(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		Role:         reg.Role,
		CreatedAt:    s.clock.Now().UTC(),
	}
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		return library.User{}, err
	}

	span.SetAttributes(attribute.String("user.id", u.ID.String()))
	s.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (u library.User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer func() { end(span, err) }()

	if !s.limiter.Allow() {
		return library.User{}, library.ErrRateLimited
	}

	err = s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUserByEmail(ctx, strings.TrimSpace(email))
		return err
	})
	if errors.Is(err, library.ErrUserNotFound) {
		_, _ = verifyPassword(password, s.dummyHash)
		return library.User{}, library.ErrInvalidCredentials
	}
	if err != nil {
		return library.User{}, err
	}

	ok, err := verifyPassword(password, u.PasswordHash)
	if err != nil {
		return library.User{}, fmt.Errorf("verify password of user %s: %w", u.ID, err)
	}
	if !ok {
		s.logger.Warn("authentication failed", "user_id", u.ID)
		return library.User{}, library.ErrInvalidCredentials
	}

	return u, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (library.User, error) {
	var u library.User
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	})
	return u, err
}

func normalize(reg Registration) (Registration, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	reg.Role = library.Role(strings.ToLower(strings.TrimSpace(string(reg.Role))))

	if reg.Username == "" {
		return reg, library.MissingField("username")
	}
	if reg.Email == "" {
		return reg, library.MissingField("email")
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return reg, library.InvalidField("email", "is not a valid address")
	}
	if len(reg.Password) < MinPasswordLength {
		return reg, library.InvalidField("password", fmt.Sprintf("must have at least %d characters", MinPasswordLength))
	}
	if reg.Role == "" {
		reg.Role = library.RoleMember
	}
	if !reg.Role.Valid() {
		return reg, library.InvalidField("role", fmt.Sprintf("%q is not a known role", reg.Role))
	}
	return reg, nil
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if library.KindOf(err) == library.KindInternal &&
			!errors.Is(err, library.ErrInvalidCredentials) && !errors.Is(err, library.ErrRateLimited) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
