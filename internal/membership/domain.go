// internal/membership/domain.go
package membership

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"libracirc/internal/library"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

var (
	ErrNilClock         = errors.New("clock must not be nil")
	ErrInvalidRateLimit = errors.New("rate limit must be positive")
)

// Option configures the membership service.
type Option func(*service) error

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

// WithRateLimit allows perMinute registrations and authentications per minute, with bursts of the same size.
func WithRateLimit(perMinute int) Option {
	return func(s *service) error {
		if perMinute <= 0 {
			return ErrInvalidRateLimit
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		return nil
	}
}

// WithPasswordParams replaces the argon2id cost parameters used for new hashes.
func WithPasswordParams(p PasswordParams) Option {
	return func(s *service) error {
		if err := p.validate(); err != nil {
			return err
		}
		s.params = p
		return nil
	}
}

// Registration is the input of RegisterUser.
type Registration struct {
	Username string       `json:"username"`
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Role     library.Role `json:"role"`
}
