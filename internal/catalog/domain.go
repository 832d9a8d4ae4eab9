// internal/catalog/domain.go
package catalog

import (
	"errors"
	"log/slog"

	"libracirc/internal/library"
)

var (
	ErrNilClock      = errors.New("clock must not be nil")
	ErrInvalidCopies = library.InvalidField("copies", "must not be negative")
	ErrEmptyLocation = library.MissingField("location")
)

// Option configures the catalog service.
type Option func(*service) error

// WithClock replaces the system clock used to stamp journal entries.
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

// BookDetails is a book together with its copies.
type BookDetails struct {
	library.Book
	Copies    []library.Copy `json:"copies"`
	Available int            `json:"available"`
}

// CopyRelocatedEvent is journaled when a copy moves to another location.
type CopyRelocatedEvent struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}
