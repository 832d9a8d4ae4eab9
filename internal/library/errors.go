// internal/library/errors.go
package library

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error wraps exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

var (
	ErrBookNotFound        = fmt.Errorf("book %w", ErrNotFound)
	ErrCopyNotFound        = fmt.Errorf("copy %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrHistoryNotFound     = fmt.Errorf("history entry %w", ErrNotFound)

	ErrNoAvailableCopy            = fmt.Errorf("no available copy: %w", ErrConflict)
	ErrCopyNotAvailable           = fmt.Errorf("copy not available: %w", ErrConflict)
	ErrReservationAlreadyConsumed = fmt.Errorf("reservation already collected: %w", ErrConflict)
	ErrReservationCanceled        = fmt.Errorf("reservation already canceled: %w", ErrConflict)
	ErrBookNotBorrowed            = fmt.Errorf("book not borrowed: %w", ErrConflict)
	ErrBookInCirculation          = fmt.Errorf("book has copies in circulation: %w", ErrConflict)
	ErrCopyInCirculation          = fmt.Errorf("copy is in circulation: %w", ErrConflict)
	ErrISBNAlreadyExists          = fmt.Errorf("isbn already exists: %w", ErrConflict)
	ErrEmailAlreadyExists         = fmt.Errorf("email already exists: %w", ErrConflict)

	ErrInvalidProlongPeriod = fmt.Errorf("prolong period must be positive: %w", ErrValidation)
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// MissingField reports a required field that was left empty.
func MissingField(name string) error {
	return fmt.Errorf("%s is required: %w", name, ErrValidation)
}

// InvalidField reports a field whose value is not acceptable.
func InvalidField(name, reason string) error {
	return fmt.Errorf("%s %s: %w", name, reason, ErrValidation)
}

// Kind names an error category.
type Kind string

const (
	KindNone       Kind = ""
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}
