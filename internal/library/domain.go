// internal/library/domain.go
package library

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultReservationTTL is how long a reserved copy is held for its user.
	DefaultReservationTTL = 3 * 24 * time.Hour
	// DefaultLoanPeriod is the time between borrowing and the due date.
	DefaultLoanPeriod = 14 * 24 * time.Hour
	// DefaultProlongDays is used when a prolong request does not name a period.
	DefaultProlongDays = 7
	// DefaultLanguage is assigned to books created without a language.
	DefaultLanguage = "pl"
)

// CopyStatus is the lifecycle state of a physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "available"
	CopyReserved  CopyStatus = "reserved"
	CopyBorrowed  CopyStatus = "borrowed"
)

func (s CopyStatus) Valid() bool {
	switch s {
	case CopyAvailable, CopyReserved, CopyBorrowed:
		return true
	}
	return false
}

// ReservationStatus is the state of a hold on a copy.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCanceled  ReservationStatus = "canceled"
	ReservationCollected ReservationStatus = "collected"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationActive, ReservationCanceled, ReservationCollected:
		return true
	}
	return false
}

// HistoryStatus is the state of a borrowing record.
type HistoryStatus string

const (
	HistoryBorrowed HistoryStatus = "borrowed"
	HistoryReturned HistoryStatus = "returned"
)

func (s HistoryStatus) Valid() bool {
	return s == HistoryBorrowed || s == HistoryReturned
}

// Role is the authorization role of a user. Checks happen above the core.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RoleLibrarian
}

// Book is a catalog title. Authors keep their order, subjects are a set.
type Book struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Subjects  []string `json:"subjects"`
	Publisher string   `json:"publisher,omitempty"`
	Year      int      `json:"year,omitempty"`
	Language  string   `json:"language"`
	ISBN      string   `json:"isbn,omitempty"`
}

// BookInput carries the librarian supplied attributes of a book.
type BookInput struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Subjects  []string `json:"subjects"`
	Publisher string   `json:"publisher"`
	Year      int      `json:"year"`
	Language  string   `json:"language"`
	ISBN      string   `json:"isbn"`
}

// Normalize trims the input, drops blank and duplicate subjects and applies the default language.
func (in BookInput) Normalize() BookInput {
	out := BookInput{
		Title:     strings.TrimSpace(in.Title),
		Publisher: strings.TrimSpace(in.Publisher),
		Year:      in.Year,
		Language:  strings.TrimSpace(in.Language),
		ISBN:      strings.TrimSpace(in.ISBN),
	}
	for _, a := range in.Authors {
		if a = strings.TrimSpace(a); a != "" {
			out.Authors = append(out.Authors, a)
		}
	}
	seen := make(map[string]bool, len(in.Subjects))
	for _, s := range in.Subjects {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.Subjects = append(out.Subjects, s)
	}
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	return out
}

// Validate reports the first missing or malformed field.
func (in BookInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return MissingField("title")
	}
	if in.Year < 0 {
		return InvalidField("year", "must not be negative")
	}
	return nil
}

// BookFilter selects books. Zero values are ignored.
type BookFilter struct {
	Title     string
	Author    string
	Subject   string
	Publisher string
	Year      int
	Language  string
}

// Copy is one lendable instance of a book.
type Copy struct {
	ID       int64      `json:"id"`
	BookID   int64      `json:"book_id"`
	Location string     `json:"location,omitempty"`
	Status   CopyStatus `json:"status"`
	Version  int        `json:"version"`
}

// Reservation is a time bounded hold of a copy for a user.
type Reservation struct {
	ID        int64             `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	CopyID    int64             `json:"copy_id"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Status    ReservationStatus `json:"status"`
}

// Expired reports whether an active reservation has outlived its hold.
func (r Reservation) Expired(now time.Time) bool {
	return r.Status == ReservationActive && now.After(r.ExpiresAt)
}

// ReservationCursor is a position in the (expires_at, id) order of reservations. The zero value is the start.
type ReservationCursor struct {
	ExpiresAt time.Time
	ID        int64
}

// CursorAfter returns the position right after r.
func CursorAfter(r Reservation) ReservationCursor {
	return ReservationCursor{ExpiresAt: r.ExpiresAt, ID: r.ID}
}

// ReservationFilter selects reservations. Nil fields are ignored.
type ReservationFilter struct {
	UserID *uuid.UUID
	CopyID *int64
	Status *ReservationStatus
}

// HistoryEntry records one borrow and return cycle.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	CopyID     int64         `json:"copy_id"`
	BorrowedAt time.Time     `json:"borrowed_at"`
	DueAt      time.Time     `json:"due_at"`
	ReturnedAt *time.Time    `json:"returned_at,omitempty"`
	Status     HistoryStatus `json:"status"`
	Overdue    bool          `json:"overdue"`
}

// IsOverdue is derived on read and never persisted.
func (h HistoryEntry) IsOverdue(now time.Time) bool {
	return h.Status == HistoryBorrowed && h.ReturnedAt == nil && now.After(h.DueAt)
}

// WithOverdue returns a copy of h with the Overdue flag evaluated at now.
func (h HistoryEntry) WithOverdue(now time.Time) HistoryEntry {
	h.Overdue = h.IsOverdue(now)
	return h
}

// HistoryFilter selects history entries. Nil fields are ignored.
type HistoryFilter struct {
	UserID *uuid.UUID
	CopyID *int64
	Status *HistoryStatus
}

// User is a library patron or librarian.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// CopyEvent is one entry of a copy's circulation journal.
type CopyEvent struct {
	CopyID     int64           `json:"copy_id"`
	Version    int             `json:"version"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Journal event types.
const (
	EventCopyAdded           = "CopyAdded"
	EventCopyRelocated       = "CopyRelocated"
	EventCopyReserved        = "CopyReserved"
	EventReservationCanceled = "ReservationCanceled"
	EventReservationExpired  = "ReservationExpired"
	EventCopyCollected       = "CopyCollected"
	EventCopyBorrowed        = "CopyBorrowed"
	EventCopyReturned        = "CopyReturned"
	EventLoanProlonged       = "LoanProlonged"
)
