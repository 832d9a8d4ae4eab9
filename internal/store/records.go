// internal/store/records.go
package store

import (
	"database/sql"
	stdjson "encoding/json"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/library"
)

const (
	tableBooks        = "books"
	tableBookAuthors  = "book_authors"
	tableBookSubjects = "book_subjects"
	tableCopies       = "copies"
	tableReservations = "reservations"
	tableHistory      = "history"
	tableUsers        = "users"
	tableCopyEvents   = "copy_events"

	colID     = "id"
	colBookID = "book_id"
	colCopyID = "copy_id"
	colUserID = "user_id"
	colStatus = "status"
	colName   = "name"
)

var (
	bookColumns        = []any{"id", "title", "publisher", "published_year", "language", "isbn"}
	copyColumns        = []any{"id", "book_id", "location", "status", "version"}
	reservationColumns = []any{"id", "user_id", "copy_id", "created_at", "expires_at", "status"}
	historyColumns     = []any{"id", "user_id", "copy_id", "borrowed_at", "due_at", "returned_at", "status"}
	userColumns        = []any{"id", "username", "email", "password_hash", "role", "created_at"}
	copyEventColumns   = []any{"copy_id", "version", "event_type", "payload", "occurred_at"}
)

type bookRecord struct {
	ID        int64          `db:"id"`
	Title     string         `db:"title"`
	Publisher string         `db:"publisher"`
	Year      int            `db:"published_year"`
	Language  string         `db:"language"`
	ISBN      sql.NullString `db:"isbn"`
}

type authorRecord struct {
	BookID int64  `db:"book_id"`
	Order  int    `db:"author_order"`
	Name   string `db:"name"`
}

type subjectRecord struct {
	BookID int64  `db:"book_id"`
	Name   string `db:"name"`
}

type copyRecord struct {
	ID       int64  `db:"id"`
	BookID   int64  `db:"book_id"`
	Location string `db:"location"`
	Status   string `db:"status"`
	Version  int    `db:"version"`
}

type reservationRecord struct {
	ID        int64     `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	CopyID    int64     `db:"copy_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Status    string    `db:"status"`
}

type historyRecord struct {
	ID         int64        `db:"id"`
	UserID     uuid.UUID    `db:"user_id"`
	CopyID     int64        `db:"copy_id"`
	BorrowedAt time.Time    `db:"borrowed_at"`
	DueAt      time.Time    `db:"due_at"`
	ReturnedAt sql.NullTime `db:"returned_at"`
	Status     string       `db:"status"`
}

type userRecord struct {
	ID           uuid.UUID `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

type copyEventRecord struct {
	CopyID     int64     `db:"copy_id"`
	Version    int       `db:"version"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"`
	OccurredAt time.Time `db:"occurred_at"`
}

func toBook(r bookRecord, authors, subjects []string) library.Book {
	if authors == nil {
		authors = []string{}
	}
	if subjects == nil {
		subjects = []string{}
	}
	return library.Book{
		ID:        r.ID,
		Title:     r.Title,
		Authors:   authors,
		Subjects:  subjects,
		Publisher: r.Publisher,
		Year:      r.Year,
		Language:  r.Language,
		ISBN:      r.ISBN.String,
	}
}

func toCopy(r copyRecord) library.Copy {
	return library.Copy{
		ID:       r.ID,
		BookID:   r.BookID,
		Location: r.Location,
		Status:   library.CopyStatus(r.Status),
		Version:  r.Version,
	}
}

func toReservation(r reservationRecord) library.Reservation {
	return library.Reservation{
		ID:        r.ID,
		UserID:    r.UserID,
		CopyID:    r.CopyID,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		Status:    library.ReservationStatus(r.Status),
	}
}

func toHistoryEntry(r historyRecord) library.HistoryEntry {
	h := library.HistoryEntry{
		ID:         r.ID,
		UserID:     r.UserID,
		CopyID:     r.CopyID,
		BorrowedAt: r.BorrowedAt.UTC(),
		DueAt:      r.DueAt.UTC(),
		Status:     library.HistoryStatus(r.Status),
	}
	if r.ReturnedAt.Valid {
		returned := r.ReturnedAt.Time.UTC()
		h.ReturnedAt = &returned
	}
	return h
}

func toUser(r userRecord) library.User {
	return library.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         library.Role(r.Role),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func toCopyEvent(r copyEventRecord) library.CopyEvent {
	return library.CopyEvent{
		CopyID:     r.CopyID,
		Version:    r.Version,
		Type:       r.EventType,
		Payload:    stdjson.RawMessage(r.Payload),
		OccurredAt: r.OccurredAt.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
