package library_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"libracirc/internal/library"
)

func TestHistoryEntry_IsOverdue(t *testing.T) {
	fakeClock := time.Unix(0, 0).UTC()
	returnedAt := fakeClock.Add(time.Hour)

	tests := []struct {
		name  string
		entry library.HistoryEntry
		now   time.Time
		want  bool
	}{
		{
			name:  "borrowed and before due date",
			entry: library.HistoryEntry{Status: library.HistoryBorrowed, DueAt: fakeClock.Add(time.Hour)},
			now:   fakeClock,
			want:  false,
		},
		{
			name:  "borrowed and past due date",
			entry: library.HistoryEntry{Status: library.HistoryBorrowed, DueAt: fakeClock},
			now:   fakeClock.Add(time.Second),
			want:  true,
		},
		{
			name:  "exactly at due date",
			entry: library.HistoryEntry{Status: library.HistoryBorrowed, DueAt: fakeClock},
			now:   fakeClock,
			want:  false,
		},
		{
			name: "returned late is not overdue",
			entry: library.HistoryEntry{
				Status:     library.HistoryReturned,
				DueAt:      fakeClock,
				ReturnedAt: &returnedAt,
			},
			now:  fakeClock.Add(48 * time.Hour),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.IsOverdue(tt.now))
			assert.Equal(t, tt.want, tt.entry.WithOverdue(tt.now).Overdue)
		})
	}
}

func TestReservation_Expired(t *testing.T) {
	fakeClock := time.Unix(0, 0).UTC()
	r := library.Reservation{Status: library.ReservationActive, ExpiresAt: fakeClock}

	assert.False(t, r.Expired(fakeClock))
	assert.True(t, r.Expired(fakeClock.Add(time.Minute)))

	r.Status = library.ReservationCollected
	assert.False(t, r.Expired(fakeClock.Add(time.Minute)), "only active reservations expire")
}

func TestBookInput_NormalizeAndValidate(t *testing.T) {
	in := library.BookInput{
		Title:    "  Solaris ",
		Authors:  []string{" Stanisław Lem", ""},
		Subjects: []string{"sci-fi", "sci-fi", " ", "classic"},
	}.Normalize()

	assert.Equal(t, "Solaris", in.Title)
	assert.Equal(t, []string{"Stanisław Lem"}, in.Authors)
	assert.Equal(t, []string{"sci-fi", "classic"}, in.Subjects)
	assert.Equal(t, library.DefaultLanguage, in.Language)
	assert.NoError(t, in.Validate())

	err := library.BookInput{Title: " "}.Validate()
	assert.ErrorIs(t, err, library.ErrValidation)

	err = library.BookInput{Title: "x", Year: -1}.Validate()
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, library.KindNone, library.KindOf(nil))
	assert.Equal(t, library.KindNotFound, library.KindOf(library.ErrCopyNotFound))
	assert.Equal(t, library.KindNotFound, library.KindOf(fmt.Errorf("reserve: %w", library.ErrBookNotFound)))
	assert.Equal(t, library.KindConflict, library.KindOf(library.ErrNoAvailableCopy))
	assert.Equal(t, library.KindConflict, library.KindOf(library.ErrBookNotBorrowed))
	assert.Equal(t, library.KindValidation, library.KindOf(library.ErrInvalidProlongPeriod))
	assert.Equal(t, library.KindValidation, library.KindOf(library.MissingField("email")))
	assert.Equal(t, library.KindInternal, library.KindOf(errors.New("connection reset")))
}

func TestStatuses_Valid(t *testing.T) {
	assert.True(t, library.CopyReserved.Valid())
	assert.False(t, library.CopyStatus("lost").Valid())
	assert.True(t, library.ReservationCollected.Valid())
	assert.False(t, library.ReservationStatus("expired").Valid())
	assert.True(t, library.HistoryReturned.Valid())
	assert.True(t, library.RoleLibrarian.Valid())
	assert.False(t, library.Role("admin").Valid())
}
