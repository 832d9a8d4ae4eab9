package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/library"
)

func Test_StatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: library.ErrBookNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("reserve: %w", library.ErrNoAvailableCopy), want: http.StatusConflict},
		{err: library.ErrInvalidProlongPeriod, want: http.StatusBadRequest},
		{err: library.MissingField("title"), want: http.StatusBadRequest},
		{err: library.ErrInvalidCredentials, want: http.StatusUnauthorized},
		{err: library.ErrRateLimited, want: http.StatusTooManyRequests},
		{err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func Test_WriteError_Hides_Internal_Errors(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, nil, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.JSONEq(t, `{"error":"Internal Server Error","kind":"internal"}`, rec.Body.String())
}

func Test_WriteError_Exposes_Domain_Errors(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, nil, library.ErrCopyNotAvailable)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"copy not available: conflict","kind":"conflict"}`, rec.Body.String())
}

func Test_ActingUser_Prefers_Header(t *testing.T) {
	headerID, bodyID := uuid.New(), uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(UserHeader, headerID.String())

	got, err := ActingUser(req, bodyID)

	require.NoError(t, err)
	assert.Equal(t, headerID, got)
}

func Test_ActingUser_Requires_A_User(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	_, err := ActingUser(req, uuid.Nil)
	assert.ErrorIs(t, err, library.ErrValidation)

	req.Header.Set(UserHeader, "not-a-uuid")
	_, err = ActingUser(req, uuid.New())
	assert.ErrorIs(t, err, library.ErrValidation)
}

func Test_Decode(t *testing.T) {
	var body struct {
		Days int `json:"days"`
	}

	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"days":3}`)), &body))
	assert.Equal(t, 3, body.Days)

	require.NoError(t, Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body))
	assert.Equal(t, 3, body.Days)

	err := Decode(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"days":"three"}`)), &body)
	assert.ErrorIs(t, err, library.ErrValidation)
}

func Test_OptionalStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=Active", nil)
	got, err := OptionalStatus(req, "status", library.ReservationStatus.Valid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, library.ReservationActive, *got)

	req = httptest.NewRequest(http.MethodGet, "/?status=lost", nil)
	_, err = OptionalStatus(req, "status", library.ReservationStatus.Valid)
	assert.ErrorIs(t, err, library.ErrValidation)
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func Test_Healthz(t *testing.T) {
	healthy := NewRouter(nil, pingerFunc(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(nil, pingerFunc(func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
