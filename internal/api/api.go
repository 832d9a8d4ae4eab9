// internal/api/api.go
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/library"
)

// UserHeader carries the id of the acting user, resolved by the identity provider in front of the services.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string       `json:"error"`
	Kind  library.Kind `json:"kind,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and writes it. Internal errors are logged and hidden from the client.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: library.KindOf(err)}

	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		resp = ErrorResponse{Error: http.StatusText(status), Kind: library.KindInternal}
	}
	if status == http.StatusUnauthorized || status == http.StatusTooManyRequests {
		resp.Kind = ""
	}

	WriteJSON(w, status, resp)
}

// StatusFor returns the HTTP status of err.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, library.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, library.ErrRateLimited):
		return http.StatusTooManyRequests
	}

	switch library.KindOf(err) {
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindConflict:
		return http.StatusConflict
	case library.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return library.InvalidField("body", "is not valid JSON")
	}
	return nil
}

// IDParam parses a positive integer URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, library.InvalidField(name, "must be a positive integer")
	}
	return id, nil
}

// ActingUser returns the user named by the X-User-ID header, falling back to fallback from the request body.
func ActingUser(r *http.Request, fallback uuid.UUID) (uuid.UUID, error) {
	if raw := strings.TrimSpace(r.Header.Get(UserHeader)); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, library.InvalidField(UserHeader, "is not a valid uuid")
		}
		return id, nil
	}
	if fallback == uuid.Nil {
		return uuid.Nil, library.MissingField("user_id")
	}
	return fallback, nil
}

// OptionalUUID parses a query parameter. An absent parameter yields nil.
func OptionalUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, library.InvalidField(name, "is not a valid uuid")
	}
	return &id, nil
}

// OptionalStatus parses a status query parameter and checks it with valid.
func OptionalStatus[S ~string](r *http.Request, name string, valid func(S) bool) (*S, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	s := S(strings.ToLower(raw))
	if !valid(s) {
		return nil, library.InvalidField(name, fmt.Sprintf("%q is not a known status", raw))
	}
	return &s, nil
}
