// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/api"
	"libracirc/internal/library"
)

const defaultTimeout = 10 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError is a non-2xx response. It unwraps to the library error of its kind, so callers can use
// errors.Is(err, library.ErrNotFound) across the wire.
type StatusError struct {
	Status  int
	Kind    library.Kind
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Kind {
	case library.KindNotFound:
		return library.ErrNotFound
	case library.KindConflict:
		return library.ErrConflict
	case library.KindValidation:
		return library.ErrValidation
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return library.ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return library.ErrRateLimited
	}
	return nil
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, hc *http.Client) client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Ping checks the service health endpoint.
func (c client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", uuid.Nil, nil, nil)
}

// do sends in as JSON and decodes a 2xx body into out. A non-nil user is sent as the acting user.
func (c client) do(ctx context.Context, method, path string, user uuid.UUID, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set(api.UserHeader, user.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
