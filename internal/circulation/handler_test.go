package circulation_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/api"
	"libracirc/internal/circulation"
	"libracirc/internal/library"
	"libracirc/internal/store/storetest"
)

func newServer(t *testing.T, f fixture) *httptest.Server {
	t.Helper()

	r := api.NewRouter(nil, f.store)
	circulation.NewHandler(f.svc, 0, nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, user, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func Test_Handler_Reservation_Lifecycle(t *testing.T) {
	// setup
	f := setup(t, storetest.Open(t))
	srv := newServer(t, f)
	book, copies := storetest.AddBook(t, f.store, "Solaris", 1)
	user1, user2 := storetest.AddUser(t, f.store), storetest.AddUser(t, f.store)

	// act + assert
	resp := do(t, http.MethodPost, fmt.Sprintf("%s/books/%d/reservations", srv.URL, book.ID), user1.ID.String(), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res library.Reservation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, copies[0].ID, res.CopyID)
	assert.Equal(t, library.ReservationActive, res.Status)

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/books/%d/reservations", srv.URL, book.ID), "",
		fmt.Sprintf(`{"user_id":%q}`, user2.ID))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var failure api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.Equal(t, library.KindConflict, failure.Kind)

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/copies/%d/collect", srv.URL, copies[0].ID), user1.ID.String(), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var loan library.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loan))
	assert.True(t, storetest.Epoch.Add(library.DefaultLoanPeriod).Equal(loan.DueAt))

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/history/%d/prolong", srv.URL, loan.ID), "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loan))
	assert.True(t, storetest.Epoch.Add(library.DefaultLoanPeriod).AddDate(0, 0, library.DefaultProlongDays).Equal(loan.DueAt))

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/history/%d/prolong", srv.URL, loan.ID), "", `{"days":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/history/%d/return", srv.URL, loan.ID), "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, fmt.Sprintf("%s/history/%d/return", srv.URL, loan.ID), "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, fmt.Sprintf("%s/copies/%d/timeline", srv.URL, copies[0].ID), "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []library.CopyEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.NotEmpty(t, events)
	assert.Equal(t, library.EventCopyReturned, events[len(events)-1].Type)

	f.assertInvariant(t)
}

func Test_Handler_Lists_Overdue_Loans(t *testing.T) {
	// setup
	ctx := t.Context()
	f := setup(t, storetest.Open(t))
	srv := newServer(t, f)
	_, copies := storetest.AddBook(t, f.store, "Solaris", 2)
	user := storetest.AddUser(t, f.store)
	late, err := f.svc.BorrowDirect(ctx, copies[0].ID, user.ID)
	require.NoError(t, err)
	f.clock.Advance(library.DefaultLoanPeriod + time.Hour)
	_, err = f.svc.BorrowDirect(ctx, copies[1].ID, user.ID)
	require.NoError(t, err)

	// act
	resp := do(t, http.MethodGet, srv.URL+"/history/overdue", "", "")

	// assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var overdue []library.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&overdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.True(t, overdue[0].Overdue)
}

func Test_Handler_Rejects_Bad_Requests(t *testing.T) {
	f := setup(t, storetest.Open(t))
	srv := newServer(t, f)
	book, _ := storetest.AddBook(t, f.store, "Solaris", 1)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		want   int
	}{
		{"missing user", http.MethodPost, fmt.Sprintf("/books/%d/reservations", book.ID), "", "", http.StatusBadRequest},
		{"malformed user header", http.MethodPost, fmt.Sprintf("/books/%d/reservations", book.ID), "nope", "", http.StatusBadRequest},
		{"non numeric id", http.MethodGet, "/reservations/abc", "", "", http.StatusBadRequest},
		{"unknown reservation", http.MethodGet, "/reservations/999", "", "", http.StatusNotFound},
		{"unknown status filter", http.MethodGet, "/history?status=lost", "", "", http.StatusBadRequest},
		{"unknown copy timeline", http.MethodGet, "/copies/999/timeline", "", "", http.StatusNotFound},
		{"health", http.MethodGet, "/healthz", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
