// internal/clients/circulation_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/library"
)

type CirculationClient struct {
	client
}

func NewCirculationClient(baseURL string, hc *http.Client) *CirculationClient {
	return &CirculationClient{client: newClient(baseURL, hc)}
}

// Reserve holds an available copy of the book for user.
func (c *CirculationClient) Reserve(ctx context.Context, bookID int64, user uuid.UUID) (library.Reservation, error) {
	var res library.Reservation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/books/%d/reservations", bookID), user, nil, &res)
	return res, err
}

// Collect turns user's reservation of the copy into a loan.
func (c *CirculationClient) Collect(ctx context.Context, user uuid.UUID, copyID int64) (library.HistoryEntry, error) {
	var h library.HistoryEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/copies/%d/collect", copyID), user, nil, &h)
	return h, err
}

func (c *CirculationClient) BorrowDirect(ctx context.Context, copyID int64, user uuid.UUID) (library.HistoryEntry, error) {
	var h library.HistoryEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/copies/%d/borrow", copyID), user, nil, &h)
	return h, err
}

func (c *CirculationClient) Cancel(ctx context.Context, reservationID int64) (library.Reservation, error) {
	var res library.Reservation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/reservations/%d/cancel", reservationID), uuid.Nil, nil, &res)
	return res, err
}

func (c *CirculationClient) ReturnCopy(ctx context.Context, historyID int64) (library.HistoryEntry, error) {
	var h library.HistoryEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/history/%d/return", historyID), uuid.Nil, nil, &h)
	return h, err
}

// Prolong extends a loan. days <= 0 leaves the period to the service default.
func (c *CirculationClient) Prolong(ctx context.Context, historyID int64, days int) (library.HistoryEntry, error) {
	var req any
	if days > 0 {
		req = struct {
			Days int `json:"days"`
		}{days}
	}

	var h library.HistoryEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/history/%d/prolong", historyID), uuid.Nil, req, &h)
	return h, err
}

func (c *CirculationClient) ListOverdue(ctx context.Context) ([]library.HistoryEntry, error) {
	var entries []library.HistoryEntry
	err := c.do(ctx, http.MethodGet, "/history/overdue", uuid.Nil, nil, &entries)
	return entries, err
}

func (c *CirculationClient) CopyTimeline(ctx context.Context, copyID int64) ([]library.CopyEvent, error) {
	var events []library.CopyEvent
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/copies/%d/timeline", copyID), uuid.Nil, nil, &events)
	return events, err
}
