// internal/circulation/handler.go
package circulation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/api"
	"libracirc/internal/library"
)

type Handler struct {
	service     Service
	prolongDays int
	logger      *slog.Logger
}

func NewHandler(service Service, prolongDays int, logger *slog.Logger) *Handler {
	if prolongDays <= 0 {
		prolongDays = library.DefaultProlongDays
	}
	return &Handler{service: service, prolongDays: prolongDays, logger: logger}
}

// Routes mounts the circulation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books/{bookID}/reservations", h.HandleReserve)
	r.Post("/copies/{copyID}/collect", h.HandleCollect)
	r.Post("/copies/{copyID}/borrow", h.HandleBorrow)
	r.Get("/copies/{copyID}/timeline", h.HandleTimeline)

	r.Get("/reservations", h.HandleListReservations)
	r.Get("/reservations/{id}", h.HandleGetReservation)
	r.Post("/reservations/{id}/cancel", h.HandleCancel)

	r.Get("/history", h.HandleListHistory)
	r.Get("/history/overdue", h.HandleListOverdue)
	r.Get("/history/{id}", h.HandleGetHistory)
	r.Post("/history/{id}/return", h.HandleReturn)
	r.Post("/history/{id}/prolong", h.HandleProlong)
}

type loanFunc func(ctx context.Context, userID uuid.UUID, copyID int64) (library.HistoryEntry, error)

type userRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	bookID, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	userID, err := h.actingUser(r)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.Reserve(r.Context(), bookID, userID)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	h.handleLoan(w, r, h.service.Collect)
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	h.handleLoan(w, r, func(ctx context.Context, userID uuid.UUID, copyID int64) (library.HistoryEntry, error) {
		return h.service.BorrowDirect(ctx, copyID, userID)
	})
}

func (h *Handler) handleLoan(w http.ResponseWriter, r *http.Request, open loanFunc) {
	copyID, err := api.IDParam(r, "copyID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	userID, err := h.actingUser(r)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	entry, err := open(r.Context(), userID, copyID)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	entry, err := h.service.ReturnCopy(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleProlong(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	var req struct {
		Days *int `json:"days"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	days := h.prolongDays
	if req.Days != nil {
		days = *req.Days
	}

	entry, err := h.service.Prolong(r.Context(), id, days)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	res, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleListReservations(w http.ResponseWriter, r *http.Request) {
	userID, err := api.OptionalUUID(r, "user_id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	status, err := api.OptionalStatus(r, "status", library.ReservationStatus.Valid)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	out, err := h.service.ListReservations(r.Context(), library.ReservationFilter{UserID: userID, Status: status})
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	entry, err := h.service.GetHistoryEntry(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := api.OptionalUUID(r, "user_id")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	status, err := api.OptionalStatus(r, "status", library.HistoryStatus.Valid)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	out, err := h.service.ListHistory(r.Context(), library.HistoryFilter{UserID: userID, Status: status})
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleListOverdue(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListOverdue(r.Context())
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	copyID, err := api.IDParam(r, "copyID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	events, err := h.service.CopyTimeline(r.Context(), copyID)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, events)
}

// actingUser reads the user from the X-User-ID header or the user_id field of the body.
func (h *Handler) actingUser(r *http.Request) (uuid.UUID, error) {
	var req userRequest
	if err := api.Decode(r, &req); err != nil {
		return uuid.Nil, err
	}
	return api.ActingUser(r, req.UserID)
}
