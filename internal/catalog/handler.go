// internal/catalog/handler.go
package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"libracirc/internal/api"
	"libracirc/internal/library"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.HandleListBooks)
	r.Post("/books", h.HandleAddBook)
	r.Get("/books/{bookID}", h.HandleGetBook)
	r.Put("/books/{bookID}", h.HandleUpdateBook)
	r.Delete("/books/{bookID}", h.HandleRemoveBook)
	r.Get("/books/{bookID}/copies", h.HandleListCopies)
	r.Post("/books/{bookID}/copies", h.HandleAddCopy)
	r.Get("/books/{bookID}/available", h.HandleCountAvailable)

	r.Get("/copies/{copyID}", h.HandleGetCopy)
	r.Patch("/copies/{copyID}", h.HandleUpdateCopy)
	r.Delete("/copies/{copyID}", h.HandleRemoveCopy)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		library.BookInput
		Copies *int `json:"copies"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	copies := 1
	if req.Copies != nil {
		copies = *req.Copies
	}

	details, err := h.service.AddBook(r.Context(), req.BookInput, copies)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, details)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	details, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	var in library.BookInput
	if err := api.Decode(r, &in); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, in)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := library.BookFilter{
		Title:     q.Get("title"),
		Author:    q.Get("author"),
		Subject:   q.Get("subject"),
		Publisher: q.Get("publisher"),
		Language:  q.Get("language"),
	}
	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteError(w, h.logger, library.InvalidField("year", "must be a number"))
			return
		}
		filter.Year = year
	}

	books, err := h.service.ListBooks(r.Context(), filter)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleAddCopy(w http.ResponseWriter, r *http.Request) {
	bookID, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	var req struct {
		Location string `json:"location"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	c, err := h.service.AddCopy(r.Context(), bookID, req.Location)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) HandleListCopies(w http.ResponseWriter, r *http.Request) {
	bookID, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	status, err := api.OptionalStatus(r, "status", library.CopyStatus.Valid)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	copies, err := h.service.ListCopies(r.Context(), bookID, status)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, copies)
}

func (h *Handler) HandleCountAvailable(w http.ResponseWriter, r *http.Request) {
	bookID, err := api.IDParam(r, "bookID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	n, err := h.service.CountAvailable(r.Context(), bookID)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"book_id": bookID, "available": n})
}

func (h *Handler) HandleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "copyID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleUpdateCopy(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "copyID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	var req struct {
		Location string `json:"location"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	c, err := h.service.UpdateCopyLocation(r.Context(), id, req.Location)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleRemoveCopy(w http.ResponseWriter, r *http.Request) {
	id, err := api.IDParam(r, "copyID")
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	if err := h.service.RemoveCopy(r.Context(), id); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
