// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

// Routes mounts the membership endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.HandleRegister)
	r.Get("/users/{id}", h.HandleGetUser)
	r.Post("/login", h.HandleLogin)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var reg Registration
	if err := api.Decode(r, &reg); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), reg)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, u)
}

// HandleLogin checks credentials and returns the user. Token issuance is left to the identity provider.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	u, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, h.logger, library.InvalidField("id", "is not a valid uuid"))
		return
	}

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, u)
}
