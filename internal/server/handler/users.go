package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// UserService is what the user handler needs from the service layer.
type UserService interface {
	Create(ctx context.Context, username string) (domain.User, error)
	Get(ctx context.Context, id string) (domain.User, error)
}

// UserHandler serves the user endpoints.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger.With(slog.String("handler", "users"))}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32,alphanum"`
}

// Create registers a user with the starting balance.
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.users.Create(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, "create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Get returns a user and balance.
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
