package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserService manages balance holders.
type UserService struct {
	users   domain.UserStore
	initial decimal.Decimal
	logger  *slog.Logger
}

// NewUserService creates a UserService. New users start with initial.
func NewUserService(users domain.UserStore, initial decimal.Decimal, logger *slog.Logger) *UserService {
	return &UserService{
		users:   users,
		initial: initial,
		logger:  logger.With(slog.String("component", "user_service")),
	}
}

// Create registers a user with the initial balance.
func (s *UserService) Create(ctx context.Context, username string) (domain.User, error) {
	if username == "" {
		return domain.User{}, fmt.Errorf("user_service: username is required: %w", domain.ErrInvalidInput)
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		Balance:   s.initial,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("user_service: create %s: %w", username, err)
	}
	s.logger.InfoContext(ctx, "user created", slog.String("user_id", u.ID), slog.String("username", username))
	return u, nil
}

// Get returns a user.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: get %s: %w", id, err)
	}
	return u, nil
}
