package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Create inserts a user.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, balance, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, decArg(u.Balance), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create user %s: %w", u.ID, mapError(err))
	}
	return nil
}

// GetByID retrieves a single user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, mapError(err))
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
