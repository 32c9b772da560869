package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/healthadvisor/server/internal/models"
)

// UserRepository persists user accounts in Postgres.
type UserRepository struct {
	postgres *Postgres
}

func NewUserRepository(postgres *Postgres) *UserRepository {
	return &UserRepository{postgres: postgres}
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.postgres.Pool.Exec(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db: insert user: %w", err)
	}
	return nil
}

// FindByIdentifier resolves a user by username or email, case-insensitively.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	const query = `SELECT id, username, email, password_hash, created_at, updated_at
FROM users WHERE LOWER(username) = $1 OR (email <> '' AND LOWER(email) = $1)`

	return r.queryOne(ctx, query, strings.ToLower(strings.TrimSpace(identifier)))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, username, email, password_hash, created_at, updated_at
FROM users WHERE id = $1`

	return r.queryOne(ctx, query, id)
}

func (r *UserRepository) TouchUpdatedAt(ctx context.Context, id string, at time.Time) error {
	if _, err := r.postgres.Pool.Exec(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("db: touch user: %w", err)
	}
	return nil
}

func (r *UserRepository) queryOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.postgres.Pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("db: query user: %w", err)
	}
	return &user, nil
}
