package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/papertrail/internal/core"
	"github.com/markdave123-py/papertrail/internal/models"
)

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	q := c.q(`
		INSERT INTO users (id, username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	return c.withRetry(ctx, "create user", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, q,
			user.ID, user.Username, user.PasswordHash, user.IsAdmin, user.CreatedAt.UTC())
		return err
	})
}

func (c *DatabaseClient) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	q := c.q(`
		SELECT id, username, password_hash, is_admin, created_at
		FROM users WHERE username = ?
	`)
	var u models.User
	err := c.db.QueryRowContext(ctx, q, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
