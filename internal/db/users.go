package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hawker-score/internal/models"
)

// UpsertUser creates a user or replaces the password hash and role of an
// existing user with the same email
func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password_hash = excluded.password_hash,
			role = excluded.role
	`
	if _, err := db.ExecContext(ctx, db.Rebind(query), u.ID, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user with the given email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	query := `SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`
	if err := db.GetContext(ctx, &u, db.Rebind(query), strings.ToLower(strings.TrimSpace(email))); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err, "user not found"))
	}
	return &u, nil
}
