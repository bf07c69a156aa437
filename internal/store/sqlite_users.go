package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashureev/tutorhub/internal/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, hashed_password, full_name, role, is_active, is_verified, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var role string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&user.ID, &user.Email, &user.HashedPassword, &user.FullName, &role,
		&user.IsActive, &user.IsVerified, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	user.Role = domain.UserRole(role)
	user.CreatedAt = unixTime(createdAt)
	user.UpdatedAt = unixTime(updatedAt)
	return &user, nil
}

// GetUser retrieves a user by ID.
func (q *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (` + userColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		hashed_password = excluded.hashed_password,
		full_name = excluded.full_name,
		role = excluded.role,
		is_active = excluded.is_active,
		is_verified = excluded.is_verified,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.HashedPassword, user.FullName, string(user.Role),
		user.IsActive, user.IsVerified, user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
