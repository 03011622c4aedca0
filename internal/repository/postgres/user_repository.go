// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
)

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "user")),
	}
}

// Create stores a new operator account.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, role, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.Enabled,
	).Scan(&u.CreatedAt, &u.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err), zap.String("username", u.Username))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	r.logger.Info("Created user", zap.String("id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		FROM users WHERE id = $1
	`, id)
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		FROM users WHERE username = $1
	`, username)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		FROM users WHERE email = $1
	`, email)
}

func (r *UserRepository) scanUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	u := &domain.User{}
	var role string

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Enabled,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLogin,
	)

	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Role = domain.Role(role)
	return u, nil
}

// List returns a paginated list of users.
func (r *UserRepository) List(ctx context.Context, limit int, offset int) ([]*domain.User, int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, username, email, password_hash, role, enabled, created_at, updated_at, last_login
		FROM users ORDER BY username LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		var role string
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Enabled,
			&u.CreatedAt, &u.UpdatedAt, &u.LastLogin,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		r.logger.Warn("Failed to get user count", zap.Error(err))
	}

	return users, total, nil
}

// Update updates a user's profile and role.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, role = $5, enabled = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.pool.QueryRow(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.Enabled).Scan(&u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	r.logger.Info("Updated user", zap.String("id", u.ID))
	return u, nil
}

// Delete removes a user account.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted user", zap.String("id", id))
	return nil
}

// UpdateLastLogin records the current time as the user's last login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
