// internal/repository/postgres/auth_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkgen-service/internal/domain/auth"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

type AuthRepository struct {
	db *pgxpool.Pool
}

func NewAuthRepository(db *pgxpool.Pool) *AuthRepository {
	return &AuthRepository{db: db}
}

const userColumns = `
	id, email, password_hash, full_name, status, roles, tier,
	last_login, failed_login_attempts, locked_until,
	created_at, updated_at, deleted_at
`

// FindUserByEmail retrieves a user by email
func (r *AuthRepository) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
	`

	return r.scanOne(r.db.QueryRow(ctx, query, email))
}

// FindUserByID retrieves a user by ID
func (r *AuthRepository) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`

	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// CreateUser creates a new account
func (r *AuthRepository) CreateUser(ctx context.Context, u *auth.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name, status, roles, tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		u.Email, u.PasswordHash, u.FullName, u.Status, pq.Array(u.Roles), u.Tier,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateLastLogin records a successful login and clears the lockout state
func (r *AuthRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET last_login = NOW(), failed_login_attempts = 0, locked_until = NULL
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// IncrementFailedLoginAttempts bumps the counter and locks the account
// once it reaches the attempt ceiling
func (r *AuthRepository) IncrementFailedLoginAttempts(ctx context.Context, id int64, lockDuration time.Duration) error {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= 5 THEN $1
		        ELSE NULL
		    END
		WHERE id = $2
	`
	lockUntil := time.Now().Add(lockDuration)
	_, err := r.db.Exec(ctx, query, lockUntil, id)
	return err
}

// UpdatePassword replaces the password hash
func (r *AuthRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, passwordHash, id)
	return err
}

// ExistsByEmail checks whether an account already uses the email
func (r *AuthRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

func (r *AuthRepository) scanOne(row pgx.Row) (*auth.User, error) {
	var u auth.User
	var roles pq.StringArray

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Status, &roles, &u.Tier,
		&u.LastLogin, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	u.Roles = roles
	return &u, nil
}
