// internal/domain/auth/entity.go
package auth

import (
	"database/sql"
	"time"
)

// User represents an account holder.
type User struct {
	ID                  int64          `json:"id" db:"id"`
	Email               string         `json:"email" db:"email"`
	PasswordHash        string         `json:"-" db:"password_hash"`
	FullName            sql.NullString `json:"full_name" db:"full_name"`
	Status              string         `json:"status" db:"status"` // active, suspended, pending_verification
	Roles               []string       `json:"roles" db:"roles"`
	Tier                string         `json:"tier" db:"tier"` // free, pro, team, enterprise
	LastLogin           sql.NullTime   `json:"last_login" db:"last_login"`
	FailedLoginAttempts int            `json:"-" db:"failed_login_attempts"`
	LockedUntil         sql.NullTime   `json:"-" db:"locked_until"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt           sql.NullTime   `json:"-" db:"deleted_at"`
}

// IsLocked reports whether the account is under a temporary lockout.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil.Valid && u.LockedUntil.Time.After(now)
}
