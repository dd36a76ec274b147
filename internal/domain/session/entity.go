// internal/domain/session/entity.go
package session

import (
	"database/sql"
	"time"
)

// LogoutReason tags why a session left the active state.
type LogoutReason string

const (
	ReasonUserLogout       LogoutReason = "USER_LOGOUT"
	ReasonConcurrentLogin  LogoutReason = "CONCURRENT_LOGIN_DETECTED"
	ReasonSessionTimeout   LogoutReason = "SESSION_TIMEOUT"
	ReasonAdminForceLogout LogoutReason = "ADMIN_FORCE_LOGOUT"
)

// Session represents one authenticated device/browser instance.
// At most one row per user carries is_active = true at steady state;
// two may coexist briefly during a login race and are reconciled
// lazily on the next validation.
type Session struct {
	ID            int64          `json:"id" db:"id"`
	UserID        int64          `json:"user_id" db:"user_id"`
	SessionToken  string         `json:"-" db:"session_token"`
	IsActive      bool           `json:"is_active" db:"is_active"`
	LoginAt       time.Time      `json:"login_at" db:"login_at"`
	LastActivity  time.Time      `json:"last_activity" db:"last_activity"`
	LogoutAt      sql.NullTime   `json:"logout_at" db:"logout_at"`
	LogoutReason  sql.NullString `json:"logout_reason" db:"logout_reason"`
	IPAddress     sql.NullString `json:"ip_address" db:"ip_address"`
	UserAgent     sql.NullString `json:"user_agent" db:"user_agent"`
	TotalAPICalls int64          `json:"total_api_calls" db:"total_api_calls"`
}

// Meta carries the request attributes captured at login time.
type Meta struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Reason returns the logout reason tag, or empty if still active.
func (s *Session) Reason() LogoutReason {
	if s.LogoutReason.Valid {
		return LogoutReason(s.LogoutReason.String)
	}
	return ""
}

// IdleFor reports how long the session has been without tracked activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
