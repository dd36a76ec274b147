// internal/domain/audit/entity.go
package audit

import (
	"database/sql"
	"time"
)

// Actions recorded for forensic review.
const (
	ActionConcurrentLogin  = "session.concurrent_login_detected"
	ActionSessionTimeout   = "session.timeout"
	ActionForceLogout      = "session.force_logout"
	ActionUserBlocked      = "ratelimit.user_blocked"
	ActionUserUnblocked    = "ratelimit.user_unblocked"
	ActionConfigUpdated    = "ratelimit.config_updated"
	ActionPasswordChanged  = "auth.password_changed"
	ActionLoginThrottled   = "auth.login_throttled"
	ActionBurstAllowed     = "ratelimit.burst_allowed"
	ActionCooldownStarted  = "ratelimit.cooldown_started"
	ActionMaintenanceState = "ratelimit.maintenance_toggled"
	ActionCreditsGranted   = "credits.granted"
)

// Entry is one append-only audit record. Writes are best-effort;
// a failed append never fails the triggering operation.
type Entry struct {
	ID          string                 `json:"id" db:"id"` // ULID
	Actor       string                 `json:"actor" db:"actor"`
	UserID      sql.NullInt64          `json:"user_id" db:"user_id"`
	Action      string                 `json:"action" db:"action"`
	Description string                 `json:"description" db:"description"`
	Metadata    map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
