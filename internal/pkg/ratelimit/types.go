// internal/pkg/ratelimit/types.go
package ratelimit

import (
	"context"
	"time"

	rl "inkgen-service/internal/domain/ratelimit"
)

// Machine-readable error kinds for quota failures.
const (
	KindDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
	KindAccountBlocked     = "ACCOUNT_BLOCKED"
	KindServiceMaintenance = "SERVICE_MAINTENANCE"
)

// ConfigSource is the read-mostly accessor for the effective config.
// Readers tolerate the config changing between reads; Refresh is the
// explicit reload boundary used by the admin path.
type ConfigSource interface {
	Current(ctx context.Context) (*rl.Config, error)
	Refresh(ctx context.Context) error
}

// UsageStore is the persistence boundary for per-user-per-day usage.
// Counter mutations accumulate at the storage layer (+= weight) rather
// than writing absolutes, and the one-shot warning append is atomic.
type UsageStore interface {
	// GetOrCreate lazily creates the day row on first request of the
	// day, snapshotting the effective limit.
	GetOrCreate(ctx context.Context, userID int64, date string, dailyLimit int) (*rl.DailyUsage, error)

	// Get returns xerrors.ErrNotFound when no row exists for the day.
	Get(ctx context.Context, userID int64, date string) (*rl.DailyUsage, error)

	// RecordUsage accumulates total_usage and the module counter.
	RecordUsage(ctx context.Context, id int64, moduleID, moduleName string, weight int) error

	// MarkWarningIssued appends the threshold percentage if absent and
	// reports whether this call won the append.
	MarkWarningIssued(ctx context.Context, id int64, percentage int) (bool, error)

	// RecordBurst resets-or-increments the rolling burst counter and
	// returns the post-increment value.
	RecordBurst(ctx context.Context, id int64, windowStart, now time.Time) (int, error)

	StartCooldown(ctx context.Context, id int64, until time.Time) error

	SetBlocked(ctx context.Context, userID int64, date string, blocked bool, reason string) error

	DeleteOlderThan(ctx context.Context, cutoffDate string) (int64, error)

	// SharingReport aggregates users whose usage ratio exceeded the
	// threshold across the trailing window. Advisory only.
	SharingReport(ctx context.Context, sinceDate string, threshold float64) ([]rl.SharingSuspect, error)
}

// AuditSink mirrors the session package contract: best-effort appends.
type AuditSink interface {
	Record(userID int64, actor, action, description string, metadata map[string]interface{})
}

// Result is the outcome of an allowed CheckAndRecord call.
type Result struct {
	Allowed    bool
	Counted    bool // false when disabled, unrestricted or unlimited
	Weight     int  // quota cost charged for this request, 0 when uncounted
	UsedBurst  bool
	FailedOpen bool
	Warning    *rl.WarningThreshold
	Status     rl.UsageStatus
}

// LimitError is a quota denial with full usage snapshot and remediation
// hints; it is never returned for internal failures (those fail open).
type LimitError struct {
	Kind       string
	Message    string
	Status     *rl.UsageStatus
	RetryAfter time.Duration
	Remedies   []string
}

func (e *LimitError) Error() string {
	return e.Message
}
