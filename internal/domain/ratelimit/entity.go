// internal/domain/ratelimit/entity.go
package ratelimit

import (
	"database/sql"
	"time"
)

// DefaultConfigName is the well-known lookup key for the effective config.
// Exactly one config row is effective at a time.
const DefaultConfigName = "default"

// ModuleRule describes the quota treatment of one content module.
type ModuleRule struct {
	Name         string `json:"name"`
	Weight       int    `json:"weight"`
	IsRestricted bool   `json:"is_restricted"`
}

// BurstSettings describe the bounded escape valve above the daily quota.
type BurstSettings struct {
	IsEnabled          bool `json:"is_enabled"`
	BurstLimit         int  `json:"burst_limit"`
	BurstWindowMinutes int  `json:"burst_window_minutes"`
	CooldownMinutes    int  `json:"cooldown_minutes"`
}

// WarningThreshold is a one-shot-per-day usage warning boundary.
type WarningThreshold struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	IsActive   bool   `json:"is_active"`
}

// MaintenanceMode blocks all rate-limited traffic while enabled.
type MaintenanceMode struct {
	IsEnabled bool   `json:"is_enabled"`
	Message   string `json:"message"`
}

// OverrideSettings groups operator overrides.
type OverrideSettings struct {
	MaintenanceMode MaintenanceMode `json:"maintenance_mode"`
}

// MonitoringSettings control usage-row retention.
type MonitoringSettings struct {
	RetentionDays int `json:"retention_days"`
}

// TierOverride replaces the default daily limit for a subscription tier.
// IsUnlimited wins over DailyLimit.
type TierOverride struct {
	DailyLimit  int  `json:"daily_limit"`
	IsUnlimited bool `json:"is_unlimited"`
}

// Config is the process-wide rate limit configuration. It is read on
// every request and mutated only through the admin path.
type Config struct {
	ID            int64                   `json:"id" db:"id"`
	Name          string                  `json:"name" db:"name"`
	IsEnabled     bool                    `json:"is_enabled" db:"is_enabled"`
	DailyLimit    int                     `json:"daily_limit" db:"daily_limit"`
	Modules       map[string]ModuleRule   `json:"modules" db:"modules"`
	Burst         BurstSettings           `json:"burst_settings" db:"burst_settings"`
	Warnings      []WarningThreshold      `json:"warning_thresholds" db:"warning_thresholds"`
	Overrides     OverrideSettings        `json:"override_settings" db:"override_settings"`
	Monitoring    MonitoringSettings      `json:"monitoring_settings" db:"monitoring_settings"`
	TierOverrides map[string]TierOverride `json:"tier_overrides" db:"tier_overrides"`
	UpdatedBy     sql.NullString          `json:"updated_by" db:"updated_by"`
	CreatedAt     time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at" db:"updated_at"`
}

// EffectiveLimit resolves the daily limit for a subscription tier.
// The second return reports an unlimited tier.
func (c *Config) EffectiveLimit(tier string) (int, bool) {
	if ov, ok := c.TierOverrides[tier]; ok {
		if ov.IsUnlimited {
			return 0, true
		}
		return ov.DailyLimit, false
	}
	return c.DailyLimit, false
}

// ModuleWeight resolves the quota cost of one request to a module.
// Unknown modules are treated as unrestricted.
func (c *Config) ModuleWeight(moduleID string) (int, bool) {
	rule, ok := c.Modules[moduleID]
	if !ok || !rule.IsRestricted {
		return 0, false
	}
	w := rule.Weight
	if w < 1 {
		w = 1
	}
	return w, true
}

// ModuleUsage is one module's accumulated weighted count for the day.
type ModuleUsage struct {
	ModuleID string `json:"module_id"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
}

// BurstUsage tracks the rolling burst allowance for a day row.
type BurstUsage struct {
	CurrentBurst  int          `json:"current_burst"`
	LastBurstUsed sql.NullTime `json:"last_burst_used"`
	CooldownUntil sql.NullTime `json:"cooldown_until"`
}

// DailyUsage is one row per (user, calendar date in the business
// timezone). TotalUsage only grows within a day; a new day means a new
// row, never an in-place reset.
type DailyUsage struct {
	ID             int64          `json:"id" db:"id"`
	UserID         int64          `json:"user_id" db:"user_id"`
	UsageDate      string         `json:"usage_date" db:"usage_date"` // YYYY-MM-DD in business TZ
	TotalUsage     int            `json:"total_usage" db:"total_usage"`
	DailyLimit     int            `json:"daily_limit" db:"daily_limit"`
	ModuleUsage    []ModuleUsage  `json:"module_usage" db:"module_usage"`
	IsBlocked      bool           `json:"is_blocked" db:"is_blocked"`
	BlockReason    sql.NullString `json:"block_reason" db:"block_reason"`
	BlockedAt      sql.NullTime   `json:"blocked_at" db:"blocked_at"`
	Burst          BurstUsage     `json:"burst_usage" db:"burst_usage"`
	WarningsIssued []int          `json:"warnings_issued" db:"warnings_issued"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// WarningIssued reports whether the given percentage threshold has
// already been surfaced today.
func (u *DailyUsage) WarningIssued(percentage int) bool {
	for _, p := range u.WarningsIssued {
		if p == percentage {
			return true
		}
	}
	return false
}

// SharingSuspect is one row of the advisory anti-sharing report.
type SharingSuspect struct {
	UserID       int64   `json:"user_id"`
	Email        string  `json:"email"`
	Days         int     `json:"days"`
	DaysOverRate int     `json:"days_over_threshold"`
	AvgRatio     float64 `json:"avg_usage_ratio"`
}
