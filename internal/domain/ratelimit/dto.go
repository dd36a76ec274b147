// internal/domain/ratelimit/dto.go
package ratelimit

import "time"

// UsageStatus is the read-only snapshot exposed to clients and the
// response headers of rate-limited routes.
type UsageStatus struct {
	UserID      int            `json:"-"`
	Date        string         `json:"date"`
	TotalUsage  int            `json:"total_usage"`
	DailyLimit  int            `json:"daily_limit"`
	Remaining   int            `json:"remaining"`
	Percentage  int            `json:"percentage"`
	IsUnlimited bool           `json:"is_unlimited"`
	IsBlocked   bool           `json:"is_blocked"`
	ModuleUsage []ModuleUsage  `json:"module_usage,omitempty"`
	Burst       *BurstSnapshot `json:"burst,omitempty"`
}

// BurstSnapshot mirrors the burst state for display.
type BurstSnapshot struct {
	CurrentBurst  int        `json:"current_burst"`
	BurstLimit    int        `json:"burst_limit"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// UpdateConfigRequest is the admin payload for config mutation.
// Nil sections are left unchanged.
type UpdateConfigRequest struct {
	IsEnabled     *bool                   `json:"is_enabled"`
	DailyLimit    *int                    `json:"daily_limit" binding:"omitempty,min=0"`
	Modules       map[string]ModuleRule   `json:"modules"`
	Burst         *BurstSettings          `json:"burst_settings"`
	Warnings      []WarningThreshold      `json:"warning_thresholds"`
	Maintenance   *MaintenanceMode        `json:"maintenance_mode"`
	RetentionDays *int                    `json:"retention_days" binding:"omitempty,min=1"`
	TierOverrides map[string]TierOverride `json:"tier_overrides"`
}

// BlockUserRequest is the admin payload for blocking a user's day row.
type BlockUserRequest struct {
	Reason string `json:"reason" binding:"required"`
}
