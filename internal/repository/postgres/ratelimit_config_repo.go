// internal/repository/postgres/ratelimit_config_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rl "inkgen-service/internal/domain/ratelimit"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitConfigRepository persists the singleton rate-limit config.
// The structured sections live in jsonb columns.
type RateLimitConfigRepository struct {
	db *pgxpool.Pool
}

func NewRateLimitConfigRepository(db *pgxpool.Pool) *RateLimitConfigRepository {
	return &RateLimitConfigRepository{db: db}
}

func (r *RateLimitConfigRepository) GetByName(ctx context.Context, name string) (*rl.Config, error) {
	query := `
		SELECT id, name, is_enabled, daily_limit,
		       modules, burst_settings, warning_thresholds,
		       override_settings, monitoring_settings, tier_overrides,
		       updated_by, created_at, updated_at
		FROM rate_limit_configs
		WHERE name = $1
	`

	var cfg rl.Config
	var modulesJSON, burstJSON, warningsJSON, overridesJSON, monitoringJSON, tiersJSON []byte

	err := r.db.QueryRow(ctx, query, name).Scan(
		&cfg.ID, &cfg.Name, &cfg.IsEnabled, &cfg.DailyLimit,
		&modulesJSON, &burstJSON, &warningsJSON,
		&overridesJSON, &monitoringJSON, &tiersJSON,
		&cfg.UpdatedBy, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find rate limit config: %w", err)
	}

	for _, part := range []struct {
		data []byte
		dst  interface{}
	}{
		{modulesJSON, &cfg.Modules},
		{burstJSON, &cfg.Burst},
		{warningsJSON, &cfg.Warnings},
		{overridesJSON, &cfg.Overrides},
		{monitoringJSON, &cfg.Monitoring},
		{tiersJSON, &cfg.TierOverrides},
	} {
		if len(part.data) == 0 {
			continue
		}
		if err := json.Unmarshal(part.data, part.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config section: %w", err)
		}
	}

	return &cfg, nil
}

// Save upserts the config by name.
func (r *RateLimitConfigRepository) Save(ctx context.Context, cfg *rl.Config) error {
	modulesJSON, err := json.Marshal(cfg.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}
	burstJSON, err := json.Marshal(cfg.Burst)
	if err != nil {
		return fmt.Errorf("failed to marshal burst settings: %w", err)
	}
	warningsJSON, err := json.Marshal(cfg.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warning thresholds: %w", err)
	}
	overridesJSON, err := json.Marshal(cfg.Overrides)
	if err != nil {
		return fmt.Errorf("failed to marshal override settings: %w", err)
	}
	monitoringJSON, err := json.Marshal(cfg.Monitoring)
	if err != nil {
		return fmt.Errorf("failed to marshal monitoring settings: %w", err)
	}
	tiersJSON, err := json.Marshal(cfg.TierOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal tier overrides: %w", err)
	}

	query := `
		INSERT INTO rate_limit_configs (
			name, is_enabled, daily_limit, modules, burst_settings,
			warning_thresholds, override_settings, monitoring_settings,
			tier_overrides, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			daily_limit = EXCLUDED.daily_limit,
			modules = EXCLUDED.modules,
			burst_settings = EXCLUDED.burst_settings,
			warning_thresholds = EXCLUDED.warning_thresholds,
			override_settings = EXCLUDED.override_settings,
			monitoring_settings = EXCLUDED.monitoring_settings,
			tier_overrides = EXCLUDED.tier_overrides,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(
		ctx, query,
		cfg.Name, cfg.IsEnabled, cfg.DailyLimit, modulesJSON, burstJSON,
		warningsJSON, overridesJSON, monitoringJSON, tiersJSON, cfg.UpdatedBy,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rate limit config: %w", err)
	}

	return nil
}
