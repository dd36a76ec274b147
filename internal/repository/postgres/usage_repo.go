// internal/repository/postgres/usage_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	rl "inkgen-service/internal/domain/ratelimit"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// UsageRepository persists the per-user-per-day usage accumulators.
// All counter mutations accumulate in SQL (+= weight) so concurrent
// requests for the same user never lose updates.
type UsageRepository struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

const usageColumns = `
	id, user_id, usage_date::text, total_usage, daily_limit, module_usage,
	is_blocked, block_reason, blocked_at,
	burst_current, last_burst_used, cooldown_until,
	warnings_issued, created_at, updated_at
`

// moduleCounts is the storage shape of the module_usage jsonb column:
// a map keyed by module id.
type moduleCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (r *UsageRepository) GetOrCreate(ctx context.Context, userID int64, date string, dailyLimit int) (*rl.DailyUsage, error) {
	// The no-op DO UPDATE makes RETURNING yield the existing row on
	// conflict, so first-of-the-day creation is race-free.
	query := `
		INSERT INTO daily_usage_limits (user_id, usage_date, total_usage, daily_limit, module_usage, warnings_issued)
		VALUES ($1, $2, 0, $3, '{}'::jsonb, '{}')
		ON CONFLICT (user_id, usage_date) DO UPDATE SET updated_at = NOW()
		RETURNING ` + usageColumns

	return r.scanOne(r.db.QueryRow(ctx, query, userID, date, dailyLimit))
}

func (r *UsageRepository) Get(ctx context.Context, userID int64, date string) (*rl.DailyUsage, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM daily_usage_limits
		WHERE user_id = $1 AND usage_date = $2
	`

	return r.scanOne(r.db.QueryRow(ctx, query, userID, date))
}

func (r *UsageRepository) RecordUsage(ctx context.Context, id int64, moduleID, moduleName string, weight int) error {
	query := `
		UPDATE daily_usage_limits
		SET total_usage = total_usage + $2,
		    module_usage = jsonb_set(
		        COALESCE(module_usage, '{}'::jsonb),
		        ARRAY[$3::text],
		        jsonb_build_object(
		            'name', $4::text,
		            'count', COALESCE((module_usage #>> ARRAY[$3::text, 'count'])::int, 0) + $2
		        )
		    ),
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, weight, moduleID, moduleName)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// MarkWarningIssued is the one-shot guard: the append only happens if
// the percentage is not already present, and the caller learns whether
// this call won.
func (r *UsageRepository) MarkWarningIssued(ctx context.Context, id int64, percentage int) (bool, error) {
	query := `
		UPDATE daily_usage_limits
		SET warnings_issued = array_append(warnings_issued, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(warnings_issued))
	`

	tag, err := r.db.Exec(ctx, query, id, percentage)
	if err != nil {
		return false, fmt.Errorf("failed to mark warning issued: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordBurst resets the counter when the previous burst fell outside
// the rolling window, otherwise increments it.
func (r *UsageRepository) RecordBurst(ctx context.Context, id int64, windowStart, now time.Time) (int, error) {
	query := `
		UPDATE daily_usage_limits
		SET burst_current = CASE
		        WHEN last_burst_used IS NULL OR last_burst_used < $2 THEN 1
		        ELSE burst_current + 1
		    END,
		    last_burst_used = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING burst_current
	`

	var current int
	if err := r.db.QueryRow(ctx, query, id, windowStart, now).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to record burst: %w", err)
	}
	return current, nil
}

func (r *UsageRepository) StartCooldown(ctx context.Context, id int64, until time.Time) error {
	query := `
		UPDATE daily_usage_limits
		SET cooldown_until = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, until)
	return err
}

func (r *UsageRepository) SetBlocked(ctx context.Context, userID int64, date string, blocked bool, reason string) error {
	query := `
		UPDATE daily_usage_limits
		SET is_blocked = $3,
		    block_reason = NULLIF($4, ''),
		    blocked_at = CASE WHEN $3 THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE user_id = $1 AND usage_date = $2
	`

	tag, err := r.db.Exec(ctx, query, userID, date, blocked, reason)
	if err != nil {
		return fmt.Errorf("failed to update block state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *UsageRepository) DeleteOlderThan(ctx context.Context, cutoffDate string) (int64, error) {
	query := `DELETE FROM daily_usage_limits WHERE usage_date < $1`

	tag, err := r.db.Exec(ctx, query, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *UsageRepository) SharingReport(ctx context.Context, sinceDate string, threshold float64) ([]rl.SharingSuspect, error) {
	query := `
		SELECT u.user_id,
		       COALESCE(us.email, ''),
		       COUNT(*) AS days,
		       COUNT(*) FILTER (WHERE u.daily_limit > 0 AND u.total_usage::float / u.daily_limit >= $2) AS days_over,
		       AVG(CASE WHEN u.daily_limit > 0 THEN u.total_usage::float / u.daily_limit ELSE 0 END) AS avg_ratio
		FROM daily_usage_limits u
		LEFT JOIN users us ON us.id = u.user_id
		WHERE u.usage_date >= $1
		GROUP BY u.user_id, us.email
		HAVING COUNT(*) FILTER (WHERE u.daily_limit > 0 AND u.total_usage::float / u.daily_limit >= $2) > 0
		ORDER BY avg_ratio DESC
	`

	rows, err := r.db.Query(ctx, query, sinceDate, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to run sharing report: %w", err)
	}
	defer rows.Close()

	var suspects []rl.SharingSuspect
	for rows.Next() {
		var s rl.SharingSuspect
		if err := rows.Scan(&s.UserID, &s.Email, &s.Days, &s.DaysOverRate, &s.AvgRatio); err != nil {
			return nil, fmt.Errorf("failed to scan sharing row: %w", err)
		}
		suspects = append(suspects, s)
	}

	return suspects, rows.Err()
}

func (r *UsageRepository) scanOne(row pgx.Row) (*rl.DailyUsage, error) {
	var u rl.DailyUsage
	var moduleJSON []byte
	var warnings pq.Int64Array

	err := row.Scan(
		&u.ID, &u.UserID, &u.UsageDate, &u.TotalUsage, &u.DailyLimit, &moduleJSON,
		&u.IsBlocked, &u.BlockReason, &u.BlockedAt,
		&u.Burst.CurrentBurst, &u.Burst.LastBurstUsed, &u.Burst.CooldownUntil,
		&warnings, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan usage row: %w", err)
	}

	if len(moduleJSON) > 0 {
		counts := map[string]moduleCount{}
		if err := json.Unmarshal(moduleJSON, &counts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal module usage: %w", err)
		}
		for id, c := range counts {
			u.ModuleUsage = append(u.ModuleUsage, rl.ModuleUsage{ModuleID: id, Name: c.Name, Count: c.Count})
		}
		sort.Slice(u.ModuleUsage, func(i, j int) bool {
			return u.ModuleUsage[i].ModuleID < u.ModuleUsage[j].ModuleID
		})
	}

	u.WarningsIssued = make([]int, 0, len(warnings))
	for _, w := range warnings {
		u.WarningsIssued = append(u.WarningsIssued, int(w))
	}

	return &u, nil
}
