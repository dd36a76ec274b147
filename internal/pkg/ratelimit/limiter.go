// internal/pkg/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"inkgen-service/internal/domain/audit"
	rl "inkgen-service/internal/domain/ratelimit"
	xerrors "inkgen-service/internal/pkg/errors"

	"go.uber.org/zap"
)

const maintenanceRetryAfter = 5 * time.Minute

// Limiter enforces the weighted daily budget per user with the
// burst-and-cooldown escape valve and one-shot usage warnings.
//
// Failure policy: availability over strict enforcement. Any internal
// error inside a check allows the request through and is only logged.
type Limiter struct {
	config ConfigSource
	store  UsageStore
	audit  AuditSink
	logger *zap.Logger

	loc *time.Location
	now func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithAudit attaches an audit sink.
func WithAudit(a AuditSink) Option {
	return func(l *Limiter) { l.audit = a }
}

// NewLimiter builds a limiter. loc is the business timezone the day
// boundary is computed in (not UTC, to align with operating hours).
func NewLimiter(config ConfigSource, store UsageStore, loc *time.Location, logger *zap.Logger, opts ...Option) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	l := &Limiter{
		config: config,
		store:  store,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndRecord decides one request and, when allowed and counted,
// records its weighted usage. Denials return *LimitError; internal
// failures return an allowed, fail-open Result with a nil error.
func (l *Limiter) CheckAndRecord(ctx context.Context, userID int64, tier, moduleID string) (*Result, error) {
	cfg, err := l.config.Current(ctx)
	if err != nil {
		return l.failOpen("load config", err), nil
	}

	// Globally disabled or unrestricted module: allow without counting.
	if !cfg.IsEnabled {
		return &Result{Allowed: true}, nil
	}
	weight, restricted := cfg.ModuleWeight(moduleID)
	if !restricted {
		return &Result{Allowed: true}, nil
	}

	if cfg.Overrides.MaintenanceMode.IsEnabled {
		msg := cfg.Overrides.MaintenanceMode.Message
		if msg == "" {
			msg = "service is under maintenance, please try again later"
		}
		return nil, &LimitError{
			Kind:       KindServiceMaintenance,
			Message:    msg,
			RetryAfter: maintenanceRetryAfter,
		}
	}

	limit, unlimited := cfg.EffectiveLimit(tier)
	if unlimited {
		return &Result{Allowed: true, Status: rl.UsageStatus{IsUnlimited: true}}, nil
	}

	now := l.now()
	date := l.dateOf(now)

	usage, err := l.store.GetOrCreate(ctx, userID, date, limit)
	if err != nil {
		return l.failOpen("load usage row", err), nil
	}

	if usage.IsBlocked {
		status := l.snapshot(usage, limit)
		reason := "account temporarily blocked"
		if usage.BlockReason.Valid {
			reason = usage.BlockReason.String
		}
		return nil, &LimitError{
			Kind:    KindAccountBlocked,
			Message: reason,
			Status:  &status,
			Remedies: []string{
				"contact support to review the block",
			},
		}
	}

	projected := usage.TotalUsage + weight
	moduleName := cfg.Modules[moduleID].Name

	if projected <= limit {
		warning := l.issueWarnings(ctx, cfg, usage, projected, limit)
		if err := l.store.RecordUsage(ctx, usage.ID, moduleID, moduleName, weight); err != nil {
			return l.failOpen("record usage", err), nil
		}
		usage.TotalUsage = projected
		return &Result{
			Allowed: true,
			Counted: true,
			Weight:  weight,
			Warning: warning,
			Status:  l.snapshot(usage, limit),
		}, nil
	}

	// Over the daily budget: burst is the only way through.
	if ok := l.burstEligible(cfg, usage, now); !ok {
		status := l.snapshot(usage, limit)
		return nil, &LimitError{
			Kind: KindDailyLimitExceeded,
			Message: fmt.Sprintf("daily limit reached (%d/%d), quota resets at midnight %s",
				usage.TotalUsage, limit, l.loc.String()),
			Status: &status,
			Remedies: []string{
				"wait for the daily quota to reset",
				"upgrade your subscription for a higher limit",
			},
		}
	}

	windowStart := now.Add(-time.Duration(cfg.Burst.BurstWindowMinutes) * time.Minute)
	current, err := l.store.RecordBurst(ctx, usage.ID, windowStart, now)
	if err != nil {
		return l.failOpen("record burst", err), nil
	}

	if err := l.store.RecordUsage(ctx, usage.ID, moduleID, moduleName, weight); err != nil {
		l.logger.Error("failed to record burst usage", zap.Int64("user_id", userID), zap.Error(err))
	}
	usage.TotalUsage = projected
	usage.Burst.CurrentBurst = current

	l.recordAudit(userID, audit.ActionBurstAllowed,
		fmt.Sprintf("burst allowance %d/%d used", current, cfg.Burst.BurstLimit),
		map[string]interface{}{"module_id": moduleID})

	// Reaching the burst limit starts the cooldown.
	if current >= cfg.Burst.BurstLimit {
		until := now.Add(time.Duration(cfg.Burst.CooldownMinutes) * time.Minute)
		if err := l.store.StartCooldown(ctx, usage.ID, until); err != nil {
			l.logger.Error("failed to start burst cooldown", zap.Int64("user_id", userID), zap.Error(err))
		} else {
			usage.Burst.CooldownUntil.Time, usage.Burst.CooldownUntil.Valid = until, true
			l.recordAudit(userID, audit.ActionCooldownStarted,
				fmt.Sprintf("burst cooldown until %s", until.Format(time.RFC3339)), nil)
		}
	}

	return &Result{
		Allowed:   true,
		Counted:   true,
		Weight:    weight,
		UsedBurst: true,
		Status:    l.snapshot(usage, limit),
	}, nil
}

// UsageStatus returns the read-only snapshot for UI display. A user
// with no row today gets zero usage and the full remaining quota.
func (l *Limiter) UsageStatus(ctx context.Context, userID int64, tier string) (*rl.UsageStatus, error) {
	cfg, err := l.config.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit config: %w", err)
	}

	date := l.dateOf(l.now())
	limit, unlimited := cfg.EffectiveLimit(tier)
	if unlimited {
		return &rl.UsageStatus{Date: date, IsUnlimited: true}, nil
	}

	usage, err := l.store.Get(ctx, userID, date)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return &rl.UsageStatus{
				Date:       date,
				DailyLimit: limit,
				Remaining:  limit,
			}, nil
		}
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	status := l.snapshot(usage, limit)
	status.ModuleUsage = usage.ModuleUsage
	if cfg.Burst.IsEnabled {
		snap := &rl.BurstSnapshot{
			CurrentBurst: usage.Burst.CurrentBurst,
			BurstLimit:   cfg.Burst.BurstLimit,
		}
		if usage.Burst.CooldownUntil.Valid {
			t := usage.Burst.CooldownUntil.Time
			snap.CooldownUntil = &t
		}
		status.Burst = snap
	}
	return &status, nil
}

// ResetDailyUsage is the retention sweep: rows older than the
// configured retention are deleted. The daily reset itself is implicit,
// a new day simply gets a new row.
func (l *Limiter) ResetDailyUsage(ctx context.Context) (int64, error) {
	cfg, err := l.config.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rate limit config: %w", err)
	}

	days := cfg.Monitoring.RetentionDays
	if days < 1 {
		days = 30
	}
	cutoff := l.dateOf(l.now().AddDate(0, 0, -days))
	return l.store.DeleteOlderThan(ctx, cutoff)
}

// DetectPotentialSharing flags users whose usage ratio exceeded the
// threshold across a trailing window. Advisory only, never blocks.
func (l *Limiter) DetectPotentialSharing(ctx context.Context, days int, threshold float64) ([]rl.SharingSuspect, error) {
	if days < 1 {
		days = 7
	}
	if threshold <= 0 {
		threshold = 0.85
	}
	since := l.dateOf(l.now().AddDate(0, 0, -days))
	return l.store.SharingReport(ctx, since, threshold)
}

// BlockUser marks today's row blocked (admin action).
func (l *Limiter) BlockUser(ctx context.Context, userID int64, tier, reason, actor string) error {
	cfg, err := l.config.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rate limit config: %w", err)
	}
	limit, _ := cfg.EffectiveLimit(tier)
	date := l.dateOf(l.now())

	if _, err := l.store.GetOrCreate(ctx, userID, date, limit); err != nil {
		return fmt.Errorf("failed to ensure usage row: %w", err)
	}
	if err := l.store.SetBlocked(ctx, userID, date, true, reason); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}

	l.recordAudit(userID, audit.ActionUserBlocked, reason, map[string]interface{}{"actor": actor})
	return nil
}

// UnblockUser clears the block on today's row (admin action).
func (l *Limiter) UnblockUser(ctx context.Context, userID int64, actor string) error {
	date := l.dateOf(l.now())
	if err := l.store.SetBlocked(ctx, userID, date, false, ""); err != nil {
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	l.recordAudit(userID, audit.ActionUserUnblocked, "usage block cleared", map[string]interface{}{"actor": actor})
	return nil
}

// burstEligible checks the escape valve: feature on, rolling-window
// usage under the limit, and no active cooldown.
func (l *Limiter) burstEligible(cfg *rl.Config, usage *rl.DailyUsage, now time.Time) bool {
	if !cfg.Burst.IsEnabled || cfg.Burst.BurstLimit < 1 {
		return false
	}

	if usage.Burst.CooldownUntil.Valid && usage.Burst.CooldownUntil.Time.After(now) {
		return false
	}

	current := usage.Burst.CurrentBurst
	window := time.Duration(cfg.Burst.BurstWindowMinutes) * time.Minute
	if !usage.Burst.LastBurstUsed.Valid || now.Sub(usage.Burst.LastBurstUsed.Time) > window {
		current = 0
	}

	return current < cfg.Burst.BurstLimit
}

// issueWarnings surfaces at most one newly crossed threshold per
// request, lowest first, each one-shot per day. A request that jumps
// several thresholds at once only consumes the one it surfaces; the
// rest fire on subsequent requests.
func (l *Limiter) issueWarnings(ctx context.Context, cfg *rl.Config, usage *rl.DailyUsage, projected, limit int) *rl.WarningThreshold {
	if limit <= 0 || len(cfg.Warnings) == 0 {
		return nil
	}

	pct := percentOf(projected, limit)

	thresholds := make([]rl.WarningThreshold, 0, len(cfg.Warnings))
	for _, w := range cfg.Warnings {
		if w.IsActive {
			thresholds = append(thresholds, w)
		}
	}
	sort.Slice(thresholds, func(i, j int) bool {
		return thresholds[i].Percentage < thresholds[j].Percentage
	})

	for i := range thresholds {
		w := thresholds[i]
		if pct < w.Percentage || usage.WarningIssued(w.Percentage) {
			continue
		}

		won, err := l.store.MarkWarningIssued(ctx, usage.ID, w.Percentage)
		if err != nil {
			l.logger.Warn("failed to mark warning issued",
				zap.Int64("usage_id", usage.ID), zap.Error(err))
			continue
		}
		if won {
			usage.WarningsIssued = append(usage.WarningsIssued, w.Percentage)
			return &w
		}
	}

	return nil
}

func (l *Limiter) snapshot(usage *rl.DailyUsage, limit int) rl.UsageStatus {
	remaining := limit - usage.TotalUsage
	if remaining < 0 {
		remaining = 0
	}
	return rl.UsageStatus{
		Date:       usage.UsageDate,
		TotalUsage: usage.TotalUsage,
		DailyLimit: limit,
		Remaining:  remaining,
		Percentage: percentOf(usage.TotalUsage, limit),
		IsBlocked:  usage.IsBlocked,
	}
}

func (l *Limiter) recordAudit(userID int64, action, description string, metadata map[string]interface{}) {
	if l.audit == nil {
		return
	}
	l.audit.Record(userID, "system", action, description, metadata)
}

// failOpen logs the internal error and lets the request through.
func (l *Limiter) failOpen(op string, err error) *Result {
	l.logger.Error("rate limiter internal error, failing open",
		zap.String("op", op),
		zap.Error(err),
	)
	return &Result{Allowed: true, FailedOpen: true}
}

func (l *Limiter) dateOf(t time.Time) string {
	return t.In(l.loc).Format("2006-01-02")
}

func percentOf(usage, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(usage) / float64(limit) * 100))
}
