package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inkgen-service/internal/domain/audit"
	rl "inkgen-service/internal/domain/ratelimit"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memUsageStore is an in-memory UsageStore mirroring the accumulate-at-
// storage semantics of the SQL implementation.
type memUsageStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*rl.DailyUsage
	byID   map[int64]*rl.DailyUsage

	getOrCreateErr error
	recordErr      error
	suspects       []rl.SharingSuspect
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{
		rows: make(map[string]*rl.DailyUsage),
		byID: make(map[int64]*rl.DailyUsage),
	}
}

func usageKey(userID int64, date string) string {
	return fmt.Sprintf("%d|%s", userID, date)
}

func (s *memUsageStore) GetOrCreate(ctx context.Context, userID int64, date string, dailyLimit int) (*rl.DailyUsage, error) {
	if s.getOrCreateErr != nil {
		return nil, s.getOrCreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[usageKey(userID, date)]; ok {
		cp := *row
		return &cp, nil
	}
	s.nextID++
	row := &rl.DailyUsage{
		ID:         s.nextID,
		UserID:     userID,
		UsageDate:  date,
		DailyLimit: dailyLimit,
	}
	s.rows[usageKey(userID, date)] = row
	s.byID[row.ID] = row
	cp := *row
	return &cp, nil
}

func (s *memUsageStore) Get(ctx context.Context, userID int64, date string) (*rl.DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[usageKey(userID, date)]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memUsageStore) RecordUsage(ctx context.Context, id int64, moduleID, moduleName string, weight int) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID[id]
	row.TotalUsage += weight
	for i := range row.ModuleUsage {
		if row.ModuleUsage[i].ModuleID == moduleID {
			row.ModuleUsage[i].Count += weight
			return nil
		}
	}
	row.ModuleUsage = append(row.ModuleUsage, rl.ModuleUsage{ModuleID: moduleID, Name: moduleName, Count: weight})
	return nil
}

func (s *memUsageStore) MarkWarningIssued(ctx context.Context, id int64, percentage int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID[id]
	for _, p := range row.WarningsIssued {
		if p == percentage {
			return false, nil
		}
	}
	row.WarningsIssued = append(row.WarningsIssued, percentage)
	return true, nil
}

func (s *memUsageStore) RecordBurst(ctx context.Context, id int64, windowStart, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID[id]
	if !row.Burst.LastBurstUsed.Valid || row.Burst.LastBurstUsed.Time.Before(windowStart) {
		row.Burst.CurrentBurst = 1
	} else {
		row.Burst.CurrentBurst++
	}
	row.Burst.LastBurstUsed.Time, row.Burst.LastBurstUsed.Valid = now, true
	return row.Burst.CurrentBurst, nil
}

func (s *memUsageStore) StartCooldown(ctx context.Context, id int64, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.byID[id]
	row.Burst.CooldownUntil.Time, row.Burst.CooldownUntil.Valid = until, true
	return nil
}

func (s *memUsageStore) SetBlocked(ctx context.Context, userID int64, date string, blocked bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[usageKey(userID, date)]
	if !ok {
		return xerrors.ErrNotFound
	}
	row.IsBlocked = blocked
	row.BlockReason.String, row.BlockReason.Valid = reason, blocked
	return nil
}

func (s *memUsageStore) DeleteOlderThan(ctx context.Context, cutoffDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, row := range s.rows {
		if row.UsageDate < cutoffDate {
			delete(s.rows, key)
			delete(s.byID, row.ID)
			n++
		}
	}
	return n, nil
}

func (s *memUsageStore) SharingReport(ctx context.Context, sinceDate string, threshold float64) ([]rl.SharingSuspect, error) {
	return s.suspects, nil
}

type memAuditSink struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAuditSink) Record(userID int64, actor, action, description string, metadata map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func testConfig() *rl.Config {
	return &rl.Config{
		Name:       rl.DefaultConfigName,
		IsEnabled:  true,
		DailyLimit: 100,
		Modules: map[string]rl.ModuleRule{
			"blog":    {Name: "Blog Writer", Weight: 10, IsRestricted: true},
			"haiku":   {Name: "Haiku", Weight: 1, IsRestricted: true},
			"sandbox": {Name: "Sandbox", IsRestricted: false},
		},
		Burst: rl.BurstSettings{
			IsEnabled:          true,
			BurstLimit:         3,
			BurstWindowMinutes: 10,
			CooldownMinutes:    30,
		},
		Warnings: []rl.WarningThreshold{
			{Percentage: 80, Message: "80% of your daily quota is used", IsActive: true},
			{Percentage: 50, Message: "half of your daily quota is used", IsActive: true},
			{Percentage: 95, Message: "quota nearly exhausted", IsActive: false},
		},
		Monitoring: rl.MonitoringSettings{RetentionDays: 30},
		TierOverrides: map[string]rl.TierOverride{
			"enterprise": {IsUnlimited: true},
			"pro":        {DailyLimit: 200},
		},
	}
}

func newTestLimiter(t *testing.T, cfg *rl.Config, store UsageStore, now *time.Time) *Limiter {
	t.Helper()
	return NewLimiter(NewStaticSource(cfg), store, time.UTC, zap.NewNop(),
		WithClock(func() time.Time { return *now }))
}

func TestCheckAndRecord_WeightedDailyLimit(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.Burst.IsEnabled = false
	l := newTestLimiter(t, cfg, store, &now)

	// 10 blog requests at weight 10 fill a limit of 100 exactly.
	for i := 1; i <= 10; i++ {
		res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err, "request %d", i)
		require.True(t, res.Allowed)
		assert.True(t, res.Counted)
		assert.Equal(t, 10, res.Weight)
		assert.Equal(t, i*10, res.Status.TotalUsage)
		assert.Equal(t, 100-i*10, res.Status.Remaining)
	}

	// The 11th is refused with a full snapshot and remediation hints.
	res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	assert.Nil(t, res)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindDailyLimitExceeded, le.Kind)
	require.NotNil(t, le.Status)
	assert.Equal(t, 100, le.Status.TotalUsage)
	assert.Zero(t, le.Status.Remaining)
	assert.NotEmpty(t, le.Remedies)

	// A cheaper module still fits nothing: 100 + 1 > 100.
	_, err = l.CheckAndRecord(ctx, 1, "free", "haiku")
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindDailyLimitExceeded, le.Kind)
}

func TestCheckAndRecord_UncountedPaths(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("globally disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.IsEnabled = false
		l := newTestLimiter(t, cfg, newMemUsageStore(), &now)

		res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.False(t, res.Counted)
	})

	t.Run("unrestricted module", func(t *testing.T) {
		l := newTestLimiter(t, testConfig(), newMemUsageStore(), &now)

		res, err := l.CheckAndRecord(ctx, 1, "free", "sandbox")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.False(t, res.Counted)
	})

	t.Run("unknown module", func(t *testing.T) {
		l := newTestLimiter(t, testConfig(), newMemUsageStore(), &now)

		res, err := l.CheckAndRecord(ctx, 1, "free", "does-not-exist")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.False(t, res.Counted)
	})

	t.Run("unlimited tier", func(t *testing.T) {
		store := newMemUsageStore()
		l := newTestLimiter(t, testConfig(), store, &now)

		for i := 0; i < 50; i++ {
			res, err := l.CheckAndRecord(ctx, 1, "enterprise", "blog")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.False(t, res.Counted)
			assert.True(t, res.Status.IsUnlimited)
		}
		assert.Empty(t, store.rows)
	})
}

func TestCheckAndRecord_Maintenance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.Overrides.MaintenanceMode = rl.MaintenanceMode{IsEnabled: true, Message: "back soon"}
	l := newTestLimiter(t, cfg, newMemUsageStore(), &now)

	_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindServiceMaintenance, le.Kind)
	assert.Equal(t, "back soon", le.Message)
	assert.Greater(t, le.RetryAfter, time.Duration(0))
}

func TestCheckAndRecord_BurstAndCooldown(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	// Fill the daily budget.
	for i := 0; i < 10; i++ {
		_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
	}

	// Three more go through on burst.
	for i := 1; i <= 3; i++ {
		res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err, "burst %d", i)
		assert.True(t, res.UsedBurst)
	}

	// Burst exhausted: cooldown refuses the next one.
	_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindDailyLimitExceeded, le.Kind)

	// Still refused while the cooldown runs, even after the rolling
	// window has lapsed.
	now = now.Add(15 * time.Minute)
	_, err = l.CheckAndRecord(ctx, 1, "free", "blog")
	require.ErrorAs(t, err, &le)

	// Cooldown over and window lapsed: the burst counter starts fresh.
	now = now.Add(20 * time.Minute)
	res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.True(t, res.UsedBurst)
}

func TestLimiter_AuditTrail(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	sink := &memAuditSink{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(NewStaticSource(testConfig()), store, time.UTC, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithAudit(sink))

	for i := 0; i < 10; i++ {
		_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
	}

	require.NoError(t, l.BlockUser(ctx, 1, "free", "abuse", "admin:9"))
	require.NoError(t, l.UnblockUser(ctx, 1, "admin:9"))

	assert.Equal(t, []string{
		audit.ActionBurstAllowed,
		audit.ActionBurstAllowed,
		audit.ActionBurstAllowed,
		audit.ActionCooldownStarted,
		audit.ActionUserBlocked,
		audit.ActionUserUnblocked,
	}, sink.actions)
}

func TestCheckAndRecord_WarningsAreOneShot(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	// 40% used: quiet.
	for i := 0; i < 4; i++ {
		res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
		assert.Nil(t, res.Warning)
	}

	// Crossing 50% fires that threshold exactly once.
	res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, 50, res.Warning.Percentage)

	res, err = l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.Nil(t, res.Warning)

	// Jumping past 80 fires the 80 threshold; the inactive 95 never fires.
	for i := 0; i < 2; i++ {
		res, err = l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
	}
	require.NotNil(t, res.Warning)
	assert.Equal(t, 80, res.Warning.Percentage)

	for i := 0; i < 2; i++ {
		res, err = l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)
		assert.Nil(t, res.Warning)
	}
}

func TestCheckAndRecord_WarningsCrossedTogetherSurfaceInTurn(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.Modules["video"] = rl.ModuleRule{Name: "Video", Weight: 90, IsRestricted: true}
	l := newTestLimiter(t, cfg, store, &now)

	// One request jumps straight to 90%, past both 50 and 80. Only the
	// lowest is surfaced and consumed; 80 must stay deliverable.
	res, err := l.CheckAndRecord(ctx, 1, "free", "video")
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, 50, res.Warning.Percentage)

	row, err := store.Get(ctx, 1, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, []int{50}, row.WarningsIssued)

	// The next request delivers the 80 message.
	res, err = l.CheckAndRecord(ctx, 1, "free", "haiku")
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, 80, res.Warning.Percentage)

	// And then quiet.
	res, err = l.CheckAndRecord(ctx, 1, "free", "haiku")
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
}

func TestCheckAndRecord_BlockedUser(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	_, err := l.CheckAndRecord(ctx, 1, "free", "haiku")
	require.NoError(t, err)

	require.NoError(t, l.BlockUser(ctx, 1, "free", "abuse investigation", "admin:9"))

	_, err = l.CheckAndRecord(ctx, 1, "free", "haiku")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindAccountBlocked, le.Kind)
	assert.Equal(t, "abuse investigation", le.Message)
	assert.NotEmpty(t, le.Remedies)

	require.NoError(t, l.UnblockUser(ctx, 1, "admin:9"))
	_, err = l.CheckAndRecord(ctx, 1, "free", "haiku")
	assert.NoError(t, err)
}

func TestCheckAndRecord_FailsOpenOnStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	store.getOrCreateErr = errors.New("connection refused")
	res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)

	store.getOrCreateErr = nil
	store.recordErr = errors.New("write timeout")
	res, err = l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)
}

func TestCheckAndRecord_DayBoundaryInBusinessTimezone(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC) // 23:00 in ICT
	loc := time.FixedZone("ICT", 7*3600)
	l := NewLimiter(NewStaticSource(testConfig()), store, loc, zap.NewNop(),
		WithClock(func() time.Time { return now }))

	res, err := l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", res.Status.Date)
	assert.Equal(t, 10, res.Status.TotalUsage)

	// Two hours later it is already the next day in the business
	// timezone: a fresh row, fresh quota.
	now = now.Add(2 * time.Hour) // 01:00 ICT on the 11th
	res, err = l.CheckAndRecord(ctx, 1, "free", "blog")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", res.Status.Date)
	assert.Equal(t, 10, res.Status.TotalUsage)
}

func TestUsageStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	t.Run("no usage yet", func(t *testing.T) {
		status, err := l.UsageStatus(ctx, 1, "free")
		require.NoError(t, err)
		assert.Zero(t, status.TotalUsage)
		assert.Equal(t, 100, status.DailyLimit)
		assert.Equal(t, 100, status.Remaining)
	})

	t.Run("pro tier override", func(t *testing.T) {
		status, err := l.UsageStatus(ctx, 1, "pro")
		require.NoError(t, err)
		assert.Equal(t, 200, status.DailyLimit)
	})

	t.Run("unlimited tier", func(t *testing.T) {
		status, err := l.UsageStatus(ctx, 1, "enterprise")
		require.NoError(t, err)
		assert.True(t, status.IsUnlimited)
	})

	t.Run("after usage", func(t *testing.T) {
		_, err := l.CheckAndRecord(ctx, 1, "free", "blog")
		require.NoError(t, err)

		status, err := l.UsageStatus(ctx, 1, "free")
		require.NoError(t, err)
		assert.Equal(t, 10, status.TotalUsage)
		assert.Equal(t, 90, status.Remaining)
		assert.Equal(t, 10, status.Percentage)
		require.Len(t, status.ModuleUsage, 1)
		assert.Equal(t, "blog", status.ModuleUsage[0].ModuleID)
		require.NotNil(t, status.Burst)
		assert.Equal(t, 3, status.Burst.BurstLimit)
	})
}

func TestResetDailyUsage_RetentionSweep(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	_, err := store.GetOrCreate(ctx, 1, "2026-01-01", 100)
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, 1, "2026-03-01", 100)
	require.NoError(t, err)

	n, err := l.ResetDailyUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, store.rows, 1)
}

func TestDetectPotentialSharing_Defaults(t *testing.T) {
	ctx := context.Background()
	store := newMemUsageStore()
	store.suspects = []rl.SharingSuspect{
		{UserID: 42, Email: "shared@example.com", Days: 7, DaysOverRate: 6, AvgRatio: 0.93},
	}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, testConfig(), store, &now)

	suspects, err := l.DetectPotentialSharing(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, suspects, 1)
	assert.Equal(t, int64(42), suspects[0].UserID)
}
