// internal/service/admin/admin.go
package admin

import (
	"context"
	"fmt"

	auditdomain "inkgen-service/internal/domain/audit"
	creditsdomain "inkgen-service/internal/domain/credits"
	rl "inkgen-service/internal/domain/ratelimit"
	sessiondomain "inkgen-service/internal/domain/session"
	"inkgen-service/internal/pkg/ratelimit"
	"inkgen-service/internal/pkg/session"
	"inkgen-service/internal/repository/postgres"

	"go.uber.org/zap"
)

// AuditSink matches the best-effort audit contract of the core packages.
type AuditSink interface {
	Record(userID int64, actor, action, description string, metadata map[string]interface{})
}

// WalletCreditor tops up user wallets, implemented by the credits
// service.
type WalletCreditor interface {
	Credit(ctx context.Context, userID, amount int64, typ creditsdomain.TransactionType, description, referenceNo string) (*creditsdomain.Transaction, error)
}

// AdminService groups the operator surface: rate limit configuration,
// user blocking, forced logouts and the sharing report.
type AdminService struct {
	configRepo     *postgres.RateLimitConfigRepository
	configSource   ratelimit.ConfigSource
	limiter        *ratelimit.Limiter
	sessionManager *session.Manager
	authRepo       *postgres.AuthRepository
	credits        WalletCreditor
	audit          AuditSink
	logger         *zap.Logger
}

func NewAdminService(
	configRepo *postgres.RateLimitConfigRepository,
	configSource ratelimit.ConfigSource,
	limiter *ratelimit.Limiter,
	sessionManager *session.Manager,
	authRepo *postgres.AuthRepository,
	credits WalletCreditor,
	auditSink AuditSink,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		configRepo:     configRepo,
		configSource:   configSource,
		limiter:        limiter,
		sessionManager: sessionManager,
		authRepo:       authRepo,
		credits:        credits,
		audit:          auditSink,
		logger:         logger,
	}
}

// GetConfig returns the persisted configuration, bypassing the cache so
// admins always see the source of truth.
func (s *AdminService) GetConfig(ctx context.Context) (*rl.Config, error) {
	return s.configRepo.GetByName(ctx, rl.DefaultConfigName)
}

// UpdateConfig applies a partial update to the effective configuration.
// Nil sections of the request are left untouched. The config cache is
// refreshed so the new values take effect on the next request.
func (s *AdminService) UpdateConfig(ctx context.Context, req *rl.UpdateConfigRequest, actor string) (*rl.Config, error) {
	cfg, err := s.configRepo.GetByName(ctx, rl.DefaultConfigName)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	maintenanceChanged := false

	if req.IsEnabled != nil {
		cfg.IsEnabled = *req.IsEnabled
	}
	if req.DailyLimit != nil {
		cfg.DailyLimit = *req.DailyLimit
	}
	if req.Modules != nil {
		cfg.Modules = req.Modules
	}
	if req.Burst != nil {
		cfg.Burst = *req.Burst
	}
	if req.Warnings != nil {
		cfg.Warnings = req.Warnings
	}
	if req.Maintenance != nil {
		maintenanceChanged = cfg.Overrides.MaintenanceMode.IsEnabled != req.Maintenance.IsEnabled
		cfg.Overrides.MaintenanceMode = *req.Maintenance
	}
	if req.RetentionDays != nil {
		cfg.Monitoring.RetentionDays = *req.RetentionDays
	}
	if req.TierOverrides != nil {
		cfg.TierOverrides = req.TierOverrides
	}
	cfg.UpdatedBy.String, cfg.UpdatedBy.Valid = actor, actor != ""

	if err := s.configRepo.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	if err := s.configSource.Refresh(ctx); err != nil {
		s.logger.Warn("failed to refresh config cache", zap.Error(err))
	}

	s.recordAudit(0, actor, auditdomain.ActionConfigUpdated, "rate limit config updated", nil)
	if maintenanceChanged {
		s.recordAudit(0, actor, auditdomain.ActionMaintenanceState,
			fmt.Sprintf("maintenance mode enabled=%t", cfg.Overrides.MaintenanceMode.IsEnabled), nil)
	}

	return cfg, nil
}

// BlockUser blocks the user's current usage day. The target's tier is
// resolved here so the block snapshots the right limit.
func (s *AdminService) BlockUser(ctx context.Context, userID int64, reason, actor string) error {
	user, err := s.authRepo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return s.limiter.BlockUser(ctx, userID, user.Tier, reason, actor)
}

// UnblockUser lifts a manual block.
func (s *AdminService) UnblockUser(ctx context.Context, userID int64, actor string) error {
	return s.limiter.UnblockUser(ctx, userID, actor)
}

// GrantCredits tops up a user's wallet (manual adjustment, recorded
// in the ledger and the audit trail).
func (s *AdminService) GrantCredits(ctx context.Context, userID int64, req *creditsdomain.GrantCreditsRequest, actor string) (*creditsdomain.Transaction, error) {
	if _, err := s.authRepo.FindUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	t, err := s.credits.Credit(ctx, userID, req.Amount, creditsdomain.TransactionAdjustment, req.Description, req.ReferenceNo)
	if err != nil {
		return nil, err
	}

	s.recordAudit(userID, actor, auditdomain.ActionCreditsGranted,
		fmt.Sprintf("%d credits granted", req.Amount),
		map[string]interface{}{"transaction_id": t.ID})
	return t, nil
}

// ForceLogout terminates all active sessions of a user.
func (s *AdminService) ForceLogout(ctx context.Context, userID int64, actor string) (int64, error) {
	return s.sessionManager.ForceLogoutAll(ctx, userID, sessiondomain.ReasonAdminForceLogout, actor)
}

// SharingReport returns the advisory list of accounts whose usage
// pattern suggests credential sharing.
func (s *AdminService) SharingReport(ctx context.Context, days int, threshold float64) ([]rl.SharingSuspect, error) {
	return s.limiter.DetectPotentialSharing(ctx, days, threshold)
}

// UsageStatus exposes another user's usage snapshot to operators.
func (s *AdminService) UsageStatus(ctx context.Context, userID int64) (*rl.UsageStatus, error) {
	user, err := s.authRepo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return s.limiter.UsageStatus(ctx, userID, user.Tier)
}

func (s *AdminService) recordAudit(userID int64, actor, action, description string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(userID, actor, action, description, metadata)
}
