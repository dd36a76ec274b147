// internal/service/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"time"

	"inkgen-service/internal/domain/audit"
	"inkgen-service/internal/domain/auth"
	sessiondomain "inkgen-service/internal/domain/session"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/jwt"
	"inkgen-service/internal/pkg/session"
	"inkgen-service/internal/repository/postgres"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const failedLoginLockout = 15 * time.Minute

// AuditSink mirrors the core packages' best-effort audit contract.
type AuditSink interface {
	Record(userID int64, actor, action, description string, metadata map[string]interface{})
}

// SignupGranter funds a new account's wallet, implemented by the
// credits service.
type SignupGranter interface {
	GrantSignupBonus(ctx context.Context, userID int64) error
}

type AuthService struct {
	authRepo       *postgres.AuthRepository
	jwtManager     *jwt.Manager
	sessionManager *session.Manager
	throttle       *session.LoginThrottle
	credits        SignupGranter
	audit          AuditSink
	logger         *zap.Logger
}

func NewAuthService(
	authRepo *postgres.AuthRepository,
	jwtManager *jwt.Manager,
	sessionManager *session.Manager,
	throttle *session.LoginThrottle,
	credits SignupGranter,
	auditSink AuditSink,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		authRepo:       authRepo,
		jwtManager:     jwtManager,
		sessionManager: sessionManager,
		throttle:       throttle,
		credits:        credits,
		audit:          auditSink,
		logger:         logger,
	}
}

// Register creates a new account and logs it straight in.
func (s *AuthService) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.LoginResponse, error) {
	exists, err := s.authRepo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, xerrors.ErrDuplicateEntry
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &auth.User{
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		Status:       "active",
		Roles:        []string{"user"},
		Tier:         "free",
	}
	user.FullName.String, user.FullName.Valid = req.FullName, req.FullName != ""

	if err := s.authRepo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.credits != nil {
		if err := s.credits.GrantSignupBonus(ctx, user.ID); err != nil {
			// The account exists either way; the wallet is created on
			// first use and an admin top-up can make up the bonus.
			s.logger.Warn("failed to grant signup bonus",
				zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}

	return s.issueSession(ctx, user, sessiondomain.Meta{IPAddress: req.IPAddress, UserAgent: req.UserAgent})
}

// Login verifies credentials and replaces any prior active session.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	if s.throttle != nil {
		allowed, remaining, err := s.throttle.Check(ctx, req.IPAddress, req.Email)
		if err != nil {
			// The throttle is protection, not correctness: a Redis
			// outage must not lock everyone out.
			s.logger.Warn("login throttle unavailable", zap.Error(err))
		} else if !allowed {
			s.recordAudit(0, "system", audit.ActionLoginThrottled,
				"login attempts throttled",
				map[string]interface{}{"email": req.Email, "ip_address": req.IPAddress, "remaining": remaining})
			return nil, xerrors.ErrRateLimited
		}
	}

	user, err := s.authRepo.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.IsLocked(time.Now()) {
		return nil, xerrors.ErrLockedOut
	}
	if user.Status != "active" {
		return nil, xerrors.ErrForbidden
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if err := s.authRepo.IncrementFailedLoginAttempts(ctx, user.ID, failedLoginLockout); err != nil {
			s.logger.Warn("failed to record failed login", zap.Int64("user_id", user.ID), zap.Error(err))
		}
		return nil, xerrors.ErrUnauthorized
	}

	if err := s.authRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, req.IPAddress, req.Email); err != nil {
			s.logger.Warn("failed to reset login throttle", zap.Error(err))
		}
	}

	return s.issueSession(ctx, user, sessiondomain.Meta{IPAddress: req.IPAddress, UserAgent: req.UserAgent})
}

// Logout terminates exactly the presented session. Idempotent: a
// token that is already gone is a successful logout.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	return s.sessionManager.Logout(ctx, sessionToken)
}

// LogoutAll terminates every session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	_, err := s.sessionManager.ForceLogoutAll(ctx, userID, sessiondomain.ReasonUserLogout, "user")
	return err
}

// Heartbeat keeps the caller's session alive.
func (s *AuthService) Heartbeat(ctx context.Context, sessionToken string) (*auth.HeartbeatResponse, error) {
	sess, err := s.sessionManager.Heartbeat(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return &auth.HeartbeatResponse{Alive: true, LastActivity: sess.LastActivity}, nil
}

// ChangePassword rotates the hash and forces every device to log in
// again.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, req *auth.ChangePasswordRequest) error {
	user, err := s.authRepo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return xerrors.ErrUnauthorized
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.authRepo.UpdatePassword(ctx, userID, string(hashed)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.recordAudit(userID, "user", audit.ActionPasswordChanged, "password changed, all sessions terminated", nil)

	if _, err := s.sessionManager.ForceLogoutAll(ctx, userID, sessiondomain.ReasonAdminForceLogout, "password_change"); err != nil {
		s.logger.Warn("failed to terminate sessions after password change",
			zap.Int64("user_id", userID), zap.Error(err))
	}

	return nil
}

// GetMe returns the profile view of the authenticated user.
func (s *AuthService) GetMe(ctx context.Context, userID int64) (*auth.UserInfo, error) {
	user, err := s.authRepo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := userInfo(user)
	return &info, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// session is deliberately left alone: its liveness is governed by
// activity and heartbeats, and a refresh is neither.
func (s *AuthService) Refresh(ctx context.Context, req *auth.RefreshRequest) (*auth.RefreshResponse, error) {
	claims, err := s.jwtManager.Verifier.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		return nil, xerrors.ErrUnauthorized
	}

	// Roles and tier come from the database, not the old token, so a
	// tier change or demotion takes effect at the next refresh.
	user, err := s.authRepo.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Status != "active" {
		return nil, xerrors.ErrForbidden
	}

	accessToken, _, err := s.jwtManager.Generator.GenerateAccessToken(user.ID, user.Roles, user.Tier)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	ttl := s.jwtManager.Generator.Ttl
	return &auth.RefreshResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		ExpiresAt:   time.Now().Add(ttl),
	}, nil
}

// ValidateToken verifies the bearer JWT for the auth middleware.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	return s.jwtManager.Verifier.VerifyAccessToken(token)
}

// ValidateSession runs the session check for the auth middleware.
func (s *AuthService) ValidateSession(ctx context.Context, sessionToken string) (*sessiondomain.Session, error) {
	return s.sessionManager.Validate(ctx, sessionToken)
}

func (s *AuthService) issueSession(ctx context.Context, user *auth.User, meta sessiondomain.Meta) (*auth.LoginResponse, error) {
	sess, err := s.sessionManager.CreateOrReplace(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	accessToken, _, err := s.jwtManager.Generator.GenerateAccessToken(user.ID, user.Roles, user.Tier)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, _, err := s.jwtManager.Generator.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	ttl := s.jwtManager.Generator.Ttl
	return &auth.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionToken: sess.SessionToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(ttl.Seconds()),
		ExpiresAt:    time.Now().Add(ttl),
		User:         userInfo(user),
	}, nil
}

func (s *AuthService) recordAudit(userID int64, actor, action, description string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(userID, actor, action, description, metadata)
}

func userInfo(u *auth.User) auth.UserInfo {
	info := auth.UserInfo{
		UserID: u.ID,
		Email:  u.Email,
		Roles:  u.Roles,
		Tier:   u.Tier,
	}
	if u.FullName.Valid {
		info.FullName = u.FullName.String
	}
	return info
}
