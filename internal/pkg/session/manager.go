// internal/pkg/session/manager.go
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"inkgen-service/internal/domain/audit"
	domain "inkgen-service/internal/domain/session"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/tracker"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Manager is the single entry point for session mutations: validate,
// heartbeat and force-logout. It enforces single-active-session-per-user
// semantics with a lazy, loginAt-based tie-break: the newer session
// wins, and the loser is discovered and terminated on its next access.
type Manager struct {
	store    Store
	tracker  *tracker.Tracker
	audit    AuditSink
	notifier Notifier
	logger   *zap.Logger

	concurrentWindow time.Duration
	idleTimeout      time.Duration
	now              func() time.Time
}

type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNotifier attaches a termination-event pusher.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithAudit attaches an audit sink.
func WithAudit(a AuditSink) Option {
	return func(m *Manager) { m.audit = a }
}

// WithWindows overrides the lifecycle thresholds.
func WithWindows(concurrent, idle time.Duration) Option {
	return func(m *Manager) {
		m.concurrentWindow = concurrent
		m.idleTimeout = idle
	}
}

func NewManager(store Store, trk *tracker.Tracker, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		tracker:          trk,
		logger:           logger,
		concurrentWindow: ConcurrentWindow,
		idleTimeout:      IdleTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOrReplace creates the session for a fresh successful login.
// Any prior active session still within the concurrent window is
// terminated as a concurrent login; stale ones are closed as timed out.
// After return exactly one active session exists for the user, unless
// another login races in, in which case the loginAt tie-break resolves
// it at the next access.
func (m *Manager) CreateOrReplace(ctx context.Context, userID int64, meta domain.Meta) (*domain.Session, error) {
	now := m.now()

	existing, err := m.store.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active sessions: %w", err)
	}

	for _, old := range existing {
		reason := domain.ReasonSessionTimeout
		if old.IdleFor(now) <= m.concurrentWindow {
			reason = domain.ReasonConcurrentLogin
		}

		terminated, err := m.store.Terminate(ctx, old.ID, reason)
		if err != nil {
			m.logger.Warn("failed to terminate prior session",
				zap.Int64("user_id", userID),
				zap.Int64("session_id", old.ID),
				zap.Error(err),
			)
			continue
		}
		if !terminated {
			continue
		}

		if reason == domain.ReasonConcurrentLogin {
			m.recordAudit(userID, "system", audit.ActionConcurrentLogin,
				"previous session terminated by new login",
				map[string]interface{}{
					"session_id": old.ID,
					"ip_address": meta.IPAddress,
				})
			m.notify(userID, old.SessionToken, domain.ReasonConcurrentLogin)
		}
	}

	s := &domain.Session{
		UserID:       userID,
		SessionToken: newToken(),
		IsActive:     true,
		LoginAt:      now,
		LastActivity: now,
	}
	if meta.IPAddress != "" {
		s.IPAddress.String, s.IPAddress.Valid = meta.IPAddress, true
	}
	if meta.UserAgent != "" {
		s.UserAgent.String, s.UserAgent.Valid = meta.UserAgent, true
	}

	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s, nil
}

// Validate checks the session presented by a business request and
// refreshes its activity. Failure kinds: SESSION_REQUIRED,
// SESSION_INVALID, SESSION_EXPIRED (row marked timed out as a side
// effect), SESSION_TERMINATED (superseded by a newer login).
func (m *Manager) Validate(ctx context.Context, token string) (*domain.Session, error) {
	s, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if s.IdleFor(now) > m.idleTimeout {
		if _, err := m.store.Terminate(ctx, s.ID, domain.ReasonSessionTimeout); err != nil {
			m.logger.Warn("failed to mark session timed out",
				zap.Int64("session_id", s.ID), zap.Error(err))
		}
		return nil, errExpired()
	}

	if err := m.checkSuperseded(ctx, s); err != nil {
		return nil, err
	}

	m.touch(s, 1)
	s.LastActivity = now
	s.TotalAPICalls++
	return s, nil
}

// Heartbeat keeps an idle client alive without counting a business
// call. It runs the same newer-session check as Validate but has no
// timeout side effect beyond refreshing last_activity.
func (m *Manager) Heartbeat(ctx context.Context, token string) (*domain.Session, error) {
	s, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := m.checkSuperseded(ctx, s); err != nil {
		return nil, err
	}

	m.touch(s, 0)
	s.LastActivity = m.now()
	return s, nil
}

// Logout terminates the presented session. A token that no longer
// resolves to an active session is treated as already logged out.
func (m *Manager) Logout(ctx context.Context, token string) error {
	s, err := m.lookup(ctx, token)
	if err != nil {
		if KindOf(err) != "" {
			return nil
		}
		return err
	}

	if _, err := m.store.Terminate(ctx, s.ID, domain.ReasonUserLogout); err != nil {
		return fmt.Errorf("failed to terminate session %d: %w", s.ID, err)
	}
	return nil
}

// ForceLogoutAll terminates every active session of a user. Used by
// admin tooling and the password-change flow.
func (m *Manager) ForceLogoutAll(ctx context.Context, userID int64, reason domain.LogoutReason, actor string) (int64, error) {
	n, err := m.store.TerminateAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions for user %d: %w", userID, err)
	}

	if n > 0 {
		m.recordAudit(userID, actor, audit.ActionForceLogout,
			fmt.Sprintf("terminated %d active session(s)", n),
			map[string]interface{}{"reason": string(reason)})
		m.notify(userID, "", reason)
	}

	return n, nil
}

// CleanupExpired purges inactive rows idle for longer than the
// retention window. Storage reclamation only, not correctness-critical.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-InactiveRetention)
	return m.store.DeleteInactiveBefore(ctx, cutoff)
}

func (m *Manager) lookup(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, errRequired()
	}

	s, err := m.store.FindActiveByToken(ctx, token)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, errInvalid()
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// checkSuperseded applies the tie-break: a strictly newer active login
// wins and the current row is terminated as a concurrent login.
func (m *Manager) checkSuperseded(ctx context.Context, s *domain.Session) error {
	newer, err := m.store.HasNewerActive(ctx, s.UserID, s.LoginAt, s.ID)
	if err != nil {
		// Reconciliation is lazy by design; a failed check here only
		// delays it until the next access.
		m.logger.Warn("newer-session check failed",
			zap.Int64("session_id", s.ID), zap.Error(err))
		return nil
	}
	if !newer {
		return nil
	}

	if _, err := m.store.Terminate(ctx, s.ID, domain.ReasonConcurrentLogin); err != nil {
		m.logger.Warn("failed to terminate superseded session",
			zap.Int64("session_id", s.ID), zap.Error(err))
	}

	m.recordAudit(s.UserID, "system", audit.ActionConcurrentLogin,
		"session superseded by newer login",
		map[string]interface{}{"session_id": s.ID})
	m.notify(s.UserID, s.SessionToken, domain.ReasonConcurrentLogin)

	return errTerminated()
}

// touch refreshes activity off the request path. The response does not
// wait for the write; a dropped touch costs a slightly stale
// last_activity, nothing more.
func (m *Manager) touch(s *domain.Session, calls int64) {
	id := s.ID
	if m.tracker == nil {
		return
	}
	m.tracker.Dispatch("session.touch", func(ctx context.Context) error {
		return m.store.TouchActivity(ctx, id, calls)
	})
}

func (m *Manager) recordAudit(userID int64, actor, action, description string, metadata map[string]interface{}) {
	if m.audit == nil {
		return
	}
	m.audit.Record(userID, actor, action, description, metadata)
}

func (m *Manager) notify(userID int64, token string, reason domain.LogoutReason) {
	if m.notifier == nil {
		return
	}
	m.notifier.SessionTerminated(userID, token, reason)
}

// newToken builds an opaque session token: a ULID for ordering plus
// random tail so tokens are not guessable from timestamps.
func newToken() string {
	tail := make([]byte, 16)
	_, _ = rand.Read(tail)
	return fmt.Sprintf("st_%s%s", ulid.Make().String(), base64.RawURLEncoding.EncodeToString(tail))
}
