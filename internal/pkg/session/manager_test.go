package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "inkgen-service/internal/domain/session"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory Store with the same atomic-terminate
// semantics as the SQL implementation.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Session

	hasNewerErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*domain.Session)}
}

func (s *memStore) Create(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess.ID = s.nextID
	cp := *sess
	s.rows[sess.ID] = &cp
	return nil
}

func (s *memStore) FindActiveByToken(ctx context.Context, token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.SessionToken == token && r.IsActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *memStore) FindActiveByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) HasNewerActive(ctx context.Context, userID int64, loginAt time.Time, excludeID int64) (bool, error) {
	if s.hasNewerErr != nil {
		return false, s.hasNewerErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive && r.ID != excludeID && r.LoginAt.After(loginAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Terminate(ctx context.Context, id int64, reason domain.LogoutReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.IsActive {
		return false, nil
	}
	r.IsActive = false
	r.LogoutReason.String, r.LogoutReason.Valid = string(reason), true
	r.LogoutAt.Time, r.LogoutAt.Valid = time.Now(), true
	return true, nil
}

func (s *memStore) TerminateAllForUser(ctx context.Context, userID int64, reason domain.LogoutReason) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.UserID == userID && r.IsActive {
			r.IsActive = false
			r.LogoutReason.String, r.LogoutReason.Valid = string(reason), true
			n++
		}
	}
	return n, nil
}

func (s *memStore) TouchActivity(ctx context.Context, id int64, calls int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		r.LastActivity = time.Now()
		r.TotalAPICalls += calls
	}
	return nil
}

func (s *memStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if !r.IsActive && r.LastActivity.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id int64) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.rows[id]
	return &cp
}

type capturedNotice struct {
	userID int64
	token  string
	reason domain.LogoutReason
}

type memNotifier struct {
	mu      sync.Mutex
	notices []capturedNotice
}

func (n *memNotifier) SessionTerminated(userID int64, token string, reason domain.LogoutReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, capturedNotice{userID, token, reason})
}

func (n *memNotifier) all() []capturedNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]capturedNotice(nil), n.notices...)
}

func newTestManager(t *testing.T, store Store, now *time.Time, opts ...Option) *Manager {
	t.Helper()
	base := []Option{WithClock(func() time.Time { return *now })}
	return NewManager(store, nil, zap.NewNop(), append(base, opts...)...)
}

func TestCreateOrReplace_SingleActiveSession(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notifier := &memNotifier{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now, WithNotifier(notifier))

	first, err := m.CreateOrReplace(ctx, 1, domain.Meta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, first.IsActive)

	// Second login two minutes later: the first session is still fresh,
	// so it is a concurrent login.
	now = now.Add(2 * time.Minute)
	second, err := m.CreateOrReplace(ctx, 1, domain.Meta{IPAddress: "10.0.0.2"})
	require.NoError(t, err)

	old := store.get(first.ID)
	assert.False(t, old.IsActive)
	assert.Equal(t, string(domain.ReasonConcurrentLogin), old.LogoutReason.String)

	active, err := store.FindActiveByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, first.SessionToken, notices[0].token)
	assert.Equal(t, domain.ReasonConcurrentLogin, notices[0].reason)
}

func TestCreateOrReplace_StaleSessionClosesAsTimeout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notifier := &memNotifier{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now, WithNotifier(notifier))

	first, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	// Next login an hour later: the old session is far outside the
	// concurrent window, so it closes as a timeout with no notification.
	now = now.Add(time.Hour)
	_, err = m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	old := store.get(first.ID)
	assert.False(t, old.IsActive)
	assert.Equal(t, string(domain.ReasonSessionTimeout), old.LogoutReason.String)
	assert.Empty(t, notifier.all())
}

func TestValidate_TokenChecks(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	t.Run("missing token", func(t *testing.T) {
		_, err := m.Validate(ctx, "")
		assert.Equal(t, KindSessionRequired, KindOf(err))
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := m.Validate(ctx, "st_nope")
		assert.Equal(t, KindSessionInvalid, KindOf(err))
	})

	t.Run("valid token counts the call", func(t *testing.T) {
		s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
		require.NoError(t, err)

		got, err := m.Validate(ctx, s.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.TotalAPICalls)
	})
}

func TestValidate_IdleTimeout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = m.Validate(ctx, s.SessionToken)
	assert.Equal(t, KindSessionExpired, KindOf(err))

	// The row is marked timed out as a side effect.
	row := store.get(s.ID)
	assert.False(t, row.IsActive)
	assert.Equal(t, string(domain.ReasonSessionTimeout), row.LogoutReason.String)
}

func TestValidate_SupersededByNewerLogin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notifier := &memNotifier{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now, WithNotifier(notifier))

	older, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	// Simulate a racing login that the create-time pass missed: insert
	// a strictly newer active row directly.
	newer := &domain.Session{
		UserID:       1,
		SessionToken: "st_newer",
		IsActive:     true,
		LoginAt:      now.Add(time.Second),
		LastActivity: now.Add(time.Second),
	}
	require.NoError(t, store.Create(ctx, newer))

	_, err = m.Validate(ctx, older.SessionToken)
	assert.Equal(t, KindSessionTerminated, KindOf(err))

	row := store.get(older.ID)
	assert.False(t, row.IsActive)
	assert.Equal(t, string(domain.ReasonConcurrentLogin), row.LogoutReason.String)

	// The newer session keeps working.
	_, err = m.Validate(ctx, "st_newer")
	assert.NoError(t, err)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, older.SessionToken, notices[0].token)
}

func TestValidate_NewerCheckFailureProceeds(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	// A store hiccup on the tie-break check must not kill a session
	// that is otherwise fine; reconciliation waits for the next access.
	store.hasNewerErr = errors.New("connection reset")
	got, err := m.Validate(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestHeartbeat_KeepsAliveWithoutCounting(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	got, err := m.Heartbeat(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalAPICalls)
	assert.Equal(t, now, got.LastActivity)
}

func TestLogout_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, s.SessionToken))
	row := store.get(s.ID)
	assert.False(t, row.IsActive)
	assert.Equal(t, string(domain.ReasonUserLogout), row.LogoutReason.String)

	// Logging out again, or with garbage, is still a success.
	assert.NoError(t, m.Logout(ctx, s.SessionToken))
	assert.NoError(t, m.Logout(ctx, "st_gone"))
}

func TestForceLogoutAll(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notifier := &memNotifier{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now, WithNotifier(notifier))

	s, err := m.CreateOrReplace(ctx, 7, domain.Meta{})
	require.NoError(t, err)

	n, err := m.ForceLogoutAll(ctx, 7, domain.ReasonAdminForceLogout, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row := store.get(s.ID)
	assert.False(t, row.IsActive)

	// All devices are told, not just one connection.
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Empty(t, notices[0].token)
	assert.Equal(t, domain.ReasonAdminForceLogout, notices[0].reason)

	// No active sessions left -> nothing to do, no extra notice.
	n, err = m.ForceLogoutAll(ctx, 7, domain.ReasonAdminForceLogout, "admin:1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, notifier.all(), 1)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, &now)

	s, err := m.CreateOrReplace(ctx, 1, domain.Meta{})
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, s.SessionToken))

	// Inside retention: kept.
	now = now.Add(12 * time.Hour)
	n, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past retention: purged.
	now = now.Add(13 * time.Hour)
	n, err = m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
