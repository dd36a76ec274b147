// internal/pkg/session/types.go
package session

import (
	"context"
	"time"

	domain "inkgen-service/internal/domain/session"
)

// Lifecycle thresholds. Expiry is observed, not pushed: both windows
// are evaluated lazily at the next access, never by wall-clock timers.
const (
	// ConcurrentWindow is how recently a prior session must have been
	// active for a new login to count as a concurrent login.
	ConcurrentWindow = 5 * time.Minute

	// IdleTimeout is the inactivity window after which validation
	// marks a session timed out.
	IdleTimeout = 30 * time.Minute

	// InactiveRetention is how long terminated rows are kept before
	// the cleanup sweep purges them.
	InactiveRetention = 24 * time.Hour
)

// Store is the persistence boundary of the session manager. The only
// synchronization primitive it assumes is the atomic conditional
// update: Terminate flips is_active -> false only if the row is still
// active, and reports whether it did.
type Store interface {
	Create(ctx context.Context, s *domain.Session) error

	// FindActiveByToken returns xerrors.ErrNotFound when no active row
	// matches the token.
	FindActiveByToken(ctx context.Context, token string) (*domain.Session, error)

	FindActiveByUser(ctx context.Context, userID int64) ([]*domain.Session, error)

	// HasNewerActive reports whether the user holds an active session
	// with login_at strictly after loginAt, other than excludeID.
	HasNewerActive(ctx context.Context, userID int64, loginAt time.Time, excludeID int64) (bool, error)

	// Terminate atomically deactivates one still-active row. The bool
	// reports whether this call performed the flip (a concurrent
	// terminator may have won).
	Terminate(ctx context.Context, id int64, reason domain.LogoutReason) (bool, error)

	TerminateAllForUser(ctx context.Context, userID int64, reason domain.LogoutReason) (int64, error)

	// TouchActivity refreshes last_activity and accumulates the call
	// counter (+= calls, never read-then-write-absolute).
	TouchActivity(ctx context.Context, id int64, calls int64) error

	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier pushes termination events to a connected client so the
// losing device learns it was superseded without polling.
type Notifier interface {
	SessionTerminated(userID int64, sessionToken string, reason domain.LogoutReason)
}

// AuditSink records forensic events. Implementations must be
// best-effort: a failed append never propagates.
type AuditSink interface {
	Record(userID int64, actor, action, description string, metadata map[string]interface{})
}
