// internal/repository/postgres/session_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "inkgen-service/internal/domain/session"
	xerrors "inkgen-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists user sessions. The conditional UPDATEs on
// is_active are the only synchronization this layer provides; callers
// tolerate the brief dual-active window of a login race.
type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, user_id, session_token, is_active, login_at, last_activity,
	logout_at, logout_reason, ip_address, user_agent, total_api_calls
`

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO user_sessions (
			user_id, session_token, is_active, login_at, last_activity,
			ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.db.QueryRow(
		ctx, query,
		s.UserID, s.SessionToken, s.IsActive, s.LoginAt, s.LastActivity,
		s.IPAddress, s.UserAgent,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *SessionRepository) FindActiveByToken(ctx context.Context, token string) (*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE session_token = $1 AND is_active = TRUE
	`

	s, err := r.scanOne(r.db.QueryRow(ctx, query, token))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID int64) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY login_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.SessionToken, &s.IsActive, &s.LoginAt, &s.LastActivity,
			&s.LogoutAt, &s.LogoutReason, &s.IPAddress, &s.UserAgent, &s.TotalAPICalls,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

func (r *SessionRepository) HasNewerActive(ctx context.Context, userID int64, loginAt time.Time, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_sessions
			WHERE user_id = $1 AND is_active = TRUE
			  AND login_at > $2 AND id <> $3
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, loginAt, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check newer sessions: %w", err)
	}
	return exists, nil
}

// Terminate flips the row inactive only if it is still active, so two
// racing terminators cannot both win.
func (r *SessionRepository) Terminate(ctx context.Context, id int64, reason domain.LogoutReason) (bool, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, logout_at = NOW(), logout_reason = $2
		WHERE id = $1 AND is_active = TRUE
	`

	tag, err := r.db.Exec(ctx, query, id, string(reason))
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SessionRepository) TerminateAllForUser(ctx context.Context, userID int64, reason domain.LogoutReason) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, logout_at = NOW(), logout_reason = $2
		WHERE user_id = $1 AND is_active = TRUE
	`

	tag, err := r.db.Exec(ctx, query, userID, string(reason))
	if err != nil {
		return 0, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchActivity accumulates the call counter at the storage layer to
// avoid lost updates under concurrent requests from the same session.
func (r *SessionRepository) TouchActivity(ctx context.Context, id int64, calls int64) error {
	query := `
		UPDATE user_sessions
		SET last_activity = NOW(), total_api_calls = total_api_calls + $2
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, calls)
	return err
}

func (r *SessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM user_sessions
		WHERE is_active = FALSE AND last_activity < $1
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) scanOne(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.SessionToken, &s.IsActive, &s.LoginAt, &s.LastActivity,
		&s.LogoutAt, &s.LogoutReason, &s.IPAddress, &s.UserAgent, &s.TotalAPICalls,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}
