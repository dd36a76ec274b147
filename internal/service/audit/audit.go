// internal/service/audit/audit.go
package audit

import (
	"context"
	"database/sql"

	domain "inkgen-service/internal/domain/audit"
	"inkgen-service/internal/pkg/tracker"
	"inkgen-service/internal/repository/postgres"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Service appends forensic records through the tracker, off the
// request path. A failed append is logged and dropped; it never fails
// the operation that triggered it.
type Service struct {
	repo    *postgres.AuditRepository
	tracker *tracker.Tracker
	logger  *zap.Logger
}

func NewService(repo *postgres.AuditRepository, trk *tracker.Tracker, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		tracker: trk,
		logger:  logger,
	}
}

// Record satisfies the AuditSink seams of the session manager and the
// rate limiter.
func (s *Service) Record(userID int64, actor, action, description string, metadata map[string]interface{}) {
	e := &domain.Entry{
		ID:          ulid.Make().String(),
		Actor:       actor,
		Action:      action,
		Description: description,
		Metadata:    metadata,
	}
	if userID > 0 {
		e.UserID = sql.NullInt64{Int64: userID, Valid: true}
	}

	s.tracker.Dispatch("audit.append", func(ctx context.Context) error {
		return s.repo.Insert(ctx, e)
	})
}

// ListByUser returns the newest entries for forensic review.
func (s *Service) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.Entry, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}
