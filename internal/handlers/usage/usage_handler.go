// internal/handlers/usage/usage_handler.go
package usage

import (
	"net/http"

	"inkgen-service/internal/middleware"
	"inkgen-service/internal/pkg/ratelimit"
	"inkgen-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UsageHandler struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func NewUsageHandler(limiter *ratelimit.Limiter, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		limiter: limiter,
		logger:  logger,
	}
}

// Status returns the caller's usage snapshot for today. A user with no
// usage yet gets zeros and the full remaining quota.
func (h *UsageHandler) Status(c *gin.Context) {
	userID := middleware.MustGetUserID(c)
	tier := middleware.GetTier(c)

	status, err := h.limiter.UsageStatus(c.Request.Context(), userID, tier)
	if err != nil {
		h.logger.Error("failed to load usage status",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "failed to load usage", err)
		return
	}

	response.Success(c, http.StatusOK, "usage status", status)
}
