// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"errors"
	"net/http"
	"strconv"

	rl "inkgen-service/internal/domain/ratelimit"
	"inkgen-service/internal/pkg/ratelimit"
	"inkgen-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func NewRateLimitMiddleware(limiter *ratelimit.Limiter, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
	}
}

// Limit checks the daily quota for one generation request and records
// its weighted usage. The module comes from the :module route param.
// MUST be used after Auth(): it needs user_id and tier from context.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.Error(c, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		tier := GetTier(c)
		moduleID := c.Param("module")

		res, err := m.limiter.CheckAndRecord(c.Request.Context(), userID, tier, moduleID)
		if err != nil {
			m.deny(c, err)
			return
		}

		if res.FailedOpen {
			m.logger.Warn("rate limiter failed open",
				zap.Int64("user_id", userID),
				zap.String("module_id", moduleID),
			)
		}
		if res.Counted || res.Status.IsUnlimited {
			setUsageHeaders(c, res.Status)
		}
		if res.Warning != nil {
			c.Set("usage_warning", res.Warning.Message)
		}
		c.Set("ratelimit_result", res)

		c.Next()
	}
}

func (m *RateLimitMiddleware) deny(c *gin.Context, err error) {
	var le *ratelimit.LimitError
	if !errors.As(err, &le) {
		response.Error(c, http.StatusInternalServerError, "rate limit check failed", err)
		return
	}

	if le.Status != nil {
		setUsageHeaders(c, *le.Status)
	}
	if le.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(le.RetryAfter.Seconds())))
	}

	status := http.StatusTooManyRequests
	switch le.Kind {
	case ratelimit.KindAccountBlocked:
		status = http.StatusForbidden
	case ratelimit.KindServiceMaintenance:
		status = http.StatusServiceUnavailable
	}

	var data interface{}
	if le.Status != nil || len(le.Remedies) > 0 {
		data = gin.H{
			"usage":    le.Status,
			"remedies": le.Remedies,
		}
	}
	response.Fail(c, status, le.Kind, le.Message, data)
}

// setUsageHeaders mirrors the usage snapshot into standard headers so
// well-behaved clients can back off before the hard limit.
func setUsageHeaders(c *gin.Context, s rl.UsageStatus) {
	if s.IsUnlimited {
		c.Header("X-RateLimit-Limit", "unlimited")
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(s.DailyLimit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(s.Remaining))
	c.Header("X-RateLimit-Used", strconv.Itoa(s.TotalUsage))
	c.Header("X-RateLimit-Percentage", strconv.Itoa(s.Percentage))
}
