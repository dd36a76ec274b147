// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	creditsdomain "inkgen-service/internal/domain/credits"
	"inkgen-service/internal/pkg/response"
	"inkgen-service/internal/pkg/session"
	"inkgen-service/internal/service/auth"
	creditsvc "inkgen-service/internal/service/credits"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionTokenHeader carries the opaque session token alongside the JWT.
const SessionTokenHeader = "X-Session-Token"

// APIKeyResolver authenticates programmatic keys, implemented by the
// credits service.
type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, plaintext string) (*creditsdomain.APIKey, error)
}

type AuthMiddleware struct {
	authService *auth.AuthService
	apiKeys     APIKeyResolver
	logger      *zap.Logger
}

func NewAuthMiddleware(authService *auth.AuthService, apiKeys APIKeyResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		apiKeys:     apiKeys,
		logger:      logger,
	}
}

// Auth validates the bearer JWT and the session token. The JWT proves
// identity; the session token enforces the single-active-session rule.
// A session denial carries its machine-readable kind so the client can
// distinguish "log in again" from "another device took over".
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		// API keys are machine credentials: the single-active-session
		// rule does not apply, rate limiting by tier still does.
		if m.apiKeys != nil && strings.HasPrefix(token, creditsvc.KeyPrefix) {
			m.authByAPIKey(c, token)
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		sessionToken := c.GetHeader(SessionTokenHeader)
		sess, err := m.authService.ValidateSession(c.Request.Context(), sessionToken)
		if err != nil {
			kind := session.KindOf(err)
			if kind == "" {
				// The session store is down, not the caller. Identity is
				// already proven by the JWT; let the request through and
				// pick up session bookkeeping when the store recovers.
				m.logger.Warn("session check unavailable, proceeding on token only",
					zap.Int64("user_id", claims.UserID),
					zap.Error(err),
				)
			} else {
				status := http.StatusUnauthorized
				if kind == session.KindSessionTerminated {
					status = http.StatusForbidden
				}
				response.Fail(c, status, kind, err.Error())
				return
			}
		}

		c.Set("user_id", claims.UserID)
		c.Set("jti", claims.ID)
		c.Set("roles", claims.Roles)
		c.Set("tier", claims.Tier)
		c.Set("session_purpose", claims.SessionPurpose)
		if sess != nil {
			c.Set("session_token", sess.SessionToken)
			c.Set("session_id", sess.ID)
		}

		c.Next()
	}
}

func (m *AuthMiddleware) authByAPIKey(c *gin.Context, plaintext string) {
	key, err := m.apiKeys.ResolveAPIKey(c.Request.Context(), plaintext)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "invalid or revoked api key", nil)
		return
	}

	user, err := m.authService.GetMe(c.Request.Context(), key.UserID)
	if err != nil {
		m.logger.Warn("failed to load api key owner",
			zap.Int64("user_id", key.UserID), zap.Error(err))
		response.Error(c, http.StatusUnauthorized, "invalid or revoked api key", nil)
		return
	}

	c.Set("user_id", user.UserID)
	c.Set("roles", user.Roles)
	c.Set("tier", user.Tier)
	c.Set("auth_method", "api_key")
	c.Set("api_key_id", key.ID)

	c.Next()
}

// RequireRole requires the user to have at least one of the roles.
// MUST be used after Auth()
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles, exists := c.Get("roles")
		if !exists {
			response.Error(c, http.StatusForbidden, "no roles found - authentication required", nil)
			return
		}

		userRolesList, ok := userRoles.([]string)
		if !ok {
			response.Error(c, http.StatusInternalServerError, "invalid roles format", nil)
			return
		}

		hasRole := false
		for _, userRole := range userRolesList {
			for _, requiredRole := range roles {
				if userRole == requiredRole {
					hasRole = true
					break
				}
			}
			if hasRole {
				break
			}
		}

		if !hasRole {
			err := errors.New("user does not have required role")
			response.Error(c, http.StatusForbidden, "insufficient permissions", err, map[string]interface{}{
				"required_roles": roles,
				"user_roles":     userRolesList,
			})
			return
		}

		c.Next()
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole)
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole("admin", "super_admin"),
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// Fallback to query param, needed for the websocket handshake where
	// browsers cannot set headers.
	token := c.Query("token")
	if token != "" {
		return token
	}

	return ""
}
