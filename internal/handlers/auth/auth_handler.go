// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"

	"inkgen-service/internal/domain/auth"
	"inkgen-service/internal/middleware"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/response"
	"inkgen-service/internal/pkg/session"
	authUsecase "inkgen-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Register handles user registration (public endpoint)
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	loginResp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			response.Error(c, http.StatusConflict, "email is already registered", err)
			return
		}
		h.logger.Error("registration failed",
			zap.String("email", req.Email),
			zap.Error(err),
		)
		response.Error(c, http.StatusBadRequest, "registration failed", err)
		return
	}

	response.Success(c, http.StatusCreated, "registration successful", loginResp)
}

// Login handles user login. A success replaces any prior active session
// for the account; the old device is notified and logged out.
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	loginResp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case xerrors.Is(err, xerrors.ErrRateLimited):
			response.Error(c, http.StatusTooManyRequests, "too many login attempts, try again later", err)
		case xerrors.Is(err, xerrors.ErrLockedOut):
			response.Error(c, http.StatusLocked, "account temporarily locked", err)
		default:
			h.logger.Warn("login failed",
				zap.String("email", req.Email),
				zap.String("ip", req.IPAddress),
				zap.Error(err),
			)
			response.Error(c, http.StatusUnauthorized, "invalid email or password", nil)
		}
		return
	}

	h.logger.Info("user logged in",
		zap.Int64("user_id", loginResp.User.UserID),
		zap.String("email", loginResp.User.Email),
	)

	response.Success(c, http.StatusOK, "login successful", loginResp)
}

// Refresh exchanges a refresh token for a fresh access token (public
// endpoint; the refresh token itself is the credential)
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	resp, err := h.authService.Refresh(c.Request.Context(), &req)
	if err != nil {
		switch {
		case xerrors.Is(err, xerrors.ErrForbidden):
			response.Error(c, http.StatusForbidden, "account is not active", nil)
		case xerrors.Is(err, xerrors.ErrUnauthorized):
			response.Error(c, http.StatusUnauthorized, "invalid or expired refresh token", nil)
		default:
			response.Error(c, http.StatusInternalServerError, "token refresh failed", err)
		}
		return
	}

	response.Success(c, http.StatusOK, "token refreshed", resp)
}

// Logout terminates the presented session (requires auth)
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := middleware.GetSessionToken(c)
	if token == "" {
		token = c.GetHeader(middleware.SessionTokenHeader)
	}

	if err := h.authService.Logout(c.Request.Context(), token); err != nil {
		response.Error(c, http.StatusInternalServerError, "logout failed", err)
		return
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// LogoutAll terminates every session of the user (requires auth)
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if err := h.authService.LogoutAll(c.Request.Context(), userID); err != nil {
		response.Error(c, http.StatusInternalServerError, "logout all failed", err)
		return
	}

	response.Success(c, http.StatusOK, "all sessions logged out", nil)
}

// Heartbeat keeps an open client alive without counting usage. It
// bypasses the auth middleware's session check deliberately so the
// session error kinds flow straight back to the client.
func (h *AuthHandler) Heartbeat(c *gin.Context) {
	token := c.GetHeader(middleware.SessionTokenHeader)

	hb, err := h.authService.Heartbeat(c.Request.Context(), token)
	if err != nil {
		kind := session.KindOf(err)
		if kind == "" {
			response.Error(c, http.StatusInternalServerError, "heartbeat failed", err)
			return
		}
		status := http.StatusUnauthorized
		if kind == session.KindSessionTerminated {
			status = http.StatusForbidden
		}
		response.Fail(c, status, kind, err.Error())
		return
	}

	response.Success(c, http.StatusOK, "session alive", hb)
}

// ChangePassword rotates the password and logs out every device
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req auth.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), userID, &req); err != nil {
		if xerrors.Is(err, xerrors.ErrUnauthorized) {
			response.Error(c, http.StatusUnauthorized, "current password is incorrect", nil)
			return
		}
		response.Error(c, http.StatusInternalServerError, "password change failed", err)
		return
	}

	response.Success(c, http.StatusOK, "password changed, please log in again", nil)
}

// Me returns the authenticated user's profile
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	info, err := h.authService.GetMe(c.Request.Context(), userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load profile", err)
		return
	}

	response.Success(c, http.StatusOK, "profile", info)
}
