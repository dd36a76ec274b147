// internal/handlers/admin/admin_handler.go
package admin

import (
	"fmt"
	"net/http"
	"strconv"

	creditsdomain "inkgen-service/internal/domain/credits"
	rl "inkgen-service/internal/domain/ratelimit"
	"inkgen-service/internal/middleware"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/response"
	adminUsecase "inkgen-service/internal/service/admin"
	auditUsecase "inkgen-service/internal/service/audit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	adminService *adminUsecase.AdminService
	auditService *auditUsecase.Service
	logger       *zap.Logger
}

func NewAdminHandler(adminService *adminUsecase.AdminService, auditService *auditUsecase.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		auditService: auditService,
		logger:       logger,
	}
}

// GetConfig returns the effective rate limit configuration
func (h *AdminHandler) GetConfig(c *gin.Context) {
	cfg, err := h.adminService.GetConfig(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load config", err)
		return
	}

	response.Success(c, http.StatusOK, "rate limit config", cfg)
}

// UpdateConfig applies a partial config update
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var req rl.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	cfg, err := h.adminService.UpdateConfig(c.Request.Context(), &req, actor(c))
	if err != nil {
		h.logger.Error("config update failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "config update failed", err)
		return
	}

	response.Success(c, http.StatusOK, "config updated", cfg)
}

// BlockUser blocks a user's usage for the current day
func (h *AdminHandler) BlockUser(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req rl.BlockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.adminService.BlockUser(c.Request.Context(), userID, req.Reason, actor(c)); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to block user", err)
		return
	}

	response.Success(c, http.StatusOK, "user blocked", nil)
}

// UnblockUser lifts a manual block
func (h *AdminHandler) UnblockUser(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	if err := h.adminService.UnblockUser(c.Request.Context(), userID, actor(c)); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "no usage row to unblock")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to unblock user", err)
		return
	}

	response.Success(c, http.StatusOK, "user unblocked", nil)
}

// GrantCredits tops up a user's wallet
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req creditsdomain.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	t, err := h.adminService.GrantCredits(c.Request.Context(), userID, &req, actor(c))
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to grant credits", err)
		return
	}

	response.Success(c, http.StatusOK, "credits granted", t)
}

// ForceLogout terminates all active sessions of a user
func (h *AdminHandler) ForceLogout(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	n, err := h.adminService.ForceLogout(c.Request.Context(), userID, actor(c))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "force logout failed", err)
		return
	}

	response.Success(c, http.StatusOK, "sessions terminated", gin.H{"terminated": n})
}

// UserUsage returns another user's usage snapshot
func (h *AdminHandler) UserUsage(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	status, err := h.adminService.UsageStatus(c.Request.Context(), userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load usage", err)
		return
	}

	response.Success(c, http.StatusOK, "usage status", status)
}

// SharingReport lists accounts whose usage pattern suggests sharing.
// Advisory only; nothing is blocked automatically.
func (h *AdminHandler) SharingReport(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	threshold, _ := strconv.ParseFloat(c.DefaultQuery("threshold", "0.85"), 64)

	suspects, err := h.adminService.SharingReport(c.Request.Context(), days, threshold)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to build sharing report", err)
		return
	}

	response.Success(c, http.StatusOK, "sharing report", gin.H{
		"days":      days,
		"threshold": threshold,
		"suspects":  suspects,
	})
}

// UserAudit lists recent audit entries for a user
func (h *AdminHandler) UserAudit(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.auditService.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load audit log", err)
		return
	}

	response.Success(c, http.StatusOK, "audit entries", entries)
}

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	if id, ok := middleware.GetUserID(c); ok {
		return fmt.Sprintf("admin:%d", id)
	}
	return "admin"
}
