// internal/handlers/credits/credits_handler.go
package credits

import (
	"net/http"
	"strconv"

	"inkgen-service/internal/domain/credits"
	"inkgen-service/internal/middleware"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/response"
	creditsUsecase "inkgen-service/internal/service/credits"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreditsHandler struct {
	creditsService *creditsUsecase.CreditsService
	logger         *zap.Logger
}

func NewCreditsHandler(creditsService *creditsUsecase.CreditsService, logger *zap.Logger) *CreditsHandler {
	return &CreditsHandler{
		creditsService: creditsService,
		logger:         logger,
	}
}

// Wallet returns the caller's credit balance
func (h *CreditsHandler) Wallet(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	summary, err := h.creditsService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load wallet", err)
		return
	}

	response.Success(c, http.StatusOK, "wallet", summary)
}

// Transactions pages through the caller's credit history
func (h *CreditsHandler) Transactions(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var filters credits.TransactionHistoryFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid filters", err)
		return
	}

	list, err := h.creditsService.ListTransactions(c.Request.Context(), userID, filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load transactions", err)
		return
	}

	response.Success(c, http.StatusOK, "transactions", list)
}

// CreateAPIKey mints a new key, returning the plaintext once
func (h *CreditsHandler) CreateAPIKey(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req credits.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	resp, err := h.creditsService.CreateAPIKey(c.Request.Context(), userID, &req)
	if err != nil {
		h.logger.Error("api key creation failed", zap.Int64("user_id", userID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to create api key", err)
		return
	}

	response.Success(c, http.StatusCreated, "api key created, store it now: it is shown only once", resp)
}

// ListAPIKeys lists the caller's keys
func (h *CreditsHandler) ListAPIKeys(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	keys, err := h.creditsService.ListAPIKeys(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list api keys", err)
		return
	}

	response.Success(c, http.StatusOK, "api keys", keys)
}

// RevokeAPIKey permanently disables one of the caller's keys
func (h *CreditsHandler) RevokeAPIKey(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	keyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || keyID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid key id", err)
		return
	}

	if err := h.creditsService.RevokeAPIKey(c.Request.Context(), userID, keyID); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "api key not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to revoke api key", err)
		return
	}

	response.Success(c, http.StatusOK, "api key revoked", nil)
}
