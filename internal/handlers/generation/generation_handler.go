// internal/handlers/generation/generation_handler.go
package generation

import (
	"net/http"

	"inkgen-service/internal/middleware"
	xerrors "inkgen-service/internal/pkg/errors"
	"inkgen-service/internal/pkg/ratelimit"
	"inkgen-service/internal/pkg/response"
	creditsUsecase "inkgen-service/internal/service/credits"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type GenerationHandler struct {
	creditsService *creditsUsecase.CreditsService
	logger         *zap.Logger
}

func NewGenerationHandler(creditsService *creditsUsecase.CreditsService, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		creditsService: creditsService,
		logger:         logger,
	}
}

// GenerateRequest carries the prompt for one content generation.
type GenerateRequest struct {
	Prompt string `json:"prompt" binding:"required,max=8192"`
}

// GenerateResponse acknowledges an accepted generation request.
type GenerateResponse struct {
	RequestID string      `json:"request_id"`
	ModuleID  string      `json:"module_id"`
	Weight    int         `json:"weight"`
	UsedBurst bool        `json:"used_burst,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	Usage     interface{} `json:"usage,omitempty"`
}

// Generate accepts one content generation request. The rate limit
// middleware has already charged the quota by the time this runs; this
// handler debits the credit wallet and hands the work off.
func (h *GenerationHandler) Generate(c *gin.Context) {
	userID := middleware.MustGetUserID(c)
	moduleID := c.Param("module")

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	resp := GenerateResponse{
		RequestID: ulid.Make().String(),
		ModuleID:  moduleID,
	}

	if res, ok := c.Get("ratelimit_result"); ok {
		if r, ok := res.(*ratelimit.Result); ok {
			resp.Weight = r.Weight
			resp.UsedBurst = r.UsedBurst
			if r.Counted {
				resp.Usage = r.Status
			}

			if r.Weight > 0 {
				if err := h.creditsService.ChargeGeneration(c.Request.Context(), userID, r.Weight, moduleID); err != nil {
					if xerrors.Is(err, xerrors.ErrInvalidInput) {
						response.Error(c, http.StatusPaymentRequired, "insufficient credits", err)
						return
					}
					h.logger.Error("failed to debit credits",
						zap.Int64("user_id", userID),
						zap.String("module_id", moduleID),
						zap.Error(err),
					)
					response.Error(c, http.StatusInternalServerError, "generation failed", err)
					return
				}
			}
		}
	}

	if warning, ok := c.Get("usage_warning"); ok {
		if msg, ok := warning.(string); ok {
			resp.Warning = msg
		}
	}

	response.Success(c, http.StatusAccepted, "generation accepted", resp)
}
