// internal/handlers/websocket/websocket_handler.go
package websocket

import (
	"net/http"

	"inkgen-service/internal/middleware"
	"inkgen-service/internal/pkg/response"
	"inkgen-service/internal/pkg/session"
	authUsecase "inkgen-service/internal/service/auth"
	"inkgen-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the web client's domains are fixed
		return true
	},
}

type WebSocketHandler struct {
	hub         *ws.Hub
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewWebSocketHandler(hub *ws.Hub, authService *authUsecase.AuthService, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
		logger:      logger,
	}
}

// HandleConnection upgrades an authenticated client. Browsers cannot
// set headers on the websocket handshake, so both tokens may arrive as
// query parameters.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "missing authentication token", nil)
		return
	}

	claims, err := h.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("websocket authentication failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		response.Error(c, http.StatusUnauthorized, "authentication failed", err)
		return
	}

	sessionToken := c.Query("session")
	if sessionToken == "" {
		sessionToken = c.GetHeader(middleware.SessionTokenHeader)
	}
	sess, err := h.authService.ValidateSession(c.Request.Context(), sessionToken)
	if err != nil {
		if kind := session.KindOf(err); kind != "" {
			response.Fail(c, http.StatusUnauthorized, kind, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, "session check failed", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID, sess.SessionToken, h.logger)

	h.logger.Info("websocket client connected",
		zap.Int64("user_id", claims.UserID),
		zap.String("ip", c.ClientIP()),
	)

	// Blocks until the connection drops.
	client.Start()
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
