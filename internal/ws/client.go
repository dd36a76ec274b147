// internal/ws/client.go
package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection of one logged-in device.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userID       int64
	sessionToken string
	logger       *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, sessionToken string, logger *zap.Logger) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 64),
		userID:       userID,
		sessionToken: sessionToken,
		logger:       logger,
	}
}

// Start registers the client and runs its pumps. Blocks until the
// connection drops.
func (c *Client) Start() {
	c.hub.register <- c

	go c.writePump()
	c.readPump()
}

// Send queues an event for delivery, dropping it if the client is slow.
func (c *Client) Send(e *Event) {
	data, err := marshalEvent(e)
	if err != nil {
		c.logger.Warn("failed to marshal ws event", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("ws send buffer full, dropping event", zap.Int64("user_id", c.userID))
	}
}

// Close tears down the outbound queue. Safe to call once, by the hub.
func (c *Client) Close() {
	close(c.send)
}

// readPump drains inbound frames; clients only listen, so everything
// but control frames is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
