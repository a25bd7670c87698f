package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMsgSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the reverse proxy's concern in this deployment
		return true
	},
}

// wsClient adapts a websocket connection onto a hub session
type wsClient struct {
	hub     *Hub
	session *Session
	conn    *websocket.Conn
}

// HandleWebSocket upgrades the request and registers an anonymous session.
// The session stays anonymous until the client sends a user-connected
// handshake, which binds its identity and triggers presence broadcasts.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &wsClient{
		hub:     h,
		session: h.Register(uuid.New().String()),
		conn:    conn,
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection into the hub.
// The only inbound message the server understands is the identity handshake.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c.session.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", "session_id", c.session.ID, "error", err)
			}
			return
		}

		var inbound struct {
			EventType EventType       `json:"eventType"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &inbound); err != nil {
			c.hub.logger.Debug("Ignoring malformed client message", "session_id", c.session.ID)
			continue
		}

		if inbound.EventType == EventUserConnected {
			var identity Identity
			if err := json.Unmarshal(inbound.Data, &identity); err != nil || identity.UserID == "" {
				c.hub.logger.Warn("Invalid handshake payload", "session_id", c.session.ID)
				continue
			}
			c.hub.BindIdentity(c.session.ID, identity)
		}
	}
}

// writePump pumps envelopes from the session outbox to the websocket
// connection, preserving the order the hub issued them.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.session.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
