package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/nexus/server/wslogs"
)

// WebSocket timeouts, following the gorilla chat example
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages
	maxMessageSize = 4096

	sendBuffer = 32
)

// Client is one dashboard WebSocket connection
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan any
	sendLog   chan *wslogs.Batch
	id        string
	closeOnce sync.Once
}

// clientMessage is what a client may send; only pings are understood
type clientMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket upgrades the connection and attaches it to the hub
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Debugw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		send:    make(chan any, sendBuffer),
		sendLog: make(chan *wslogs.Batch, sendBuffer),
		id:      uuid.NewString(),
	}

	s.wg.Add(2)
	select {
	case s.register <- client:
	case <-s.ctx.Done():
		s.wg.Add(-2)
		conn.Close()
		return
	}

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// readPump drains client messages and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.logger.Debugw("Ignoring malformed client message", "client_id", c.id, "error", err)
			continue
		}
		if msg.Type != "ping" {
			c.server.logger.Debugw("Unknown message type", "type", msg.Type, "client_id", c.id)
		}
	}
}

// writePump writes events and log batches to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.server.logger.Debugw("Event write error", "client_id", c.id, "error", err)
				return
			}

		case batch, ok := <-c.sendLog:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// Log errors shouldn't kill the connection
			if err := c.conn.WriteJSON(map[string]any{"type": EventLogs, "data": batch}); err != nil {
				c.server.logger.Debugw("Log batch write error", "client_id", c.id, "error", err)
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close closes the client's channels exactly once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		close(c.sendLog)
	})
}
