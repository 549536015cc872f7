package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds one frame write to a client
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the read side
	// declares it gone; pings go out at a fraction of it
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxInboundMessageSize caps client frames; the stream is
	// server-to-client, so anything large from a client is a bug
	maxInboundMessageSize = 1024

	// clientSendBuffer absorbs bursts of job updates per client
	clientSendBuffer = 64
)

// Client is one WebSocket subscriber to the job update stream. Clients only
// receive; inbound frames other than control messages are discarded.
type Client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

// HandleJobsWebSocket upgrades /ws/jobs connections and registers them with
// the hub.
func (s *Server) HandleJobsWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// readPump drains the connection so control frames are processed, and
// unregisters the client when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debugw("WebSocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		// Inbound data frames are ignored; the stream is one-way.
	}
}

// writePump forwards queued frames and keeps the connection alive with
// pings. Exits when the send channel closes or the server shuts down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// close shuts the client down. Only called from the broadcast worker or
// during server shutdown, preserving the single-closer invariant.
func (c *Client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}
