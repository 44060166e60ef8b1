package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The progress stream is one-directional: the server pushes SyncUpdate
// frames and clients only answer pings. A sync run can go minutes
// between updates while accounts wait on upstream APIs, so the
// keepalive interval is what holds the connection open, not traffic.
const (
	// A run emits at most two updates per account (admission and the
	// terminal status), so this absorbs a full default-ceiling burst.
	updateBuffer = 32

	pingInterval = 45 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 5 * time.Second
)

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
		return
	}
	client := &Client{
		conn: conn,
		send: make(chan []byte, updateBuffer),
	}
	hub.Register(userID, client)
	go client.streamUpdates(hub, userID)
	client.keepAlive(hub, userID)
}

// keepAlive is the read half. Subscribers have nothing to say; it
// exists to refresh the pong deadline and to notice the peer going
// away. Any data frame is a protocol violation and drops the client.
func (c *Client) keepAlive(hub *Hub, userID string) {
	defer func() {
		hub.Unregister(userID, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(64)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "progress stream is read-only"),
			deadline)
		return
	}
}

// streamUpdates is the write half: queued SyncUpdate payloads from the
// hub, interleaved with pings.
func (c *Client) streamUpdates(hub *Hub, userID string) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		hub.Unregister(userID, c)
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "sync stream closed"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
