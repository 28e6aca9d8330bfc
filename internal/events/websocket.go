package events

import (
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WSWriter sends events over a websocket connection.
type WSWriter struct {
	conn *websocket.Conn
}

// NewWSWriter wraps conn.
func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

// Send writes ev as a JSON text frame.
func (c *WSWriter) Send(ev Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// Heartbeat sends a ping control frame.
func (c *WSWriter) Heartbeat() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close terminates the connection.
func (c *WSWriter) Close() {
	_ = c.conn.Close()
}
