package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// client is one websocket connection. Reads happen on the HTTP handler
// goroutine and writes on a dedicated writer goroutine fed by send, so the
// event loop never blocks on a slow connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString()[:8],
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// enqueue queues a message without blocking. It reports false when the
// buffer is full. Only the event loop calls it.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the writer goroutine. Safe to call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump drains send until it is closed, then closes the connection.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Debug("Websocket write failed", "client", c.id, "error", err)
			// Keep draining so close() never races a blocked sender.
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
