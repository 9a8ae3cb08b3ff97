package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/live-relay/backend/internal/live"
)

const writeWait = 10 * time.Second

var (
	ErrClientClosed = errors.New("client closed")
	ErrClientSlow   = errors.New("client send buffer full")
)

type client struct {
	conn *websocket.Conn
	// addr identifies the client for admission control.
	addr string

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, addr string, buffer int) *client {
	if buffer <= 0 {
		buffer = 64
	}
	c := &client{
		conn: conn,
		addr: addr,
		send: make(chan []byte, buffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			// Drain so senders never see a full buffer from a dead peer.
			for range c.send {
			}
			return
		}
	}
}

// enqueue queues data without blocking.
func (c *client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientSlow
	}
}

func (c *client) emit(msg WSMessage) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Forward sends a live event to the client under its own type name.
func (c *client) Forward(ev live.Event) error {
	return c.emit(WSMessage{Type: MessageType(ev.Type.String()), Payload: ev.Data})
}
