// Package bridge connects to an upstream live-protocol bridge over a
// websocket. The bridge owns the broadcast protocol and speaks simple
// {"event": name, "data": payload} frames to us.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/live-relay/backend/internal/live"
)

// Frame names used during the handshake.
const (
	frameConnected = "connected"
	frameError     = "error"
)

const (
	writeWait   = 10 * time.Second
	messageSize = 1 << 20
)

var ErrRejected = errors.New("bridge rejected connection")

type Provider struct {
	base   string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewProvider returns a provider that dials <baseURL>/<identifier>.
func NewProvider(baseURL string, logger *slog.Logger) (*Provider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported bridge url scheme %q", u.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		base:   strings.TrimRight(u.String(), "/"),
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "bridge"),
	}, nil
}

func (p *Provider) Open(identifier string, options map[string]any) (live.Conn, error) {
	return &Conn{
		url:        p.base + "/" + url.PathEscape(identifier),
		identifier: identifier,
		options:    options,
		dialer:     p.dialer,
		logger:     p.logger.With("broadcaster", identifier),
		msgs:       make(chan live.Message, 64),
		done:       make(chan struct{}),
	}, nil
}

type Conn struct {
	url        string
	identifier string
	options    map[string]any
	dialer     *websocket.Dialer
	logger     *slog.Logger
	msgs       chan live.Message
	done       chan struct{}

	mu       sync.Mutex
	ws       *websocket.Conn
	closed   bool
	pumping  bool
	closeErr error
}

type hello struct {
	Options map[string]any `json:"options,omitempty"`
}

func (c *Conn) Connect(ctx context.Context) (json.RawMessage, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	ws.SetReadLimit(messageSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return nil, errors.New("bridge connection closed")
	}
	c.ws = ws
	c.mu.Unlock()

	// Unblock the handshake read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { ws.SetReadDeadline(time.Now()) })
	defer stop()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(hello{Options: c.options}); err != nil {
		return nil, fmt.Errorf("send options: %w", err)
	}

	for {
		var msg live.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read handshake: %w", err)
		}
		switch msg.Name {
		case frameConnected:
			ws.SetReadDeadline(time.Time{})
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return nil, errors.New("bridge connection closed")
			}
			c.pumping = true
			c.mu.Unlock()
			go c.readPump(ws)
			return msg.Data, nil
		case frameError:
			var reason string
			if json.Unmarshal(msg.Data, &reason) != nil {
				reason = string(msg.Data)
			}
			return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
		default:
			c.logger.Debug("Ignoring frame before handshake", "event", msg.Name)
		}
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	defer close(c.msgs)
	for {
		var msg live.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if !closed {
					c.logger.Warn("Bridge read failed", "error", err)
				}
			}
			return
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) Messages() <-chan live.Message { return c.msgs }

// Disconnect closes the websocket; the read pump then closes Messages.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	c.closed = true
	close(c.done)
	if c.ws != nil {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	}
	if !c.pumping {
		close(c.msgs)
	}
	return c.closeErr
}
