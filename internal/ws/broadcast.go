package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/live-relay/backend/internal/metrics"
)

// SessionCounter reports the number of open sessions process-wide.
type SessionCounter interface {
	Count() int
}

// Broadcaster tracks connected clients and periodically tells all of
// them how many sessions the process holds.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	counter  SessionCounter
	interval time.Duration
	buffer   int
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewBroadcaster(counter SessionCounter, interval time.Duration, buffer int, clock clockwork.Clock, logger *slog.Logger) *Broadcaster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		counter:  counter,
		interval: interval,
		buffer:   buffer,
		clock:    clock,
		logger:   logger.With("component", "broadcaster"),
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn, addr string) *client {
	c := newClient(conn, addr, b.buffer)

	b.mu.Lock()
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()

	metrics.ClientsConnected.Set(float64(n))
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	n := len(b.clients)
	b.mu.Unlock()

	metrics.ClientsConnected.Set(float64(n))
}

// Run broadcasts statistics every interval until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.interval <= 0 {
		return
	}
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.broadcastStatistic()
		}
	}
}

func (b *Broadcaster) broadcastStatistic() {
	count := 0
	if b.counter != nil {
		count = b.counter.Count()
	}
	b.broadcast(WSMessage{Type: MsgStatistic, Payload: StatisticPayload{GlobalConnectionCount: count}})
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := encode(msg)
	if err != nil {
		b.logger.Error("Broadcast marshal failed", "type", msg.Type, "error", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if err := c.enqueue(data); errors.Is(err, ErrClientSlow) {
			// Client can't keep up, disconnect it
			b.logger.Warn("Client too slow, disconnecting", "addr", c.addr)
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// DisconnectAll closes every client connection. Each client's read loop
// then tears down its binding.
func (b *Broadcaster) DisconnectAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		c.conn.Close()
	}
}
