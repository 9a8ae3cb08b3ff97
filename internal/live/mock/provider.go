// Package mock is a live.Provider that fabricates broadcasts locally. It
// is used for demos and for running the relay without an upstream bridge.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/live-relay/backend/internal/live"
)

// OfflinePrefix marks identifiers that are never live.
const OfflinePrefix = "offline"

var ErrNotLive = errors.New("mock: broadcaster is not live")

type Config struct {
	// Tick is the interval between generated events.
	Tick time.Duration
	// StreamLength ends the broadcast with streamEnd after this many ticks.
	// Zero means the broadcast runs until disconnected.
	StreamLength int
	Clock        clockwork.Clock
	// Seed fixes the random source; zero uses the current time.
	Seed int64
}

type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Open(identifier string, options map[string]any) (live.Conn, error) {
	seed := p.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Conn{
		identifier: identifier,
		cfg:        p.cfg,
		gen:        newGenerator(identifier, newRand(seed)),
		msgs:       make(chan live.Message, 16),
		stop:       make(chan struct{}),
	}, nil
}

type Conn struct {
	identifier string
	cfg        Config
	gen        *generator
	msgs       chan live.Message

	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	started bool
}

func (c *Conn) Connect(ctx context.Context) (json.RawMessage, error) {
	if strings.HasPrefix(c.identifier, OfflinePrefix) {
		return nil, fmt.Errorf("%w: %s", ErrNotLive, c.identifier)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, errors.New("mock: already connected")
	}
	c.started = true

	room, _ := json.Marshal(map[string]any{
		"roomId":      "mock-" + c.identifier,
		"title":       c.identifier + " is live",
		"viewerCount": c.gen.viewers,
	})
	go c.run()
	return room, nil
}

func (c *Conn) Messages() <-chan live.Message { return c.msgs }

func (c *Conn) Disconnect() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	// run owns msgs once started; otherwise nobody will close it.
	if !c.started {
		c.started = true
		close(c.msgs)
	}
	return nil
}

func (c *Conn) run() {
	defer close(c.msgs)

	ticker := c.cfg.Clock.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			tick++
			if c.cfg.StreamLength > 0 && tick > c.cfg.StreamLength {
				c.send(live.Message{Name: live.MsgStreamEnd})
				return
			}
			for _, msg := range c.gen.advance(tick) {
				if !c.send(msg) {
					return
				}
			}
		}
	}
}

func (c *Conn) send(msg live.Message) bool {
	select {
	case c.msgs <- msg:
		return true
	case <-c.stop:
		return false
	}
}
