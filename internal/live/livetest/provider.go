// Package livetest provides a scriptable live.Provider for tests.
package livetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/live-relay/backend/internal/live"
)

// ErrNotLive is the default connect error for identifiers marked offline.
var ErrNotLive = errors.New("broadcaster is not live")

// Provider records every Open call and hands out scriptable Conns.
type Provider struct {
	mu       sync.Mutex
	conns    map[string][]*Conn
	failures map[string]error
	gates    map[string]chan struct{}
	opens    atomic.Int32
}

func NewProvider() *Provider {
	return &Provider{
		conns:    make(map[string][]*Conn),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// FailConnect makes Connect fail for identifier until Recover is called.
func (p *Provider) FailConnect(identifier string, err error) {
	if err == nil {
		err = ErrNotLive
	}
	p.mu.Lock()
	p.failures[identifier] = err
	p.mu.Unlock()
}

func (p *Provider) Recover(identifier string) {
	p.mu.Lock()
	delete(p.failures, identifier)
	p.mu.Unlock()
}

// Hold makes Connect for identifier block until the returned function is
// called (or the connect context ends).
func (p *Provider) Hold(identifier string) (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gates[identifier] = gate
	p.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (p *Provider) Open(identifier string, options map[string]any) (live.Conn, error) {
	p.opens.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Conn{
		Identifier: identifier,
		Options:    options,
		connectErr: p.failures[identifier],
		gate:       p.gates[identifier],
		msgs:       make(chan live.Message, 64),
		closed:     make(chan struct{}),
	}
	p.conns[identifier] = append(p.conns[identifier], c)
	return c, nil
}

// Opens returns the total number of Open calls.
func (p *Provider) Opens() int { return int(p.opens.Load()) }

// Conns returns every Conn opened for identifier.
func (p *Provider) Conns(identifier string) []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns[identifier]))
	copy(out, p.conns[identifier])
	return out
}

// Last returns the most recent Conn for identifier, or nil.
func (p *Provider) Last(identifier string) *Conn {
	conns := p.Conns(identifier)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Conn is a scriptable live.Conn.
type Conn struct {
	Identifier string
	Options    map[string]any

	connectErr  error
	gate        chan struct{}
	msgs        chan live.Message
	closed      chan struct{}
	closeOnce   sync.Once
	dropOnce    sync.Once
	disconnects atomic.Int32
}

func (c *Conn) Connect(ctx context.Context) (json.RawMessage, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return json.RawMessage(fmt.Sprintf(`{"roomId":"room-%s"}`, c.Identifier)), nil
}

func (c *Conn) Messages() <-chan live.Message { return c.msgs }

func (c *Conn) Disconnect() error {
	c.disconnects.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Disconnects returns how many times Disconnect was called.
func (c *Conn) Disconnects() int { return int(c.disconnects.Load()) }

// Emit marshals data and delivers it as message name. It reports false if
// the connection was already disconnected.
func (c *Conn) Emit(name string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return c.EmitRaw(name, string(raw))
}

func (c *Conn) EmitRaw(name, raw string) bool {
	msg := live.Message{Name: name}
	if raw != "" {
		msg.Data = json.RawMessage(raw)
	}
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.msgs <- msg:
		return true
	case <-c.closed:
		return false
	}
}

// End signals that the broadcast concluded.
func (c *Conn) End() bool { return c.EmitRaw(live.MsgStreamEnd, "") }

// Drop simulates an unexpected connection loss. Do not Emit afterwards.
func (c *Conn) Drop() {
	c.dropOnce.Do(func() { close(c.msgs) })
}
