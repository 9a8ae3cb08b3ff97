package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/live-relay/backend/internal/router"
	"github.com/live-relay/backend/internal/session"
)

// Opener opens sessions. *session.Opener implements it.
type Opener interface {
	Open(ctx context.Context, req session.Request) (*session.Session, error)
}

// binding ties one websocket client to at most one session at a time.
type binding struct {
	client   *client
	opener   Opener
	recorder router.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	current *session.Session
	wg      sync.WaitGroup
}

func newBinding(c *client, opener Opener, recorder router.Recorder, logger *slog.Logger) *binding {
	return &binding{
		client:   c,
		opener:   opener,
		recorder: recorder,
		logger:   logger.With("client", c.addr),
	}
}

// handle dispatches one client request.
func (b *binding) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case MsgSetUniqueID:
		b.setUniqueID(ctx, msg.UniqueID, msg.Options)
	default:
		b.logger.Debug("Ignoring client message", "type", msg.Type)
	}
}

// setUniqueID replaces the bound session with a new one for identifier.
// A rejected open yields a single tiktokDisconnected message.
func (b *binding) setUniqueID(ctx context.Context, identifier string, options map[string]any) {
	b.detach()

	s, err := b.opener.Open(ctx, session.Request{
		Identifier: identifier,
		Options:    options,
		Client:     b.client.addr,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, session.ErrRateLimited) {
			reason = RateLimitedReason
		}
		b.logger.Info("Session open rejected", "broadcaster", identifier, "error", err)
		b.client.emit(WSMessage{Type: MsgDisconnected, Payload: reason})
		return
	}

	b.mu.Lock()
	b.current = s
	b.mu.Unlock()

	// The Connected signal is buffered by the session, so reading it here
	// keeps tiktokConnected ahead of every event.
	if sig, ok := <-s.Signals(); ok && sig.Type == session.SignalConnected {
		b.client.emit(WSMessage{Type: MsgConnected, Payload: sig.Room})
	}

	r := router.New(router.Config{
		Prefix:    s.Prefix,
		Forwarder: b.client,
		Recorder:  b.recorder,
		Logger:    b.logger,
	})

	b.wg.Add(1)
	go b.relay(s, r)
}

// relay routes events until the session ends, then reports how it ended.
func (b *binding) relay(s *session.Session, r *router.Router) {
	defer b.wg.Done()

	routed := make(chan struct{})
	go func() {
		defer close(routed)
		r.Run(context.Background(), s.Events())
	}()

	var terminal session.Signal
	for sig := range s.Signals() {
		if sig.IsTerminal() {
			terminal = sig
		}
	}
	// Let queued events reach the client before the end notice.
	<-routed

	b.mu.Lock()
	stillBound := b.current == s
	if stillBound {
		b.current = nil
	}
	b.mu.Unlock()
	if !stillBound {
		return
	}

	switch terminal.Type {
	case session.SignalEnded:
		b.client.emit(WSMessage{Type: MsgStreamEnd})
	case session.SignalDisconnected:
		b.client.emit(WSMessage{Type: MsgDisconnected, Payload: terminal.Reason})
	}
}

// detach closes the bound session, if any, without notifying the client.
func (b *binding) detach() {
	b.mu.Lock()
	s := b.current
	b.current = nil
	b.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// close releases the binding when the client goes away.
func (b *binding) close() {
	b.detach()
	b.wg.Wait()
}
