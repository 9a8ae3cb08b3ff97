package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/metrics"
)

// Session owns one live connection to one broadcaster. Events are delivered
// on Events in the order the provider emits them; lifecycle transitions are
// delivered on Signals (SignalConnected first, then exactly one terminal).
type Session struct {
	ID         string
	Identifier string
	Client     string
	Options    map[string]any
	CreatedAt  time.Time
	Prefix     string

	conn   live.Conn
	logger *slog.Logger

	mu    sync.RWMutex
	state State

	events   chan live.Event
	signals  chan Signal
	done     chan struct{}
	stop     chan struct{}
	pumpDone chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once
	onFinish   func(*Session)
}

func newSession(id, identifier, client string, options map[string]any, created time.Time, prefix string, conn live.Conn, logger *slog.Logger) *Session {
	return &Session{
		ID:         id,
		Identifier: identifier,
		Client:     client,
		Options:    options,
		CreatedAt:  created,
		Prefix:     prefix,
		conn:       conn,
		logger:     logger.With("session", id, "broadcaster", identifier),
		state:      Connecting,
		events:     make(chan live.Event),
		// Connected plus one terminal signal; sends never block.
		signals:  make(chan Signal, 2),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

// start enters Connected and begins pumping provider messages.
func (s *Session) start(room json.RawMessage) {
	s.mu.Lock()
	s.state = Connected
	s.mu.Unlock()

	metrics.SessionsOpen.Inc()
	s.signals <- Signal{Type: SignalConnected, Room: room}
	s.logger.Info("Session connected")

	go s.pump()
}

func (s *Session) pump() {
	defer close(s.pumpDone)
	defer close(s.events)

	msgs := s.conn.Messages()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				s.finish(Disconnected, "connection lost")
				return
			}

			switch msg.Name {
			case live.MsgStreamEnd:
				s.finish(Ended, "stream ended")
				return
			case live.MsgDisconnected:
				s.finish(Disconnected, disconnectReason(msg.Data))
				return
			}

			typ, known := live.ParseEventType(msg.Name)
			if !known {
				s.logger.Debug("Ignoring unknown message", "name", msg.Name)
				continue
			}

			ev := live.Event{Type: typ, Broadcaster: s.Identifier, Data: msg.Data}
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

// finish records the terminal state once, emits the terminal signal and
// releases the connection.
func (s *Session) finish(state State, reason string) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		wasConnected := s.state == Connected
		s.state = state
		s.mu.Unlock()

		sig := Signal{Type: SignalDisconnected, Reason: reason}
		if state == Ended {
			sig.Type = SignalEnded
		}
		s.signals <- sig
		close(s.signals)
		close(s.done)

		if err := s.conn.Disconnect(); err != nil {
			s.logger.Warn("Disconnect failed", "error", err)
		}
		if wasConnected {
			metrics.SessionsOpen.Dec()
		}
		metrics.SessionsEnded.WithLabelValues(state.String()).Inc()
		s.logger.Info("Session finished", "state", state.String(), "reason", reason)

		if s.onFinish != nil {
			s.onFinish(s)
		}
	})
}

// Events returns the ordered event stream. It is closed once the session
// leaves Connected.
func (s *Session) Events() <-chan live.Event { return s.events }

// Signals returns the lifecycle signal stream. It is closed after the
// terminal signal.
func (s *Session) Signals() <-chan Signal { return s.signals }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		Identifier: s.Identifier,
		Client:     s.Client,
		State:      s.State(),
		CreatedAt:  s.CreatedAt,
		Prefix:     s.Prefix,
	}
}

// Close tears down the connection and waits for event delivery to stop.
// Calling Close more than once is a no-op. Events already handed to a
// consumer are not recalled.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.finish(Disconnected, "closed")
		<-s.pumpDone
	})
	return nil
}

func disconnectReason(data json.RawMessage) string {
	if len(data) == 0 {
		return "disconnected"
	}
	var reason string
	if err := json.Unmarshal(data, &reason); err == nil && reason != "" {
		return reason
	}
	return string(data)
}
