package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/metrics"
)

// Admission decides whether a client may open another session.
type Admission interface {
	Allow(client string) bool
}

// PrefixFunc derives the durable record prefix for a new session.
type PrefixFunc func(identifier string, created time.Time) string

// Request asks for a session on one broadcaster.
type Request struct {
	Identifier string
	Options    map[string]any
	// Client identifies the requester for admission control. Empty for
	// internal owners such as the watchdog.
	Client string
}

type OpenerConfig struct {
	Provider    live.Provider
	Registry    *Registry
	Credential  string
	Admission   Admission // nil admits everyone
	Prefix      PrefixFunc
	Clock       clockwork.Clock
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Opener creates sessions. It is safe for concurrent use.
type Opener struct {
	provider    live.Provider
	registry    *Registry
	credential  string
	admission   Admission
	prefix      PrefixFunc
	clock       clockwork.Clock
	openTimeout time.Duration
	logger      *slog.Logger
}

func NewOpener(cfg OpenerConfig) *Opener {
	o := &Opener{
		provider:    cfg.Provider,
		registry:    cfg.Registry,
		credential:  cfg.Credential,
		admission:   cfg.Admission,
		prefix:      cfg.Prefix,
		clock:       cfg.Clock,
		openTimeout: cfg.OpenTimeout,
		logger:      cfg.Logger,
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.prefix == nil {
		o.prefix = func(identifier string, _ time.Time) string { return identifier }
	}
	o.logger = o.logger.With("component", "session")
	return o
}

func (o *Opener) Registry() *Registry { return o.registry }

// Open sanitizes the request options, checks admission and connects. On
// success the returned session is Connected and registered.
func (o *Opener) Open(ctx context.Context, req Request) (*Session, error) {
	identifier := strings.TrimSpace(req.Identifier)
	options := SanitizeOptions(req.Options, o.credential)

	if o.admission != nil && req.Client != "" && !o.admission.Allow(req.Client) {
		metrics.SessionOpens.WithLabelValues("rate_limited").Inc()
		o.logger.Warn("Session rejected by admission control", "client", req.Client, "broadcaster", identifier)
		return nil, ErrRateLimited
	}

	if identifier == "" {
		metrics.SessionOpens.WithLabelValues("connect_failed").Inc()
		return nil, &ConnectError{Reason: "missing broadcaster identifier"}
	}

	conn, err := o.provider.Open(identifier, options)
	if err != nil {
		metrics.SessionOpens.WithLabelValues("connect_failed").Inc()
		return nil, &ConnectError{Identifier: identifier, Reason: "open", Err: err}
	}

	created := o.clock.Now()
	s := newSession(uuid.NewString(), identifier, req.Client, options, created, o.prefix(identifier, created), conn, o.logger)

	connectCtx := ctx
	if o.openTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, o.openTimeout)
		defer cancel()
	}

	room, err := conn.Connect(connectCtx)
	if err != nil {
		_ = conn.Disconnect()
		metrics.SessionOpens.WithLabelValues("connect_failed").Inc()
		return nil, &ConnectError{Identifier: identifier, Reason: "connect", Err: err}
	}

	s.onFinish = func(s *Session) { o.registry.Remove(s.ID) }
	o.registry.Add(s)
	metrics.SessionOpens.WithLabelValues("ok").Inc()
	s.start(room)
	return s, nil
}
