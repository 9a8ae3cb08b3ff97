// Package watchdog keeps sessions open for a fixed set of broadcasters,
// reconnecting the ones that are offline on every tick and recording their
// events through a per-session router.
package watchdog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/live-relay/backend/internal/metrics"
	"github.com/live-relay/backend/internal/router"
	"github.com/live-relay/backend/internal/session"
)

const DefaultInterval = 10 * time.Second

// Opener opens sessions. *session.Opener implements it.
type Opener interface {
	Open(ctx context.Context, req session.Request) (*session.Session, error)
}

type Config struct {
	Hosts    []string
	Interval time.Duration
	Policy   OnlinePolicy
	// Options are passed to every session open.
	Options map[string]any
	// Recorder persists routed events; nil records nothing.
	Recorder router.Recorder
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Watchdog struct {
	opener   Opener
	recorder router.Recorder
	options  map[string]any
	interval time.Duration
	policy   OnlinePolicy
	clock    clockwork.Clock
	logger   *slog.Logger

	mu    sync.Mutex
	order []string
	hosts map[string]*host

	attempts sync.WaitGroup
	sessions sync.WaitGroup
}

func New(opener Opener, cfg Config) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyEager
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	order := lo.Uniq(lo.Compact(lo.Map(cfg.Hosts, func(h string, _ int) string {
		return strings.TrimSpace(h)
	})))
	hosts := make(map[string]*host, len(order))
	for _, id := range order {
		hosts[id] = &host{status: HostStatus{Identifier: id}}
	}

	return &Watchdog{
		opener:   opener,
		recorder: cfg.Recorder,
		options:  cfg.Options,
		interval: cfg.Interval,
		policy:   cfg.Policy,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "watchdog"),
		order:    order,
		hosts:    hosts,
	}
}

// Start runs a reconnect pass immediately and then on every interval
// until ctx is cancelled. On return every session it opened is closed.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Watchdog started", "hosts", w.order, "interval", w.interval, "policy", w.policy)

	w.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.closeAll()
			w.logger.Info("Watchdog stopped")
			return
		case <-ticker.Chan():
			w.Tick(ctx)
		}
	}
}

// Tick starts an attempt for every host that is due under the online
// policy and returns without waiting for them. Attempts for different hosts
// run independently, so a host stuck in connect never delays another.
func (w *Watchdog) Tick(ctx context.Context) {
	metrics.WatchdogTicks.Inc()
	now := w.clock.Now()

	type launch struct {
		id  string
		ctx context.Context
		gen uint64
	}

	w.mu.Lock()
	due := lo.Filter(w.order, func(id string, _ int) bool {
		return w.hosts[id].due(w.policy)
	})
	launches := lo.Map(due, func(id string, _ int) launch {
		actx, cancel := context.WithCancel(ctx)
		gen := w.hosts[id].recordAttempt(now, w.policy == PolicyEager, cancel)
		return launch{id: id, ctx: actx, gen: gen}
	})
	w.updateOnlineGauge()
	w.mu.Unlock()

	for _, l := range launches {
		l := l
		w.attempts.Add(1)
		go func() {
			defer w.attempts.Done()
			w.attempt(ctx, l.ctx, l.id, l.gen)
		}()
	}
}

// attempt opens a session with attemptCtx; the session itself is then
// supervised under ctx.
func (w *Watchdog) attempt(ctx, attemptCtx context.Context, id string, gen uint64) {
	s, err := w.opener.Open(attemptCtx, session.Request{Identifier: id, Options: w.options})

	w.mu.Lock()
	h := w.hosts[id]
	if h.gen != gen {
		w.mu.Unlock()
		if s != nil {
			s.Close()
		}
		w.logger.Debug("Superseded attempt discarded", "broadcaster", id)
		return
	}
	if err != nil {
		h.recordFailure(err)
		failures := h.status.ConsecutiveFailures
		w.updateOnlineGauge()
		w.mu.Unlock()
		w.logger.Info("Host offline", "broadcaster", id, "failures", failures, "error", err)
		return
	}
	h.recordSuccess(s, w.clock.Now())
	w.updateOnlineGauge()
	w.mu.Unlock()

	w.logger.Info("Host online", "broadcaster", id, "session", s.ID, "prefix", s.Prefix)

	w.sessions.Add(1)
	go w.supervise(ctx, id, s)
}

// supervise routes the session's events and marks the host offline once
// the session ends. A stream end closes the session explicitly.
func (w *Watchdog) supervise(ctx context.Context, id string, s *session.Session) {
	defer w.sessions.Done()

	r := router.New(router.Config{
		Prefix:   s.Prefix,
		Recorder: w.recorder,
		Logger:   w.logger.With("broadcaster", id),
	})
	routed := make(chan struct{})
	go func() {
		defer close(routed)
		r.Run(ctx, s.Events())
	}()

	for sig := range s.Signals() {
		if sig.Type == session.SignalEnded {
			w.logger.Info("Stream ended", "broadcaster", id, "session", s.ID)
			s.Close()
		}
	}

	w.mu.Lock()
	w.hosts[id].recordOffline(s)
	w.updateOnlineGauge()
	w.mu.Unlock()

	<-routed
}

func (w *Watchdog) closeAll() {
	w.mu.Lock()
	for _, h := range w.hosts {
		if h.inFlight {
			h.cancel()
		}
	}
	w.mu.Unlock()
	w.attempts.Wait()

	w.mu.Lock()
	open := lo.FilterMap(w.order, func(id string, _ int) (*session.Session, bool) {
		s := w.hosts[id].sess
		return s, s != nil
	})
	w.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	w.sessions.Wait()
}

// Hosts returns the status of every watched host in configuration order.
func (w *Watchdog) Hosts() []HostStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lo.Map(w.order, func(id string, _ int) HostStatus {
		return w.hosts[id].status
	})
}

// updateOnlineGauge must be called with mu held.
func (w *Watchdog) updateOnlineGauge() {
	online := lo.CountBy(w.order, func(id string) bool {
		return w.hosts[id].status.Online
	})
	metrics.HostsOnline.Set(float64(online))
}
