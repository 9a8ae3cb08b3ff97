package router

import (
	"context"
	"log/slog"

	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/metrics"
	"github.com/live-relay/backend/internal/sink"
	"github.com/live-relay/backend/internal/stats"
)

// Forwarder delivers an event verbatim to an interactive client.
type Forwarder interface {
	Forward(ev live.Event) error
}

// Recorder persists records. *sink.Writer implements it.
type Recorder interface {
	Format() sink.Format
	Append(prefix string, category sink.Category, fields []string) error
}

type Config struct {
	// Prefix is the session's record prefix.
	Prefix string
	// Forwarder is optional; nil means no interactive client is attached.
	Forwarder Forwarder
	// Recorder is optional; nil disables persistence.
	Recorder Recorder
	Logger   *slog.Logger
}

// Router fans the events of one session out to its forwarder and recorder
// and keeps that session's audience stats current. It never retries and
// never stops on a failed forward or write.
type Router struct {
	prefix    string
	forwarder Forwarder
	recorder  Recorder
	stats     *stats.Aggregator
	logger    *slog.Logger
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		prefix:    cfg.Prefix,
		forwarder: cfg.Forwarder,
		recorder:  cfg.Recorder,
		stats:     stats.New(),
		logger:    logger.With("component", "router"),
	}
}

// Run routes events until the channel is closed or ctx is cancelled.
func (r *Router) Run(ctx context.Context, events <-chan live.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Route(ev)
		}
	}
}

// Route dispatches a single event.
func (r *Router) Route(ev live.Event) {
	metrics.EventsRouted.WithLabelValues(ev.Type.String()).Inc()

	r.stats.Observe(ev)

	if r.forwarder != nil {
		if err := r.forwarder.Forward(ev); err != nil {
			metrics.ForwardFailures.Inc()
			r.logger.Warn("Forward failed", "broadcaster", ev.Broadcaster, "type", ev.Type.String(), "error", err)
		}
	}

	if r.recorder == nil {
		return
	}
	category, fields, ok := buildRecord(r.recorder.Format(), ev, r.stats.Snapshot())
	if !ok {
		return
	}
	// The sink logs its own failures; the stream continues either way.
	_ = r.recorder.Append(r.prefix, category, fields)
}

func (r *Router) Stats() stats.Snapshot {
	return r.stats.Snapshot()
}
