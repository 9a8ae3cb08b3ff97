package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session lifecycle
var (
	// SessionsOpen tracks sessions currently in the Connected state.
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liverelay_sessions_open",
			Help: "Sessions currently connected",
		},
	)

	// SessionOpens counts open attempts by result (ok, rate_limited, connect_failed).
	SessionOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_session_opens_total",
			Help: "Session open attempts by result",
		},
		[]string{"result"},
	)

	// SessionsEnded counts terminal transitions by final state.
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_sessions_ended_total",
			Help: "Sessions that reached a terminal state, by state",
		},
		[]string{"state"},
	)
)

// Routing and persistence
var (
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_events_routed_total",
			Help: "Events dispatched by the session router, by event type",
		},
		[]string{"type"},
	)

	ForwardFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liverelay_forward_failures_total",
			Help: "Events that could not be forwarded to an interactive client",
		},
	)

	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_sink_writes_total",
			Help: "Durable record appends by category and status",
		},
		[]string{"category", "status"},
	)

	SinkWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liverelay_sink_write_duration_seconds",
			Help:    "Durable record append latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)
)

// Watchdog and front
var (
	WatchdogTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liverelay_watchdog_ticks_total",
			Help: "Watchdog reconnect passes",
		},
	)

	HostsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liverelay_watchdog_hosts_online",
			Help: "Watched hosts currently marked online",
		},
	)

	ClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liverelay_ws_clients",
			Help: "Interactive websocket clients currently connected",
		},
	)

	AdmissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_admission_rejections_total",
			Help: "Requests rejected by admission control, by reason",
		},
		[]string{"reason"},
	)
)
