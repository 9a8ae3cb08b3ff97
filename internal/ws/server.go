package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/live-relay/backend/internal/router"
	"github.com/live-relay/backend/internal/session"
	"github.com/live-relay/backend/internal/watchdog"
)

const maxClientMessage = 64 << 10

// SessionLister exposes the process-wide session registry.
type SessionLister interface {
	SessionCounter
	Snapshot() []session.Info
}

// HostLister exposes watchdog host state.
type HostLister interface {
	Hosts() []watchdog.HostStatus
}

type Options struct {
	Opener   Opener
	Sessions SessionLister
	// Hosts is optional; without it /api/hosts returns 404.
	Hosts HostLister
	// Recorder is optional; nil makes the front forward-only.
	Recorder          router.Recorder
	StaticDir         string
	AllowedOrigins    []string
	StatisticInterval time.Duration
	SendBuffer        int
	Clock             clockwork.Clock
	Logger            *slog.Logger
}

type Server struct {
	opener         Opener
	sessions       SessionLister
	hosts          HostLister
	recorder       router.Recorder
	broadcaster    *Broadcaster
	staticDir      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	started        time.Time
	logger         *slog.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opener:         opts.Opener,
		sessions:       opts.Sessions,
		hosts:          opts.Hosts,
		recorder:       opts.Recorder,
		broadcaster:    NewBroadcaster(opts.Sessions, opts.StatisticInterval, opts.SendBuffer, opts.Clock, logger),
		staticDir:      opts.StaticDir,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		started:        time.Now(),
		logger:         logger.With("component", "front"),
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Routes returns the HTTP handler for the front.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Route("/api", func(api chi.Router) {
		api.Get("/sessions", s.handleSessions)
		api.Get("/hosts", s.handleHosts)
		api.Get("/health", s.handleHealth)
	})
	r.Handle("/metrics", promhttp.Handler())

	if s.staticDir != "" {
		s.logger.Info("Serving static files", "dir", s.staticDir)
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessage)

	addr := clientAddr(r)
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	s.logger.Info("WebSocket client connected", "addr", addr, "origin", origin)

	c := s.broadcaster.AddClient(conn, addr)
	b := newBinding(c, s.opener, s.recorder, s.logger)
	defer func() {
		b.close()
		s.broadcaster.RemoveClient(c)
		s.logger.Info("WebSocket client disconnected", "addr", addr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("Ignoring malformed client message", "addr", addr, "error", err)
			continue
		}
		b.handle(r.Context(), msg)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleHosts(w http.ResponseWriter, _ *http.Request) {
	if s.hosts == nil {
		http.Error(w, "watchdog not running", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.hosts.Hosts())
}

type healthPayload struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	Sessions   int     `json:"sessions"`
	Clients    int     `json:"clients"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := healthPayload{
		Status:   "ok",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: s.sessions.Count(),
		Clients:  s.broadcaster.ClientCount(),
	}

	if proc, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercentWithContext(r.Context()); err == nil {
			payload.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
			payload.RSSBytes = mem.RSS
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

// checkOrigin accepts every origin unless an allow list is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return s.allowedHosts[parsed.Host]
	}
	return false
}

// clientAddr returns the client IP without port; RealIP has already
// applied any forwarding headers.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the front on addr and broadcasts statistics
// until ctx is cancelled. Open websocket clients are disconnected on
// shutdown, which closes their sessions.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.broadcaster.DisconnectAll)

	go s.broadcaster.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
