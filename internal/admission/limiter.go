// Package admission decides whether a client may open another session.
package admission

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/live-relay/backend/internal/metrics"
)

// Rejection reasons, used as metric labels.
const (
	ReasonRate     = "rate_limit"
	ReasonSessions = "session_limit"
)

const (
	cleanupEvery = 5 * time.Minute
	idleAfter    = 10 * time.Minute
)

// SessionCounter reports how many sessions a client currently holds.
type SessionCounter interface {
	CountByClient(client string) int
}

type Config struct {
	// MaxSessionsPerClient caps concurrently open sessions. Zero disables the cap.
	MaxSessionsPerClient int
	// RequestsPerMinute is the sustained open rate per client. Zero disables it.
	RequestsPerMinute float64
	Burst             int
	Clock             clockwork.Clock
}

// Limiter combines a per-client token bucket with a concurrent session cap.
type Limiter struct {
	counter     SessionCounter
	maxSessions int
	limit       rate.Limit
	burst       int
	clock       clockwork.Clock

	mu        sync.Mutex
	buckets   map[string]*bucket
	cleanupAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(cfg Config, counter SessionCounter) *Limiter {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		counter:     counter,
		maxSessions: cfg.MaxSessionsPerClient,
		limit:       rate.Limit(cfg.RequestsPerMinute / 60),
		burst:       cfg.Burst,
		clock:       cfg.Clock,
		buckets:     make(map[string]*bucket),
		cleanupAt:   cfg.Clock.Now().Add(cleanupEvery),
	}
}

// Allow reports whether client may open a session now. A request that is
// rejected for holding too many sessions still consumes a token.
func (l *Limiter) Allow(client string) bool {
	if !l.allowRate(client) {
		metrics.AdmissionRejections.WithLabelValues(ReasonRate).Inc()
		return false
	}
	if l.maxSessions > 0 && l.counter != nil && l.counter.CountByClient(client) >= l.maxSessions {
		metrics.AdmissionRejections.WithLabelValues(ReasonSessions).Inc()
		return false
	}
	return true
}

func (l *Limiter) allowRate(client string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(cleanupEvery)
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// cleanup drops idle buckets. Must be called with mu held.
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-idleAfter)
	for client, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, client)
		}
	}
}

// Tracked returns the number of clients with a live token bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
