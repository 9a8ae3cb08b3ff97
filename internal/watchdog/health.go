package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/live-relay/backend/internal/session"
)

// errSuperseded is recorded when a confirmed-policy attempt is still
// connecting at the next tick and gets replaced.
var errSuperseded = errors.New("connect attempt superseded by next tick")

// HostStatus is a point-in-time view of one watched broadcaster.
type HostStatus struct {
	Identifier          string    `json:"identifier"`
	Online              bool      `json:"online"`
	SessionID           string    `json:"sessionId,omitempty"`
	Attempts            int       `json:"attempts"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastAttempt         time.Time `json:"lastAttempt,omitzero"`
	LastOnline          time.Time `json:"lastOnline,omitzero"`
}

// host is the mutable entry behind a HostStatus. Guarded by Watchdog.mu.
type host struct {
	status   HostStatus
	inFlight bool
	// gen identifies the latest attempt; results from older ones are dropped.
	gen    uint64
	cancel context.CancelFunc
	sess   *session.Session
}

// due reports whether a tick should start an attempt for the host.
func (h *host) due(policy OnlinePolicy) bool {
	if h.inFlight {
		return policy == PolicyConfirmed
	}
	return !h.status.Online
}

// recordAttempt starts a new attempt generation, cancelling one still in
// flight.
func (h *host) recordAttempt(now time.Time, eager bool, cancel context.CancelFunc) uint64 {
	if h.inFlight {
		h.cancel()
		h.status.ConsecutiveFailures++
		h.status.LastError = errSuperseded.Error()
	}
	h.gen++
	h.inFlight = true
	h.cancel = cancel
	h.status.Attempts++
	h.status.LastAttempt = now
	if eager {
		h.status.Online = true
	}
	return h.gen
}

func (h *host) finish() {
	h.inFlight = false
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *host) recordFailure(err error) {
	h.finish()
	h.status.Online = false
	h.status.ConsecutiveFailures++
	h.status.LastError = err.Error()
}

func (h *host) recordSuccess(s *session.Session, now time.Time) {
	h.finish()
	h.status.Online = true
	h.status.ConsecutiveFailures = 0
	h.status.LastError = ""
	h.status.SessionID = s.ID
	h.status.LastOnline = now
	h.sess = s
}

func (h *host) recordOffline(s *session.Session) {
	// A late terminal signal from an older session must not clobber a newer one.
	if h.sess != s {
		return
	}
	h.sess = nil
	h.status.Online = false
	h.status.SessionID = ""
}
