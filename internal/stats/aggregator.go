package stats

import (
	"sync"

	"github.com/live-relay/backend/internal/live"
)

// Snapshot holds the last observed audience figures.
type Snapshot struct {
	ViewerCount int64 `json:"viewerCount"`
	LikeCount   int64 `json:"likeCount"`
}

// Aggregator keeps the latest viewer and cumulative like counts for one
// session. Each session router owns its own instance.
type Aggregator struct {
	mu   sync.RWMutex
	snap Snapshot
}

func New() *Aggregator {
	return &Aggregator{}
}

// Observe updates the counts from roomUser.viewerCount and
// like.totalLikeCount. Missing or non-numeric fields leave the current
// value unchanged. It reports whether anything changed.
func (a *Aggregator) Observe(ev live.Event) bool {
	var (
		path string
		dst  *int64
	)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case live.RoomUser:
		path, dst = "viewerCount", &a.snap.ViewerCount
	case live.Like:
		path, dst = "totalLikeCount", &a.snap.LikeCount
	default:
		return false
	}

	n, ok := ev.Number(path)
	if !ok || n == *dst {
		return false
	}
	*dst = n
	return true
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}
