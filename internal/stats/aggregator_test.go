package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/live-relay/backend/internal/live"
)

func event(typ live.EventType, data string) live.Event {
	return live.Event{Type: typ, Broadcaster: "alice", Data: json.RawMessage(data)}
}

func TestObserve_RoomUserUpdatesViewers(t *testing.T) {
	a := New()
	assert.True(t, a.Observe(event(live.RoomUser, `{"viewerCount":42}`)))
	assert.Equal(t, Snapshot{ViewerCount: 42}, a.Snapshot())
}

func TestObserve_LikeUpdatesTotal(t *testing.T) {
	a := New()
	assert.True(t, a.Observe(event(live.Like, `{"likeCount":5,"totalLikeCount":1200}`)))
	assert.Equal(t, int64(1200), a.Snapshot().LikeCount)
}

func TestObserve_MalformedLeavesValueUnchanged(t *testing.T) {
	tests := []struct {
		name string
		ev   live.Event
	}{
		{"missing viewerCount", event(live.RoomUser, `{"topViewers":[]}`)},
		{"string viewerCount", event(live.RoomUser, `{"viewerCount":"many"}`)},
		{"null viewerCount", event(live.RoomUser, `{"viewerCount":null}`)},
		{"not json", event(live.RoomUser, `garbage`)},
		{"empty payload", event(live.RoomUser, ``)},
		{"missing totalLikeCount", event(live.Like, `{"likeCount":3}`)},
		{"bool totalLikeCount", event(live.Like, `{"totalLikeCount":true}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			a.Observe(event(live.RoomUser, `{"viewerCount":10}`))
			a.Observe(event(live.Like, `{"totalLikeCount":20}`))

			assert.NotPanics(t, func() { a.Observe(tt.ev) })
			assert.Equal(t, Snapshot{ViewerCount: 10, LikeCount: 20}, a.Snapshot())
		})
	}
}

func TestObserve_OtherVariantsIgnored(t *testing.T) {
	a := New()
	for _, typ := range live.AllEventTypes() {
		if typ == live.RoomUser || typ == live.Like {
			continue
		}
		assert.False(t, a.Observe(event(typ, `{"viewerCount":99,"totalLikeCount":99}`)), typ.String())
	}
	assert.Equal(t, Snapshot{}, a.Snapshot())
}

func TestAggregatorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Observe(event(live.RoomUser, `{"viewerCount":1}`))
	b.Observe(event(live.RoomUser, `{"viewerCount":2}`))

	assert.Equal(t, int64(1), a.Snapshot().ViewerCount)
	assert.Equal(t, int64(2), b.Snapshot().ViewerCount)
}
