package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/live/livetest"
)

type denyAll struct{ calls int }

func (d *denyAll) Allow(string) bool { d.calls++; return false }

func newTestOpener(p live.Provider) *Opener {
	return NewOpener(OpenerConfig{
		Provider: p,
		Clock:    clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Prefix: func(identifier string, created time.Time) string {
			return created.Format("2006_01_02_15_04_05") + "_" + identifier
		},
		OpenTimeout: time.Second,
	})
}

func recvSignal(t *testing.T, s *Session) Signal {
	t.Helper()
	select {
	case sig, ok := <-s.Signals():
		require.True(t, ok, "signals channel closed")
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func recvEvent(t *testing.T, s *Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return live.Event{}
	}
}

func TestOpen_PassesSanitizedOptions(t *testing.T) {
	p := livetest.NewProvider()
	o := NewOpener(OpenerConfig{Provider: p, Credential: "secret"})

	s, err := o.Open(context.Background(), Request{
		Identifier: "alice",
		Options: map[string]any{
			"requestOptions": map[string]any{"baseURL": "http://attacker"},
			"nested":         map[string]any{"websocketOptions": map[string]any{}},
		},
	})
	require.NoError(t, err)
	defer s.Close()

	opts := p.Last("alice").Options
	assert.NotContains(t, opts, KeyRequestOptions)
	assert.NotContains(t, opts["nested"], KeyWebsocketOptions)
	assert.Equal(t, "secret", opts[KeySessionID])
}

func TestOpen_RateLimitedBeforeConnect(t *testing.T) {
	p := livetest.NewProvider()
	deny := &denyAll{}
	o := NewOpener(OpenerConfig{Provider: p, Admission: deny})

	s, err := o.Open(context.Background(), Request{Identifier: "alice", Client: "10.0.0.1"})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, deny.calls)
	assert.Equal(t, 0, p.Opens(), "provider must not be contacted")
}

func TestOpen_AdmissionSkippedForInternalOwners(t *testing.T) {
	p := livetest.NewProvider()
	o := NewOpener(OpenerConfig{Provider: p, Admission: &denyAll{}})

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	defer s.Close()
}

func TestOpen_ConnectFailed(t *testing.T) {
	p := livetest.NewProvider()
	p.FailConnect("offline-host", nil)
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "offline-host"})
	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, livetest.ErrNotLive)

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "offline-host", ce.Identifier)
	assert.Equal(t, 0, o.Registry().Count())
	assert.Equal(t, 1, p.Last("offline-host").Disconnects())
}

func TestOpen_EmptyIdentifier(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	_, err := o.Open(context.Background(), Request{Identifier: "   "})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, 0, p.Opens())
}

func TestOpen_ConnectTimeout(t *testing.T) {
	p := livetest.NewProvider()
	release := p.Hold("slow")
	defer release()
	o := NewOpener(OpenerConfig{Provider: p, OpenTimeout: 20 * time.Millisecond})

	_, err := o.Open(context.Background(), Request{Identifier: "slow"})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_PrefixAndRegistry(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice", Client: "c1"})
	require.NoError(t, err)

	assert.Equal(t, "2024_03_01_12_00_00_alice", s.Prefix)
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, 1, o.Registry().Count())
	assert.Equal(t, 1, o.Registry().CountByClient("c1"))
	assert.Equal(t, 0, o.Registry().CountByClient("c2"))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, o.Registry().Count())
}

func TestSession_ConnectedSignalledOnce(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)

	first := recvSignal(t, s)
	assert.Equal(t, SignalConnected, first.Type)
	assert.JSONEq(t, `{"roomId":"room-alice"}`, string(first.Room))

	require.NoError(t, s.Close())

	var rest []Signal
	for sig := range s.Signals() {
		rest = append(rest, sig)
	}
	require.Len(t, rest, 1)
	assert.Equal(t, SignalDisconnected, rest[0].Type)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	var terminal int
	for sig := range s.Signals() {
		if sig.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, 1, p.Last("alice").Disconnects())
	assert.Equal(t, Disconnected, s.State())

	_, open := <-s.Events()
	assert.False(t, open, "events channel should be closed")
}

func TestSession_EventsInOrder(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	defer s.Close()

	conn := p.Last("alice")
	for i := 0; i < 20; i++ {
		require.True(t, conn.Emit("chat", map[string]any{"uniqueId": fmt.Sprintf("u%d", i), "comment": "hi"}))
	}

	for i := 0; i < 20; i++ {
		ev := recvEvent(t, s)
		assert.Equal(t, live.Chat, ev.Type)
		assert.Equal(t, "alice", ev.Broadcaster)
		assert.Equal(t, fmt.Sprintf("u%d", i), ev.UniqueID())
	}
}

func TestSession_UnknownMessagesSkipped(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	defer s.Close()

	conn := p.Last("alice")
	conn.EmitRaw("rawData", `{}`)
	conn.EmitRaw("like", `{"likeCount":3}`)

	ev := recvEvent(t, s)
	assert.Equal(t, live.Like, ev.Type)
}

func TestSession_StreamEnd(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	recvSignal(t, s)

	conn := p.Last("alice")
	conn.EmitRaw("gift", `{"diamondCount":1}`)
	conn.End()

	ev := recvEvent(t, s)
	assert.Equal(t, live.Gift, ev.Type)

	sig := recvSignal(t, s)
	assert.Equal(t, SignalEnded, sig.Type)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, Ended, s.State())
	assert.Eventually(t, func() bool { return o.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, conn.Disconnects())

	// Owner teardown after the stream ended emits nothing further.
	require.NoError(t, s.Close())
	_, open := <-s.Signals()
	assert.False(t, open)
}

func TestSession_ConnectionLost(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	recvSignal(t, s)

	p.Last("alice").Drop()

	sig := recvSignal(t, s)
	assert.Equal(t, SignalDisconnected, sig.Type)
	assert.Equal(t, "connection lost", sig.Reason)
	<-s.Done()
	assert.Equal(t, Disconnected, s.State())
}

func TestSession_ProviderDisconnectReason(t *testing.T) {
	p := livetest.NewProvider()
	o := newTestOpener(p)

	s, err := o.Open(context.Background(), Request{Identifier: "alice"})
	require.NoError(t, err)
	recvSignal(t, s)

	p.Last("alice").Emit(live.MsgDisconnected, "kicked by host")

	sig := recvSignal(t, s)
	assert.Equal(t, SignalDisconnected, sig.Type)
	assert.Equal(t, "kicked by host", sig.Reason)
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(Info{ID: "x", State: Ended})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"ended"`)

	var st State
	require.NoError(t, json.Unmarshal([]byte(`"connected"`), &st))
	assert.Equal(t, Connected, st)
	assert.True(t, Disconnected.IsTerminal())
	assert.False(t, Connected.IsTerminal())
}
