package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/live-relay/backend/internal/live/livetest"
	"github.com/live-relay/backend/internal/session"
	"github.com/live-relay/backend/internal/sink"
	"github.com/live-relay/backend/internal/watchdog"
)

const waitFor = 2 * time.Second

type received struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type memRecorder struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (m *memRecorder) Format() sink.Format { return sink.CSV }

func (m *memRecorder) Append(prefix string, category sink.Category, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lines == nil {
		m.lines = make(map[string][]string)
	}
	key := prefix + "_" + string(category)
	m.lines[key] = append(m.lines[key], strings.Join(fields, "%"))
	return nil
}

func (m *memRecorder) get(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines[key]...)
}

type fixture struct {
	provider *livetest.Provider
	registry *session.Registry
	server   *Server
	http     *httptest.Server
}

func newFixture(t *testing.T, configure func(*session.OpenerConfig, *Options)) *fixture {
	t.Helper()
	p := livetest.NewProvider()
	reg := session.NewRegistry()
	ocfg := session.OpenerConfig{Provider: p, Registry: reg, Credential: "secret", OpenTimeout: time.Second}
	opts := Options{Sessions: reg, StatisticInterval: 5 * time.Second}
	if configure != nil {
		configure(&ocfg, &opts)
	}
	opts.Opener = session.NewOpener(ocfg)

	srv := NewServer(opts)
	hs := httptest.NewServer(srv.Routes())
	t.Cleanup(hs.Close)
	return &fixture{provider: p, registry: reg, server: srv, http: hs}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func recv(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitConn(t *testing.T, p *livetest.Provider, id string) *livetest.Conn {
	t.Helper()
	var c *livetest.Conn
	require.Eventually(t, func() bool {
		c = p.Last(id)
		return c != nil
	}, waitFor, 5*time.Millisecond)
	return c
}

func TestFront_ConnectForwardAndStreamEnd(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	send(t, conn, ClientMessage{
		Type:     MsgSetUniqueID,
		UniqueID: "alice",
		Options: map[string]any{
			"enableExtendedGiftInfo": true,
			"requestOptions":         map[string]any{"timeout": 1},
			"sessionId":              "from-client",
		},
	})

	msg := recv(t, conn)
	require.Equal(t, MsgConnected, msg.Type)
	assert.JSONEq(t, `{"roomId":"room-alice"}`, string(msg.Payload))

	lc := waitConn(t, f.provider, "alice")
	assert.Equal(t, map[string]any{"enableExtendedGiftInfo": true, "sessionId": "secret"}, lc.Options)

	require.True(t, lc.Emit("chat", map[string]any{"uniqueId": "u", "comment": "hi"}))
	require.True(t, lc.Emit("subscribe", map[string]any{"uniqueId": "s"}))

	msg = recv(t, conn)
	assert.Equal(t, MessageType("chat"), msg.Type)
	assert.JSONEq(t, `{"uniqueId":"u","comment":"hi"}`, string(msg.Payload))
	msg = recv(t, conn)
	assert.Equal(t, MessageType("subscribe"), msg.Type)

	require.True(t, lc.End())
	msg = recv(t, conn)
	assert.Equal(t, MsgStreamEnd, msg.Type)
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, waitFor, 5*time.Millisecond)
}

func TestFront_RateLimitedOpenEmitsReason(t *testing.T) {
	f := newFixture(t, func(o *session.OpenerConfig, _ *Options) {
		o.Admission = denyAll{}
	})
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})

	msg := recv(t, conn)
	require.Equal(t, MsgDisconnected, msg.Type)
	var reason string
	require.NoError(t, json.Unmarshal(msg.Payload, &reason))
	assert.Equal(t, RateLimitedReason, reason)
	assert.Equal(t, 0, f.provider.Opens())
}

func TestFront_ConnectFailureEmitsReason(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.FailConnect("ghost", nil)
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "ghost"})

	msg := recv(t, conn)
	require.Equal(t, MsgDisconnected, msg.Type)
	assert.Contains(t, string(msg.Payload), livetest.ErrNotLive.Error())
	assert.Equal(t, 0, f.registry.Count())
}

func TestFront_ProviderDisconnectEmitsReason(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)

	lc := waitConn(t, f.provider, "alice")
	require.True(t, lc.Emit("disconnected", "kicked by host"))

	msg := recv(t, conn)
	require.Equal(t, MsgDisconnected, msg.Type)
	assert.JSONEq(t, `"kicked by host"`, string(msg.Payload))
}

func TestFront_SetUniqueIDReplacesPreviousSession(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)
	alice := waitConn(t, f.provider, "alice")

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "bob"})
	msg := recv(t, conn)
	require.Equal(t, MsgConnected, msg.Type, "replacing a session must not report the old one as disconnected")
	assert.JSONEq(t, `{"roomId":"room-bob"}`, string(msg.Payload))

	assert.Equal(t, 1, alice.Disconnects())
	infos := f.registry.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, "bob", infos[0].Identifier)
	assert.Equal(t, "127.0.0.1", infos[0].Client)
}

func TestFront_ClientDisconnectClosesSession(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)
	lc := waitConn(t, f.provider, "alice")

	conn.Close()

	require.Eventually(t, func() bool { return lc.Disconnects() == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.server.Broadcaster().ClientCount() == 0 }, waitFor, 5*time.Millisecond)
}

func TestFront_ClientDisconnectWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)
	require.Eventually(t, func() bool { return f.server.Broadcaster().ClientCount() == 1 }, waitFor, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return f.server.Broadcaster().ClientCount() == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, f.provider.Opens())
}

func TestFront_MalformedMessagesAreIgnored(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, ClientMessage{Type: "ping"})
	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})

	assert.Equal(t, MsgConnected, recv(t, conn).Type)
}

func TestFront_RecordsRoutedEvents(t *testing.T) {
	rec := &memRecorder{}
	f := newFixture(t, func(o *session.OpenerConfig, opts *Options) {
		o.Prefix = func(id string, _ time.Time) string { return "P-" + id }
		opts.Recorder = rec
	})
	conn := f.dial(t)

	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)
	lc := waitConn(t, f.provider, "alice")

	require.True(t, lc.Emit("chat", map[string]any{"uniqueId": "u", "nickname": "n", "comment": "hi"}))
	require.Equal(t, MessageType("chat"), recv(t, conn).Type)

	require.Eventually(t, func() bool { return len(rec.get("P-alice_chat")) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(rec.get("P-alice_chat")[0], "u%n%hi%"))
}

func TestBroadcaster_StatisticCountsOpenSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := newFixture(t, func(_ *session.OpenerConfig, opts *Options) {
		opts.Clock = clock
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Broadcaster().Run(ctx)

	conn := f.dial(t)
	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	msg := recv(t, conn)
	require.Equal(t, MsgStatistic, msg.Type)
	assert.JSONEq(t, `{"globalConnectionCount":1}`, string(msg.Payload))
}

type staticHosts []watchdog.HostStatus

func (h staticHosts) Hosts() []watchdog.HostStatus { return h }

func TestAPI_SessionsHostsHealth(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)
	send(t, conn, ClientMessage{Type: MsgSetUniqueID, UniqueID: "alice"})
	require.Equal(t, MsgConnected, recv(t, conn).Type)

	resp, err := http.Get(f.http.URL + "/api/sessions")
	require.NoError(t, err)
	var infos []session.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	require.Len(t, infos, 1)
	assert.Equal(t, "alice", infos[0].Identifier)
	assert.Equal(t, session.Connected, infos[0].State)

	resp, err = http.Get(f.http.URL + "/api/hosts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.http.URL + "/api/health")
	require.NoError(t, err)
	var health healthPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, 1, health.Clients)
}

func TestAPI_HostsWithWatchdog(t *testing.T) {
	f := newFixture(t, func(_ *session.OpenerConfig, opts *Options) {
		opts.Hosts = staticHosts{{Identifier: "alice", Online: true, Attempts: 2}}
	})

	resp, err := http.Get(f.http.URL + "/api/hosts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var hosts []watchdog.HostStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hosts))
	require.Len(t, hosts, 1)
	assert.True(t, hosts[0].Online)
	assert.Equal(t, 2, hosts[0].Attempts)
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(Options{})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, open.checkOrigin(req), "no allow list accepts any origin")

	restricted := NewServer(Options{AllowedOrigins: []string{"https://app.example", " "}})
	assert.False(t, restricted.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, restricted.checkOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, restricted.checkOrigin(req))
}
