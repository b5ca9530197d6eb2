// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammayankpratapsingh/gps-sub001/internal/bus"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// mockTrackingServer simulates the tracking server's websocket endpoint.
type mockTrackingServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	// gate, when non-nil, blocks the handler before upgrading so tests can
	// hold a connection attempt in flight.
	gate chan struct{}
}

func newMockTrackingServer() *mockTrackingServer {
	mock := &mockTrackingServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(chan *websocket.Conn, 4),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if mock.gate != nil {
			<-mock.gate
		}
		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.conns <- conn
	}))

	return mock
}

func (m *mockTrackingServer) close() {
	m.server.Close()
}

// accept returns the next server-side connection.
func (m *mockTrackingServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-m.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

type streamTestSetup struct {
	mock   *mockTrackingServer
	bus    *bus.Bus
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
}

func setupStreamTest(t *testing.T, cfg Config) *streamTestSetup {
	t.Helper()
	mock := newMockTrackingServer()

	cfg.URL = mock.server.URL
	cfg.Token = "test-token"
	b := bus.New()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		cancel()
		mock.close()
	})

	return &streamTestSetup{mock: mock, bus: b, client: New(cfg, b), ctx: ctx, cancel: cancel}
}

// kindChan subscribes to kind and exposes deliveries as a channel.
func kindChan(b *bus.Bus, kind models.Kind) chan any {
	ch := make(chan any, 16)
	b.Subscribe(kind, func(payload any) { ch <- payload })
	return ch
}

func waitFor[T any](t *testing.T, ch chan any, what string) T {
	t.Helper()
	select {
	case payload := <-ch:
		msg, ok := payload.(T)
		require.True(t, ok, "unexpected payload type for %s: %T", what, payload)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestConnectPublishesConnectedAndOpensState(t *testing.T) {
	s := setupStreamTest(t, Config{})
	connected := kindChan(s.bus, models.KindConnected)

	require.NoError(t, s.client.Connect(s.ctx))
	defer s.client.Disconnect()

	msg := waitFor[models.Connected](t, connected, "connected event")
	assert.False(t, msg.At.IsZero())
	assert.Equal(t, models.StateConnected, s.client.State())
	assert.True(t, s.client.IsConnected())

	s.mock.accept(t)
}

func TestConnectIsNoOpWhenAlreadyConnected(t *testing.T) {
	s := setupStreamTest(t, Config{})
	require.NoError(t, s.client.Connect(s.ctx))
	defer s.client.Disconnect()
	s.mock.accept(t)

	assert.NoError(t, s.client.Connect(s.ctx))
}

func TestConnectRejectsConcurrentAttempt(t *testing.T) {
	s := setupStreamTest(t, Config{})
	s.mock.gate = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.client.Connect(s.ctx) }()

	// Wait for the first attempt to reach the connecting state.
	require.Eventually(t, func() bool {
		return s.client.State() == models.StateConnecting
	}, 2*time.Second, 5*time.Millisecond)

	err := s.client.Connect(s.ctx)
	assert.ErrorIs(t, err, ErrConnectInProgress, "second caller gets an immediate rejection")

	close(s.mock.gate)
	require.NoError(t, <-firstDone)
	s.client.Disconnect()
}

func TestConnectFailsOnBadEndpoint(t *testing.T) {
	b := bus.New()
	client := New(Config{URL: "http://127.0.0.1:1", Token: "t", HandshakeTimeout: time.Second}, b)

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.StateError, client.State())
}

func TestSendDropsWhenNotConnected(t *testing.T) {
	s := setupStreamTest(t, Config{})

	assert.NotPanics(t, func() {
		s.client.Send(pingFrame{Type: "ping", Timestamp: time.Now()})
	})
}

func TestHeartbeatFramesWhileConnected(t *testing.T) {
	s := setupStreamTest(t, Config{PingInterval: 30 * time.Millisecond})

	require.NoError(t, s.client.Connect(s.ctx))
	defer s.client.Disconnect()
	server := s.mock.accept(t)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "ping", frame["type"])
	assert.Contains(t, frame, "data")
	assert.Contains(t, frame, "timestamp")
}

func TestInboundFramesReachTheBus(t *testing.T) {
	s := setupStreamTest(t, Config{})
	positions := kindChan(s.bus, models.KindPosition)

	require.NoError(t, s.client.Connect(s.ctx))
	defer s.client.Disconnect()
	server := s.mock.accept(t)

	frame := `{"type":"position","deviceId":5,"latitude":10,"longitude":20,"timestamp":"2026-08-28T10:00:00Z"}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(frame)))

	p := waitFor[models.PositionUpdate](t, positions, "position update")
	assert.Equal(t, "5", p.DeviceID)
	assert.InDelta(t, 10.0, p.Latitude, 1e-9)
	assert.InDelta(t, 20.0, p.Longitude, 1e-9)
}

func TestDisconnectIsGracefulAndIdempotent(t *testing.T) {
	s := setupStreamTest(t, Config{})
	disconnected := kindChan(s.bus, models.KindDisconnected)

	require.NoError(t, s.client.Connect(s.ctx))
	s.mock.accept(t)

	s.client.Disconnect()
	msg := waitFor[models.Disconnected](t, disconnected, "disconnected event")
	assert.Equal(t, websocket.CloseNormalClosure, msg.Code)
	assert.Equal(t, models.StateClosed, s.client.State())

	// Calling again when already closed is a no-op.
	assert.NotPanics(t, s.client.Disconnect)
	assert.Equal(t, models.StateClosed, s.client.State())
}

// TestAbruptCloseReconnectsAndResetsCounter covers the full recovery cycle:
// abnormal closure schedules a backoff retry, the retry succeeds and the
// attempt counter returns to zero.
func TestAbruptCloseReconnectsAndResetsCounter(t *testing.T) {
	s := setupStreamTest(t, Config{ReconnectBase: 50 * time.Millisecond})
	connected := kindChan(s.bus, models.KindConnected)
	disconnected := kindChan(s.bus, models.KindDisconnected)

	require.NoError(t, s.client.Connect(s.ctx))
	defer s.client.Disconnect()
	server := s.mock.accept(t)
	waitFor[models.Connected](t, connected, "initial connected event")

	// Abrupt close, no close frame: the client sees an abnormal termination.
	require.NoError(t, server.Close())

	waitFor[models.Disconnected](t, disconnected, "disconnected event")
	assert.Equal(t, 1, s.client.ReconnectAttempts())

	// The deferred attempt lands on the same endpoint and succeeds.
	s.mock.accept(t)
	waitFor[models.Connected](t, connected, "reconnected event")
	assert.Equal(t, models.StateConnected, s.client.State())
	assert.Equal(t, 0, s.client.ReconnectAttempts(), "attempt counter resets on success")
}

func TestReconnectGivesUpAfterBound(t *testing.T) {
	s := setupStreamTest(t, Config{
		ReconnectBase:        10 * time.Millisecond,
		MaxReconnectAttempts: 2,
		HandshakeTimeout:     500 * time.Millisecond,
	})
	exhausted := kindChan(s.bus, models.KindReconnectsExhausted)

	require.NoError(t, s.client.Connect(s.ctx))
	server := s.mock.accept(t)

	// Kill the endpoint entirely so every retry fails.
	s.mock.close()
	require.NoError(t, server.Close())

	msg := waitFor[models.ReconnectsExhausted](t, exhausted, "exhaustion event")
	assert.Equal(t, 2, msg.Attempts, "no attempt beyond the bound is scheduled")
	assert.Equal(t, models.StateFailed, s.client.State())

	// Failed is terminal until a manual Connect, which resets the policy.
	err := s.client.Connect(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, models.StateFailed, s.client.State())
	assert.Equal(t, 0, s.client.ReconnectAttempts())
}

func TestServerInitiatedNormalCloseDoesNotReconnect(t *testing.T) {
	s := setupStreamTest(t, Config{ReconnectBase: 10 * time.Millisecond})
	disconnected := kindChan(s.bus, models.KindDisconnected)

	require.NoError(t, s.client.Connect(s.ctx))
	server := s.mock.accept(t)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, server.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		deadline,
	))

	msg := waitFor[models.Disconnected](t, disconnected, "disconnected event")
	assert.Equal(t, websocket.CloseNormalClosure, msg.Code)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, s.client.ReconnectAttempts(), "normal closure must not trigger the policy")
	assert.Equal(t, models.StateDisconnected, s.client.State())
}

func TestStreamURLConstruction(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"http to ws with default path", "http://tracker.example.com", "ws://tracker.example.com/api/socket?token=secret"},
		{"https to wss", "https://tracker.example.com", "wss://tracker.example.com/api/socket?token=secret"},
		{"explicit ws path kept", "ws://tracker.example.com/stream", "ws://tracker.example.com/stream?token=secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{URL: tt.url, Token: "secret"}, bus.New())
			got, err := c.streamURL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
