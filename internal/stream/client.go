// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/iammayankpratapsingh/gps-sub001/internal/bus"
	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// ErrConnectInProgress is returned when Connect is called while a connection
// attempt is already in flight. The second caller is rejected immediately,
// never queued.
var ErrConnectInProgress = errors.New("stream: connection attempt already in progress")

// defaultStreamPath is the tracking server's websocket endpoint, appended
// when the configured URL carries no path.
const defaultStreamPath = "/api/socket"

// Config configures the stream client. Zero values fall back to production
// defaults.
type Config struct {
	// URL is the tracking server endpoint. http(s) schemes are converted to
	// ws(s); a missing path defaults to /api/socket.
	URL string

	// Token is embedded in the connection URL per the server's auth
	// convention.
	Token string

	// HandshakeTimeout bounds the websocket dial. Default: 10s.
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive cadence while connected. Default: 30s.
	PingInterval time.Duration

	// ReconnectBase is the first backoff delay; the Nth attempt waits
	// ReconnectBase * 2^(N-1). Default: 2s.
	ReconnectBase time.Duration

	// MaxReconnectAttempts bounds automatic recovery. Once exhausted the
	// connection is failed until an explicit Connect call. Default: 10.
	MaxReconnectAttempts int
}

func (c *Config) withDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
}

// pingFrame is the only outbound application payload: the 30-second
// keepalive the server expects.
type pingFrame struct {
	Type      string    `json:"type"`
	Data      struct{}  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Client owns one realtime connection to the tracking server. Decoded
// messages and connection lifecycle transitions are published on the event
// bus; Client itself never subscribes.
type Client struct {
	cfg Config
	bus *bus.Bus

	machine *fsm.FSM

	mu         sync.Mutex // guards conn, timers, attempts and all transitions
	conn       *websocket.Conn
	pingStop   chan struct{}
	deliberate bool // Disconnect was requested; suppress reconnection

	attempts       int
	reconnectTimer *time.Timer

	writeMu sync.Mutex // serializes frame writes (gorilla allows one writer)
	wg      sync.WaitGroup
}

// New creates a stream client publishing to b. The client starts
// disconnected; call Connect (or run it under a supervisor via Serve).
func New(cfg Config, b *bus.Bus) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		bus:     b,
		machine: newConnectionMachine(),
	}
}

// State returns the current connection state.
func (c *Client) State() models.ConnectionState {
	return models.ConnectionState(c.machine.Current())
}

// IsConnected reports whether frames can currently be sent.
func (c *Client) IsConnected() bool {
	return c.State().IsConnected()
}

// ReconnectAttempts returns the reconnection policy's current attempt count.
// The counter resets to zero on every successful connection and on manual
// Connect calls.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection. It resolves once the transport is open and
// returns ErrConnectInProgress if an attempt is already in flight. A manual
// Connect resets the reconnection policy: the attempt counter restarts and
// any pending reconnect timer is canceled, which is also the only way out of
// the failed state.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

// connect performs one connection attempt. manual distinguishes caller
// intent from the reconnection policy's deferred attempts.
func (c *Client) connect(ctx context.Context, manual bool) error {
	c.mu.Lock()

	if manual {
		c.cancelReconnectLocked()
		c.attempts = 0
		c.deliberate = false
	}

	switch c.State() {
	case models.StateConnected:
		c.mu.Unlock()
		return nil
	case models.StateConnecting, models.StateClosing:
		c.mu.Unlock()
		return ErrConnectInProgress
	}

	if err := c.machine.Event(ctx, eventDial); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("stream: begin connect: %w", err)
	}

	target, err := c.streamURL()
	if err != nil {
		_ = c.machine.Event(ctx, eventFail)
		c.mu.Unlock()
		return fmt.Errorf("stream: build url: %w", err)
	}
	c.mu.Unlock()

	// Dial outside the lock; the connecting state rejects rival attempts.
	dialer := websocket.Dialer{
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, dialErr := dialer.DialContext(ctx, target, nil)
	if resp != nil {
		defer resp.Body.Close()
	}

	c.mu.Lock()

	if dialErr != nil {
		_ = c.machine.Event(ctx, eventFail)
		var exhausted *models.ReconnectsExhausted
		if !manual {
			exhausted = c.scheduleReconnectLocked()
		}
		c.mu.Unlock()

		c.bus.Publish(models.KindStreamError, models.StreamError{Err: dialErr, At: time.Now().UTC()})
		if exhausted != nil {
			c.bus.Publish(models.KindReconnectsExhausted, *exhausted)
		}
		if resp != nil {
			return fmt.Errorf("stream: dial (HTTP %d): %w", resp.StatusCode, dialErr)
		}
		return fmt.Errorf("stream: dial: %w", dialErr)
	}

	if c.deliberate {
		// Disconnect raced the dial; drop the fresh connection quietly.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}

	_ = c.machine.Event(ctx, eventOpen)
	c.conn = conn
	c.attempts = 0
	c.pingStop = make(chan struct{})

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.heartbeatLoop(c.pingStop)
	c.mu.Unlock()

	logging.Info().Str("url", c.cfg.URL).Msg("stream connected")
	c.bus.Publish(models.KindConnected, models.Connected{At: time.Now().UTC()})
	return nil
}

// Disconnect requests a graceful close with a normal-closure code, stops the
// heartbeat and cancels any pending reconnection. Idempotent: calling it when
// already closed is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()

	c.deliberate = true
	c.cancelReconnectLocked()

	if !c.machine.Can(eventClose) {
		c.mu.Unlock()
		return
	}
	_ = c.machine.Event(context.Background(), eventClose)

	conn := c.conn
	if conn != nil {
		c.teardownLocked()

		c.writeMu.Lock()
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		if err != nil {
			logging.Debug().Err(err).Msg("stream: close message not sent")
		}
		_ = conn.Close()
	}

	_ = c.machine.Event(context.Background(), eventClosed)
	c.mu.Unlock()

	logging.Info().Msg("stream disconnected")
	c.bus.Publish(models.KindDisconnected, models.Disconnected{
		Code:   websocket.CloseNormalClosure,
		Reason: "client disconnect",
		At:     time.Now().UTC(),
	})
}

// Send transmits one JSON frame if the connection is open; otherwise the
// frame is logged and dropped. Never blocks on state, never queues.
func (c *Client) Send(v any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.State() == models.StateConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		logging.Debug().Msg("stream: send dropped, not connected")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		logging.Warn().Err(err).Msg("stream: send dropped, marshal failed")
		return
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		logging.Warn().Err(err).Msg("stream: write failed")
	}
}

// Serve runs the client as a suture.Service: connect, hold the connection
// until the context ends, then close down. A failed initial connect is
// returned so the supervisor applies its own restart backoff; mid-stream
// drops are recovered internally by the reconnection policy.
func (c *Client) Serve(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrConnectInProgress) {
		return err
	}

	<-ctx.Done()
	c.Disconnect()
	c.wg.Wait()
	return ctx.Err()
}

// streamURL builds the connection target with the auth token embedded, per
// the server's convention of credentials in the URL. Reconnection reuses the
// same construction.
func (c *Client) streamURL() (string, error) {
	parsed, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = defaultStreamPath
	}

	q := parsed.Query()
	q.Set("token", c.cfg.Token)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// readLoop consumes frames until the connection dies, then routes the
// closure to the reconnection policy.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes one inbound frame and fans it out.
func (c *Client) handleFrame(data []byte) {
	kind, msg, ok := decodeFrame(data)
	if !ok {
		return
	}
	metrics.FramesDecoded.WithLabelValues(string(kind)).Inc()
	c.bus.Publish(kind, msg)
}

// handleReadError tears the connection down after a read failure and decides
// whether the reconnection policy takes over. Deliberate disconnects were
// already handled by Disconnect: their read error arrives on a connection we
// no longer own and is ignored here.
func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	_ = conn.Close()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var closeErr *websocket.CloseError
	isClose := errors.As(err, &closeErr)
	if isClose {
		code = closeErr.Code
		reason = closeErr.Text
	}

	_ = c.machine.Event(context.Background(), eventDrop)

	var exhausted *models.ReconnectsExhausted
	normal := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if !normal {
		exhausted = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	logging.Warn().Int("code", code).Str("reason", reason).Msg("stream closed")
	if !isClose {
		// Transport-level error rather than a close frame. Surface it; the
		// closure handling above owns recovery.
		c.bus.Publish(models.KindStreamError, models.StreamError{Err: err, At: time.Now().UTC()})
	}
	c.bus.Publish(models.KindDisconnected, models.Disconnected{Code: code, Reason: reason, At: time.Now().UTC()})
	if exhausted != nil {
		c.bus.Publish(models.KindReconnectsExhausted, *exhausted)
	}
}

// teardownLocked forgets the current connection and stops its heartbeat.
// Callers hold c.mu and close the websocket themselves.
func (c *Client) teardownLocked() {
	c.conn = nil
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}

// scheduleReconnectLocked arms the single deferred reconnection attempt, or
// gives up once the bound is reached. Caller holds c.mu and publishes the
// returned exhaustion message, if any, after unlocking.
func (c *Client) scheduleReconnectLocked() *models.ReconnectsExhausted {
	if c.reconnectTimer != nil {
		return nil
	}

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		_ = c.machine.Event(context.Background(), eventGiveUp)
		metrics.ReconnectsExhausted.Inc()
		logging.Error().Int("attempts", c.attempts).Msg("stream: reconnect attempts exhausted")
		return &models.ReconnectsExhausted{Attempts: c.attempts, At: time.Now().UTC()}
	}

	c.attempts++
	delay := backoffDelay(c.cfg.ReconnectBase, c.attempts)
	metrics.ReconnectAttempts.Inc()
	logging.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("stream: reconnect scheduled")

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()

		if err := c.connect(context.Background(), false); err != nil && !errors.Is(err, ErrConnectInProgress) {
			logging.Warn().Err(err).Msg("stream: reconnect attempt failed")
		}
	})
	return nil
}

// cancelReconnectLocked drops the pending reconnection timer, if armed.
// Caller holds c.mu.
func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// backoffDelay computes the Nth reconnection delay: base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// heartbeatLoop sends one keepalive frame per interval until stop closes.
// Each connected transition starts exactly one loop; teardown stops it.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(pingFrame{Type: "ping", Timestamp: time.Now().UTC()})
			metrics.HeartbeatsSent.Inc()
		}
	}
}
