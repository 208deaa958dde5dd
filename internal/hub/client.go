package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/hearth/internal/observability"
)

const (
	maxFrameBytes = 1 << 20
	pongWait      = 45 * time.Second
	pingPeriod    = 30 * time.Second
	writeWait     = 10 * time.Second

	// defaultCallTimeout bounds one message round-trip. A call that blows
	// it closes the whole connection: the hub is considered wedged.
	defaultCallTimeout = 10 * time.Second
)

var (
	// ErrAuthFailed means the hub rejected the access token. Fatal.
	ErrAuthFailed = errors.New("hub: authentication rejected")

	// ErrTimeout means a message round-trip expired; the connection has
	// been closed.
	ErrTimeout = errors.New("hub: round-trip timeout")

	// ErrClosed means the session is gone.
	ErrClosed = errors.New("hub: connection closed")
)

// HubError is a command failure reported by the hub itself.
type HubError struct {
	Code    string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub: %s: %s", e.Code, e.Message)
}

type result struct {
	payload json.RawMessage
	err     error
}

// Client is one authenticated hub session. Construct with New, then
// Connect. All methods are safe for concurrent use.
type Client struct {
	baseURL     string
	token       string
	logger      *slog.Logger
	metrics     *observability.Metrics
	callTimeout time.Duration

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan result

	statesMu   sync.RWMutex
	states     map[string]EntityState
	statesLive bool

	servicesMu sync.Mutex
	services   map[string]map[string]ServiceDescriptor
	servicesAt time.Time

	events  *broadcast[Event]
	connErr *replay[error]
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches the process metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCallTimeout overrides the round-trip timeout; tests shrink it.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// New builds an unconnected client for the hub at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		logger:      slog.Default(),
		callTimeout: defaultCallTimeout,
		pending:     make(map[int64]chan result),
		events:      newBroadcast[Event](64),
		connErr:     newReplay[error](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wsURL converts the configured http(s) base URL to the ws endpoint.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("hub url scheme %q not supported", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// Connect dials the hub, authenticates, negotiates features (best effort)
// and subscribes to state_changed events. An auth rejection is returned as
// ErrAuthFailed and is fatal to the process.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.send = make(chan []byte, 64)
	c.done = make(chan struct{})

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	// Best effort; older hubs reject it.
	if _, err := c.roundTrip(ctx, map[string]any{
		"type":     "supported_features",
		"features": map[string]any{"coalesce_messages": 1},
	}); err != nil {
		c.logger.Debug("supported_features negotiation declined", "error", err)
	}

	if _, err := c.roundTrip(ctx, map[string]any{
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		c.Close()
		return fmt.Errorf("subscribe_events: %w", err)
	}

	if c.metrics != nil {
		c.metrics.HubConnected.Set(1)
	}
	c.logger.Info("hub session established", "url", endpoint)
	return nil
}

type authMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	deadline := time.Now().Add(15 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	var hello authMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first message %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var verdict authMessage
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth verdict: %w", err)
	}
	switch verdict.Type {
	case "auth_ok":
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthFailed, verdict.Message)
	default:
		return fmt.Errorf("unexpected auth verdict %q", verdict.Type)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	_ = conn.SetWriteDeadline(time.Time{})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return nil
}

// Close tears the session down and fails every in-flight call.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.metrics != nil {
		c.metrics.HubConnected.Set(0)
	}
	close(c.done)
	err := c.conn.Close()
	c.failPending(ErrClosed)
	c.wg.Wait()
	return err
}

// ConnectionEvents replays the most recent transport error to each new
// subscriber, then streams subsequent ones.
func (c *Client) ConnectionEvents() (<-chan error, func()) {
	return c.connErr.subscribe()
}

// Events returns the shared hot stream of hub events.
func (c *Client) Events() (<-chan Event, func()) {
	return c.events.subscribe()
}

type inboundFrame struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.transportError(fmt.Errorf("hub read: %w", err))
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("undecodable hub frame", "error", err)
			continue
		}
		switch frame.Type {
		case "result":
			c.deliver(frame)
		case "event":
			c.handleEvent(frame.Event)
		case "pong":
			// hub-level pong, nothing pending on it
		default:
			c.logger.Debug("unhandled hub frame", "type", frame.Type)
		}
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.transportError(fmt.Errorf("hub write: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.transportError(fmt.Errorf("hub ping: %w", err))
				return
			}
		}
	}
}

// transportError records a disconnect-level failure exactly once per
// connection and fails all pending calls.
func (c *Client) transportError(err error) {
	if c.closed.Load() {
		return
	}
	c.logger.Warn("hub transport error", "error", err)
	c.connErr.publish(err)
	c.failPending(err)
	if c.metrics != nil {
		c.metrics.HubConnected.Set(0)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- result{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) deliver(frame inboundFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	delete(c.pending, frame.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("result for unknown call", "id", frame.ID)
		return
	}
	if frame.Success != nil && !*frame.Success {
		he := &HubError{Code: "unknown_error", Message: "command failed"}
		if frame.Error != nil {
			he.Code, he.Message = frame.Error.Code, frame.Error.Message
		}
		ch <- result{err: he}
		return
	}
	ch <- result{payload: frame.Result}
}

func (c *Client) handleEvent(raw json.RawMessage) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Warn("undecodable hub event", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.HubEvents.WithLabelValues(ev.EventType).Inc()
	}
	if ev.EventType == "state_changed" {
		c.applyStateChange(ev.Data)
	}
	c.events.publish(ev)
}

// roundTrip sends one command and waits for its result. A timeout emits a
// disconnect-error on ConnectionEvents and closes the connection; the
// caller still sees the error.
func (c *Client) roundTrip(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload["id"] = id
	data, err := json.Marshal(payload)
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("encode hub command: %w", err)
	}

	select {
	case c.send <- data:
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.dropPending(id)
		err := fmt.Errorf("%w after %s", ErrTimeout, c.callTimeout)
		c.connErr.publish(err)
		c.Close()
		return nil, err
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
