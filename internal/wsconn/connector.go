// Package wsconn implements the WS Connector (spec §4.5): one logical
// connection to either the market or user channel, with heartbeat
// monitoring, reconnection under truncated exponential backoff with
// jitter, and a bounded drop-oldest inbound frame queue so a slow decoder
// never stalls the socket read loop.
//
// Grounded on the teacher's internal/exchange/ws.go WSFeed: the dial/read/
// ping-loop/backoff shape is kept, generalized with an explicit state
// machine (spec requires Disconnected/Connecting/Connected/Draining/Failed,
// the teacher had none), jittered backoff (the teacher's was bare
// exponential), and a single byte-frame inbound channel instead of four
// pre-typed channels, since decoding now happens once in internal/wire
// rather than once per call site.
package wsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-streamcore/internal/metrics"
)

// State is one of the connector's lifecycle states (spec §4.5).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthPayload carries the user-channel HMAC auth fields (spec §4.5, §6).
type AuthPayload struct {
	ApiKey     string
	Passphrase string
	Signature  string
	Timestamp  string
}

// Command is an outbound control message: subscribe, unsubscribe, or a
// request to disconnect. The outbound queue only drains while Connected
// (spec §4.5); commands issued in other states stay queued.
type Command struct {
	Op      string // "subscribe", "unsubscribe", "disconnect"
	Channel string // "MARKET" or "USER"
	IDs     []string
	Auth    *AuthPayload
}

// Config bounds the connector's timing behavior.
type Config struct {
	URL                   string
	ChannelLabel          string // used only for logging/metrics, e.g. "market" or "user"
	HeartbeatInterval     time.Duration
	ReconnectInitialWait  time.Duration
	ReconnectMaxWait      time.Duration
	InboundQueueCapacity  int
	OutboundQueueCapacity int

	// MaxReconnectAttempts bounds consecutive connection attempts that never
	// reach Connected before the connector gives up and transitions to
	// Failed. Zero means unbounded (spec §4.5 "attempt count is unbounded
	// unless configured").
	MaxReconnectAttempts int
}

// Connector manages one WebSocket connection's lifecycle.
type Connector struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	inbound  chan []byte
	outbound chan Command

	// OnReconnect is invoked (from the connector's own goroutine) after a
	// successful reconnect and before resuming reads, so the caller
	// (internal/streamengine, reading the subscription.Controller's active
	// set) can reassert every active subscription
	// (spec §4.5 "ask Subscription Controller to reassert").
	OnReconnect func(send func(Command) error)
}

// New builds a Connector. inbound frames are delivered on a bounded
// channel; FramesDropped is incremented on overflow rather than blocking.
func New(cfg Config, logger *slog.Logger, m *metrics.Registry) *Connector {
	if cfg.InboundQueueCapacity <= 0 {
		cfg.InboundQueueCapacity = 256
	}
	if cfg.OutboundQueueCapacity <= 0 {
		cfg.OutboundQueueCapacity = 32
	}
	return &Connector{
		cfg:      cfg,
		logger:   logger.With("component", "wsconn", "channel", cfg.ChannelLabel),
		metrics:  m,
		inbound:  make(chan []byte, cfg.InboundQueueCapacity),
		outbound: make(chan Command, cfg.OutboundQueueCapacity),
		state:    Disconnected,
	}
}

// Inbound returns the channel the Wire Decoder reads raw frames from.
func (c *Connector) Inbound() <-chan []byte { return c.inbound }

// Enqueue submits an outbound command. Never blocks indefinitely: the
// queue is sized generously and commands are cheap, so a full queue here
// indicates a stuck connector and is logged rather than silently dropped.
func (c *Connector) Enqueue(cmd Command) {
	select {
	case c.outbound <- cmd:
	default:
		c.logger.Warn("outbound command queue full, dropping", "op", cmd.Op)
	}
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.ConnectionState.WithLabelValues(c.cfg.ChannelLabel).Set(float64(s))
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting under exponential backoff with jitter on any failure.
func (c *Connector) Run(ctx context.Context) error {
	wait := c.cfg.ReconnectInitialWait
	if wait <= 0 {
		wait = time.Second
	}
	maxWait := c.cfg.ReconnectMaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	first := true
	failures := 0
	for {
		// Graceful shutdown: Draining is the terminal state here, not
		// Disconnected (spec §5 "the connector transitions to Draining ...
		// then tasks exit").
		if ctx.Err() != nil {
			c.setState(Draining)
			return ctx.Err()
		}

		c.setState(Connecting)
		connected, err := c.connectAndRead(ctx, first)
		first = false
		if connected {
			failures = 0
		} else {
			failures++
		}

		if ctx.Err() != nil {
			c.setState(Draining)
			return ctx.Err()
		}

		if c.cfg.MaxReconnectAttempts > 0 && failures >= c.cfg.MaxReconnectAttempts {
			c.setState(Failed)
			c.logger.Error("giving up after repeated connection failures", "attempts", failures, "error", err)
			return fmt.Errorf("wsconn: %d consecutive connection attempts failed: %w", failures, err)
		}

		c.setState(Disconnected)
		if err != nil {
			c.logger.Warn("connection lost, reconnecting", "error", err, "wait", wait)
		}
		c.metrics.Reconnects.WithLabelValues(c.cfg.ChannelLabel).Inc()

		select {
		case <-ctx.Done():
			c.setState(Draining)
			return ctx.Err()
		case <-time.After(jitter(wait)):
		}

		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}

// jitter applies spec §4.5's ±20% jitter to a backoff duration.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// connectAndRead dials, reads until the connection drops or ctx is
// cancelled, and reports whether it ever reached Connected so the caller
// can distinguish a dial failure from a connection that ran and then lost
// liveness.
func (c *Connector) connectAndRead(ctx context.Context, initialConnect bool) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		conn.Close()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(Connected)
	c.logger.Info("connected")

	if !initialConnect && c.OnReconnect != nil {
		c.OnReconnect(c.send)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx, conn)

	cmdCtx, cmdCancel := context.WithCancel(ctx)
	defer cmdCancel()
	go c.commandLoop(cmdCtx)

	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		// A read deadline of 3x the heartbeat interval implements spec
		// §4.5's "no server liveness signal for 3H -> Draining": a timeout
		// here sets Draining explicitly before the caller closes out to
		// Disconnected and schedules a reconnect.
		conn.SetReadDeadline(time.Now().Add(3 * interval))
		_, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if ne, ok := readErr.(net.Error); ok && ne.Timeout() {
				c.setState(Draining)
				c.logger.Warn("no server liveness signal within deadline, draining", "error", readErr)
			}
			return true, fmt.Errorf("read: %w", readErr)
		}

		select {
		case c.inbound <- msg:
		default:
			// drop-oldest: make room for the newest frame rather than
			// stalling the socket read loop (spec §4.5).
			select {
			case <-c.inbound:
			default:
			}
			select {
			case c.inbound <- msg:
			default:
			}
			c.metrics.FramesDropped.WithLabelValues(c.cfg.ChannelLabel).Inc()
		}
	}
}

// heartbeatLoop sends a PING at every interval. A write failure closes the
// connection directly so the blocked read loop unblocks immediately instead
// of waiting out the read deadline.
func (c *Connector) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("heartbeat write failed, forcing reconnect", "error", err)
				c.mu.Lock()
				if c.conn == conn {
					conn.Close()
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Connector) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.outbound:
			if cmd.Op == "disconnect" {
				c.mu.Lock()
				if c.conn != nil {
					c.conn.Close()
				}
				c.mu.Unlock()
				return
			}
			if err := c.send(cmd); err != nil {
				c.logger.Warn("send command failed", "op", cmd.Op, "error", err)
			}
		}
	}
}

func (c *Connector) send(cmd Command) error {
	payload := struct {
		Type     string       `json:"type"`
		AssetIDs []string     `json:"assets_ids,omitempty"`
		Markets  []string     `json:"markets,omitempty"`
		Auth     *AuthPayload `json:"auth,omitempty"`
	}{
		Type: cmd.Channel,
	}
	if cmd.Channel == "MARKET" {
		payload.AssetIDs = cmd.IDs
	} else {
		payload.Markets = cmd.IDs
		payload.Auth = cmd.Auth
	}
	return c.writeJSON(payload)
}

func (c *Connector) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound command: %w", err)
	}
	return c.writeMessage(websocket.TextMessage, b)
}

func (c *Connector) writeMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(msgType, data)
}
