// Package transport owns the single WebSocket connection to the worker
// endpoint and dispatches decoded frames to registered handlers by kind.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"leo-remote/internal/history"
	"leo-remote/internal/protocol"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	sendBufferSize      = 256
	maxFrameSize        = 4 << 20
)

var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrClosed         = errors.New("transport closed")
	ErrSendBufferFull = errors.New("transport send buffer full")
)

// State is the physical connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ReconnectPolicy controls automatic re-dialing after an unexpected drop.
type ReconnectPolicy struct {
	Enabled    bool
	MaxRetries uint64 // 0 means retry until Close
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Options configures a Client. Zero values pick sensible defaults.
type Options struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	History      history.Store
	Logger       *slog.Logger
	PingInterval time.Duration
	WriteTimeout time.Duration
	Reconnect    ReconnectPolicy
}

// Client is the worker-facing connection. One Client should be created at the
// application's composition root and shared by every component that needs it;
// Connect is safe to call from each of them.
type Client struct {
	*Registry

	url     string
	dialer  *websocket.Dialer
	header  http.Header
	history history.Store
	log     *slog.Logger

	pingInterval time.Duration
	writeTimeout time.Duration
	reconnect    ReconnectPolicy

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	send       chan []byte
	dialDone   chan struct{}
	dialErr    error
	closed     bool
	sessionKey string
	stopRetry  context.CancelFunc

	// queueMu guards queue and draining. The goroutine that finds draining
	// unset delivers queued messages until the queue is empty, so handlers
	// run one at a time in enqueue order and may call back into the client.
	queueMu  sync.Mutex
	queue    []queued
	draining bool
	// recordMu orders history appends from the read pump and from Send.
	recordMu sync.Mutex
}

// New creates a Client for the worker endpoint at url. It does not dial.
func New(url string, opts Options) *Client {
	c := &Client{
		Registry:     NewRegistry(),
		url:          url,
		dialer:       opts.Dialer,
		header:       opts.Header,
		history:      opts.History,
		log:          opts.Logger,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		reconnect:    opts.Reconnect,
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "transport")
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.reconnect.BaseDelay <= 0 {
		c.reconnect.BaseDelay = 500 * time.Millisecond
	}
	if c.reconnect.MaxDelay <= 0 {
		c.reconnect.MaxDelay = 30 * time.Second
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether frames can be sent right now.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// BindSession sets the history key under which frames are recorded.
func (c *Client) BindSession(sessionID string) {
	c.mu.Lock()
	c.sessionKey = sessionID
	c.mu.Unlock()
}

// Connect dials the worker endpoint. It is a no-op when already connected;
// when another caller is dialing it waits for that attempt's outcome.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		done := c.dialDone
		c.mu.Unlock()
		select {
		case <-done:
			c.mu.Lock()
			err := c.dialErr
			c.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.state = StateConnecting
	done := make(chan struct{})
	c.dialDone = done
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	c.dialErr = err
	close(done)
	c.mu.Unlock()
	return err
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	send := make(chan []byte, sendBufferSize)

	c.mu.Lock()
	if c.closed {
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.send = send
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info("connected", "url", c.url)
	c.dispatch(protocol.Connected{}, nil)

	go c.writePump(conn, send)
	go c.readPump(conn)
	return nil
}

// Send queues cmd for the worker. It fails with ErrNotConnected when no
// connection exists; callers check Connected before issuing session commands.
func (c *Client) Send(cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected || c.send == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	select {
	case c.send <- data:
	default:
		c.mu.Unlock()
		return ErrSendBufferFull
	}
	key := c.sessionKey
	c.mu.Unlock()

	c.record(history.Entry{
		SessionID: key,
		Direction: history.Outbound,
		Kind:      cmd.CommandType(),
		Level:     protocol.LevelInfo,
		Text:      protocol.DescribeCommand(cmd),
		Raw:       data,
	})
	return nil
}

// Refresh drops the current connection and dials again. Recorded history is
// kept and no session command is replayed.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.teardown(conn, "refresh")
	}
	return c.Connect(ctx)
}

// Close shuts the connection down for good.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	stop := c.stopRetry
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		c.teardown(conn, "closed")
	}
	return nil
}

// teardown detaches conn and announces the disconnect exactly once per
// connection. It reports whether this call did the detaching.
func (c *Client) teardown(conn *websocket.Conn, reason string) bool {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.state = StateDisconnected
	close(c.send) // writePump sends a close frame and closes conn
	c.send = nil
	c.mu.Unlock()

	c.log.Info("disconnected", "reason", reason)
	c.dispatch(protocol.Disconnected{Reason: reason}, nil)
	return true
}

// readPump reads frames from the connection.
func (c *Client) readPump(conn *websocket.Conn) {
	readDeadline := 2 * c.pingInterval
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			unexpected := websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
			if unexpected {
				c.log.Error("websocket read error", "error", err)
			}
			if c.teardown(conn, err.Error()) {
				conn.Close()
				c.maybeReconnect()
			}
			return
		}

		msg, err := protocol.DecodeWorkerMessage(raw)
		if err != nil {
			c.log.Warn("dropping invalid frame", "error", err)
			continue
		}
		c.dispatch(msg, raw)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type queued struct {
	msg protocol.Message
	raw []byte
	key string
}

// dispatch queues msg for recording and delivery. When called from inside a
// handler it returns at once and msg is delivered after that handler returns.
func (c *Client) dispatch(msg protocol.Message, raw []byte) {
	c.mu.Lock()
	key := c.sessionKey
	c.mu.Unlock()

	c.queueMu.Lock()
	c.queue = append(c.queue, queued{msg: msg, raw: raw, key: key})
	if c.draining {
		c.queueMu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = queued{}
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.deliver(next)

		c.queueMu.Lock()
	}
	c.draining = false
	c.queueMu.Unlock()
}

func (c *Client) deliver(q queued) {
	level, text := protocol.Describe(q.msg)
	c.record(history.Entry{
		SessionID: q.key,
		Direction: history.Inbound,
		Kind:      string(q.msg.Kind()),
		Level:     level,
		Text:      text,
		Raw:       q.raw,
	})

	c.log.Debug("dispatch", "kind", q.msg.Kind())
	c.Registry.Dispatch(q.msg)
}

func (c *Client) record(e history.Entry) {
	if c.history == nil {
		return
	}

	c.recordMu.Lock()
	defer c.recordMu.Unlock()

	if _, err := c.history.Append(context.Background(), e); err != nil {
		c.log.Warn("failed to record history", "kind", e.Kind, "error", err)
	}
}

func (c *Client) maybeReconnect() {
	if !c.reconnect.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	if c.stopRetry != nil {
		c.stopRetry()
	}
	c.stopRetry = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()

		b := retry.NewExponential(c.reconnect.BaseDelay)
		b = retry.WithCappedDuration(c.reconnect.MaxDelay, b)
		if c.reconnect.MaxRetries > 0 {
			b = retry.WithMaxRetries(c.reconnect.MaxRetries, b)
		}

		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if err := c.Connect(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				c.log.Warn("reconnect attempt failed", "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			c.log.Error("giving up on reconnect", "error", err)
		}
	}()
}
