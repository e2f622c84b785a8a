package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/gochat/proto"
)

// Client keeps a broker session alive, queues outbound messages while the
// session is down and dispatches inbound frames to application listeners.
//
// Queued messages survive Disconnect and are flushed by the next successful
// Connect. Use DiscardPending to drop them explicitly.
type Client struct {
	dialer         Dialer
	logger         *slog.Logger
	backoff        Backoff
	connectTimeout time.Duration

	queue  *Queue
	subs   *Registry
	router *Router
	events *Dispatcher

	// sendMu orders publishes: a flush holds it until it completes or faults,
	// so sends issued meanwhile go out after the queued messages.
	sendMu sync.Mutex

	mu       sync.Mutex
	state    ConnectionState
	conn     Conn
	session  *Session
	lastErr  error
	attempts int
	creds    Credentials
	privateQ string
	pending  *attempt
	retry    *time.Timer
	retrySeq uint64
	gen      uint64
	closed   bool
}

type attempt struct {
	gen     uint64
	done    chan struct{}
	cancel  context.CancelFunc
	session *Session
	err     error
}

func (a *attempt) wait(ctx context.Context) (*Session, error) {
	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff sets the automatic reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithQueueLimit bounds the outbound queue. Sends beyond the limit fail with ErrQueueFull.
func WithQueueLimit(limit int) Option {
	return func(c *Client) {
		c.queue = NewQueue(limit)
	}
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = timeout
	}
}

// New creates a disconnected client that opens sessions through dialer.
func New(dialer Dialer, opts ...Option) (*Client, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}
	c := &Client{
		dialer:         dialer,
		logger:         slog.Default(),
		backoff:        DefaultBackoff(),
		connectTimeout: 10 * time.Second,
		queue:          NewQueue(0),
		subs:           NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = NewDispatcher(c.logger)
	c.router = NewRouter(c.events, c.logger)
	return c, nil
}

// NewFromConfig creates a client that dials cfg.URL over WebSocket.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	dialer := NewWebSocketDialer(cfg.URL)
	dialer.HeartbeatSend = cfg.HeartbeatSend
	dialer.HeartbeatReceive = cfg.HeartbeatReceive
	base := []Option{
		WithBackoff(cfg.Backoff()),
		WithQueueLimit(cfg.QueueLimit),
		WithConnectTimeout(cfg.ConnectTimeout),
	}
	return New(dialer, append(base, opts...)...)
}

// Connect opens the broker session. It returns the live session immediately
// when already connected and joins the in-flight attempt when one is running.
// On success the declared subscriptions are re-established, the outbound
// queue is flushed and a connect event fires, in that order.
func (c *Client) Connect(ctx context.Context, identity, token string) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == StateConnected && c.conn != nil {
		session := c.session
		c.mu.Unlock()
		return session, nil
	}
	if a := c.pending; a != nil {
		c.mu.Unlock()
		return a.wait(ctx)
	}
	c.creds = Credentials{Identity: identity, Token: token}
	c.stopRetryLocked()
	a := c.beginLocked()
	c.mu.Unlock()

	c.run(ctx, a)
	return a.session, a.err
}

// Disconnect closes the session and cancels automatic reconnects. It is safe
// to call in any state and never fails. Queued messages are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryLocked()
	conn := c.conn
	prev := c.state
	pending := c.pending
	c.conn = nil
	c.session = nil
	c.pending = nil
	c.state = StateDisconnected
	if pending != nil && pending.cancel != nil {
		pending.cancel()
	}
	c.mu.Unlock()

	c.subs.Deactivate()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Error closing connection", "error", err.Error())
		}
	}
	if prev == StateDisconnected && conn == nil && pending == nil {
		return
	}
	c.logger.Info("Disconnected", "from", prev.String(), "queued", c.queue.Len())
	c.events.Emit(Event{Name: EventDisconnect})
}

// Close disconnects and releases the client. Listeners and queued messages
// are dropped and later calls fail with ErrClosed.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.Reset()
	if dropped := c.queue.Clear(); dropped > 0 {
		c.logger.Warn("Discarded queued messages on close", "count", dropped)
	}
	return nil
}

// Send publishes message to destination when connected and reports true.
// Otherwise the message is queued and Send reports false. A publish fault
// also queues the message and drops the connection so the reconnect path
// delivers it.
func (c *Client) Send(destination string, message any) (bool, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return false, fmt.Errorf("client: encode message for %s: %w", destination, err)
	}

	sent, lost, lostErr, err := c.enqueueOrSend(destination, payload)
	if lost != nil {
		c.connectionLost(lost, lostErr)
	}
	return sent, err
}

func (c *Client) enqueueOrSend(destination string, payload json.RawMessage) (sent bool, lost Conn, lostErr error, err error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, nil, nil, ErrClosed
	}
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if connected {
		pubErr := c.publish(conn, destination, payload)
		if pubErr == nil {
			return true, nil, nil, nil
		}
		c.logger.Warn("Publish failed, queueing message", "destination", destination, "error", pubErr.Error())
		lost, lostErr = conn, pubErr
	}

	msg := proto.OutboundMessage{
		ID:          uuid.NewString(),
		Destination: destination,
		Payload:     payload,
		EnqueuedAt:  time.Now(),
	}
	if err := c.queue.Push(msg); err != nil {
		return false, lost, lostErr, err
	}
	if lost == nil {
		c.logger.Warn("Not connected, message queued", "destination", destination, "queued", c.queue.Len())
	}
	return false, lost, lostErr, nil
}

func (c *Client) publish(conn Conn, destination string, payload json.RawMessage) error {
	body, err := proto.Stamp(payload, uuid.NewString(), time.Now())
	if err != nil {
		return fmt.Errorf("client: stamp message for %s: %w", destination, err)
	}
	if err := conn.Publish(destination, body); err != nil {
		return err
	}
	c.logger.Debug("Published message", "destination", destination, "size", len(body))
	return nil
}

// On registers fn for event and returns the handle needed by Off.
func (c *Client) On(event EventName, fn func(Event)) *Listener {
	return c.events.On(event, fn)
}

// Off removes the registration l from event.
func (c *Client) Off(event EventName, l *Listener) bool {
	return c.events.Off(event, l)
}

// Subscribe declares an extra topic. A nil handler routes frames through the
// message router. When connected the subscription is sent right away.
func (c *Client) Subscribe(pattern string, handler FrameHandler) error {
	if handler == nil {
		handler = c.router.Route
	}
	if !c.subs.Declare(pattern, handler) {
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	if _, err := c.subs.ActivateOne(conn, pattern); err != nil {
		return fmt.Errorf("client: subscribe %s: %w", pattern, err)
	}
	return nil
}

// Unsubscribe forgets a declared topic and unsubscribes it from the live session.
func (c *Client) Unsubscribe(pattern string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	id, active := c.subs.Remove(pattern)
	if !active {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Unsubscribe(id); err != nil {
		return fmt.Errorf("client: unsubscribe %s: %w", pattern, err)
	}
	return nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsConnected:       c.state == StateConnected,
		State:             c.state,
		LastError:         c.lastErr,
		ReconnectAttempts: c.attempts,
	}
}

func (c *Client) IsConnected() bool {
	return c.Status().IsConnected
}

// Pending returns a copy of the queued outbound messages.
func (c *Client) Pending() []proto.OutboundMessage {
	return c.queue.Pending()
}

// DiscardPending drops every queued outbound message.
func (c *Client) DiscardPending() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.queue.Clear()
}

// Subscriptions lists the declared topic patterns.
func (c *Client) Subscriptions() []string {
	return c.subs.Patterns()
}

func (c *Client) beginLocked() *attempt {
	c.transition(StateConnecting)
	a := &attempt{gen: c.gen, done: make(chan struct{})}
	c.pending = a
	return a
}

func (c *Client) run(ctx context.Context, a *attempt) {
	defer close(a.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.connectTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, c.connectTimeout)
		defer stop()
	}

	c.mu.Lock()
	a.cancel = cancel
	creds := c.creds
	aborted := c.gen != a.gen
	c.mu.Unlock()
	if aborted {
		a.err = ErrConnectAborted
		return
	}

	c.declareBuiltins(creds.Identity)
	c.logger.Info("Connecting", "identity", creds.Identity)

	conn, err := c.dialer.Dial(ctx, creds)
	if err != nil {
		c.failAttempt(a, err)
		return
	}
	c.establish(a, conn)
}

func (c *Client) establish(a *attempt, conn Conn) {
	c.sendMu.Lock()

	c.mu.Lock()
	if c.gen != a.gen || c.closed {
		c.mu.Unlock()
		c.sendMu.Unlock()
		_ = conn.Close()
		a.err = ErrConnectAborted
		return
	}
	c.mu.Unlock()

	if err := c.subs.Activate(conn); err != nil {
		c.sendMu.Unlock()
		_ = conn.Close()
		c.subs.Deactivate()
		c.failAttempt(a, fmt.Errorf("client: subscribe: %w", err))
		return
	}

	session := conn.Session()
	c.mu.Lock()
	if c.gen != a.gen || c.closed {
		c.mu.Unlock()
		c.sendMu.Unlock()
		_ = conn.Close()
		a.err = ErrConnectAborted
		return
	}
	c.conn = conn
	c.session = &session
	c.pending = nil
	c.attempts = 0
	c.lastErr = nil
	c.transition(StateConnected)
	c.mu.Unlock()

	flushed, flushErr := c.queue.Flush(func(m proto.OutboundMessage) error {
		return c.publish(conn, m.Destination, m.Payload)
	})
	c.sendMu.Unlock()

	if flushed > 0 {
		c.logger.Info("Flushed queued messages", "count", flushed)
	}
	c.logger.Info("Connected", "session", session.ID, "server", session.Server, "version", session.Version)

	a.session = &session
	c.events.Emit(Event{Name: EventConnect, Session: &session})

	go c.readLoop(conn)

	if flushErr != nil {
		c.logger.Warn("Flush interrupted, keeping remaining messages", "remaining", c.queue.Len(), "error", flushErr.Error())
		c.connectionLost(conn, flushErr)
	}
}

func (c *Client) failAttempt(a *attempt, err error) {
	a.err = err

	c.mu.Lock()
	if c.gen != a.gen || c.closed {
		c.mu.Unlock()
		a.err = ErrConnectAborted
		return
	}
	c.pending = nil
	c.lastErr = err
	c.transition(StateErrored)
	gen := c.gen
	c.mu.Unlock()

	c.logger.Error("Connect failed", "error", err.Error())
	c.events.Emit(Event{Name: EventError, Err: err})
	c.scheduleReconnect(gen)
}

func (c *Client) readLoop(conn Conn) {
	for {
		d, err := conn.Receive()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		handler, ok := c.subs.Handler(d.Subscription, d.Destination)
		if !ok {
			c.logger.Warn("Delivery for unknown subscription", "subscription", d.Subscription, "destination", d.Destination)
			continue
		}
		c.deliver(handler, d)
	}
}

func (c *Client) deliver(handler FrameHandler, d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Frame handler panicked", "destination", d.Destination, "panic", r)
		}
	}()
	handler(d.Body)
}

// connectionLost handles a fault on the live connection. Faults on a
// connection that is no longer current are ignored.
func (c *Client) connectionLost(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.session = nil
	c.lastErr = cause
	c.transition(StateDisconnected)
	gen := c.gen
	c.mu.Unlock()

	c.subs.Deactivate()
	_ = conn.Close()
	c.logger.Warn("Connection lost", "error", cause, "queued", c.queue.Len())
	c.events.Emit(Event{Name: EventDisconnect, Err: cause})
	c.scheduleReconnect(gen)
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen || c.retry != nil || c.pending != nil || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	if !c.backoff.Allows(c.attempts + 1) {
		attempts := c.attempts
		disabled := c.backoff.Disabled
		c.mu.Unlock()
		if !disabled {
			c.logger.Error("Giving up reconnecting", "attempts", attempts)
			c.events.Emit(Event{Name: EventError, Err: ErrReconnectExhausted})
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.backoff.Next(attempt)
	c.retrySeq++
	seq := c.retrySeq
	c.retry = time.AfterFunc(delay, func() { c.reconnect(gen, seq) })
	c.mu.Unlock()

	c.logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (c *Client) reconnect(gen, seq uint64) {
	c.mu.Lock()
	if c.retrySeq != seq || c.retry == nil {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	if c.closed || c.gen != gen || c.pending != nil || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	a := c.beginLocked()
	c.mu.Unlock()

	c.run(context.Background(), a)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.retrySeq++
}

func (c *Client) transition(next ConnectionState) {
	if c.state == next {
		return
	}
	if !canTransition(c.state, next) {
		c.logger.Warn("Unexpected state transition", "from", c.state.String(), "to", next.String())
	}
	c.logger.Debug("State changed", "from", c.state.String(), "to", next.String())
	c.state = next
}

// declareBuiltins declares the broadcast topic, the identity's private queue
// and the notification topic, all routed through the message router.
func (c *Client) declareBuiltins(identity string) {
	c.subs.Declare(proto.TopicMessages, c.router.Route)

	queue := ""
	if identity != "" {
		queue = proto.UserQueue(identity)
	}
	c.mu.Lock()
	previous := c.privateQ
	c.privateQ = queue
	c.mu.Unlock()
	if previous != "" && previous != queue {
		c.subs.Remove(previous)
	}
	if queue != "" {
		c.subs.Declare(queue, c.router.Route)
	}

	c.subs.Declare(proto.TopicNotifications, c.router.Route)
}
