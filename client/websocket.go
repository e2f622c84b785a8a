package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/gochat/proto"
)

const (
	writeWait     = 10 * time.Second
	receiptWait   = 10 * time.Second
	anonymousUser = "anonymous"
)

// WebSocketDialer opens STOMP sessions over a WebSocket, one frame per
// text message.
type WebSocketDialer struct {
	URL              string
	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

func NewWebSocketDialer(rawURL string) *WebSocketDialer {
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = proto.Subprotocols
	return &WebSocketDialer{
		URL:              rawURL,
		HeartbeatSend:    4 * time.Second,
		HeartbeatReceive: 4 * time.Second,
		Dialer:           &dialer,
	}
}

// BrokerURL normalizes addr into a WebSocket URL. Bare host:port, http and
// tcp schemes are accepted; an empty path becomes /ws.
func BrokerURL(addr string) (*url.URL, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		u, err = url.Parse("ws://" + addr)
		if err != nil {
			return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
		}
	}
	switch u.Scheme {
	case "", "tcp", "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid WebSocket URL: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u, nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	target, err := BrokerURL(d.URL)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = NewWebSocketDialer(d.URL).Dialer
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ws, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	identity := creds.Identity
	if identity == "" {
		identity = anonymousUser
	}
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, proto.SupportedVersions,
		frame.Host, target.Hostname(),
		frame.HeartBeat, proto.FormatHeartbeat(d.HeartbeatSend, d.HeartbeatReceive),
		frame.Login, identity,
		proto.HeaderUserID, identity,
	)
	if creds.Token != "" {
		connect.Header.Set(frame.Passcode, creds.Token)
		connect.Header.Set(proto.HeaderToken, creds.Token)
	}

	c := &wsConn{ws: ws, logger: logger, done: make(chan struct{})}

	// Closing the socket unblocks the handshake when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	reply, err := c.handshake(connect)
	if !stop() {
		_ = ws.Close()
		return nil, fmt.Errorf("client: connect: %w", ctx.Err())
	}
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	send, receive, err := proto.NegotiateHeartbeat(d.HeartbeatSend, d.HeartbeatReceive, reply.Header.Get(frame.HeartBeat))
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	version := reply.Header.Get(frame.Version)
	if version == "" {
		version = "1.0"
	}
	c.session = Session{
		ID:               reply.Header.Get(frame.Session),
		Server:           reply.Header.Get(frame.Server),
		Version:          version,
		Identity:         identity,
		HeartbeatSend:    send,
		HeartbeatReceive: receive,
		EstablishedAt:    time.Now(),
	}
	if send > 0 {
		go c.heartbeats(send)
	}

	logger.Debug("STOMP session established", "url", target.String(), "session", c.session.ID,
		"heartbeat_send", send, "heartbeat_receive", receive)
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	logger  *slog.Logger
	session Session

	// backlog holds MESSAGE frames read while awaiting a receipt.
	backlog []Delivery

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) handshake(connect *frame.Frame) (*frame.Frame, error) {
	if err := c.writeFrame(connect); err != nil {
		return nil, err
	}
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("client: read CONNECTED: %w", err)
		}
		if proto.IsHeartbeat(data) {
			continue
		}
		f, err := proto.DecodeFrame(data)
		if err != nil {
			return nil, err
		}
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, brokerError(f)
		default:
			return nil, fmt.Errorf("client: expected CONNECTED, got %s", f.Command)
		}
	}
}

func (c *wsConn) Session() Session {
	return c.session
}

func (c *wsConn) Publish(destination string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json",
	)
	f.Body = body
	return c.writeFrame(f)
}

func (c *wsConn) Subscribe(destination, id string) error {
	return c.writeFrame(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	))
}

func (c *wsConn) Unsubscribe(id string) error {
	return c.writeFrame(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

// SubscribeConfirmed subscribes and blocks until the broker answers with a
// RECEIPT, so every frame written before it has been processed. MESSAGE
// frames read while waiting are kept for Receive. It must not run
// concurrently with Receive.
func (c *wsConn) SubscribeConfirmed(destination, id string) error {
	receipt := "subscribe-" + id
	if err := c.writeFrame(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
		frame.Receipt, receipt,
	)); err != nil {
		return err
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(receiptWait))
	defer c.ws.SetReadDeadline(time.Time{})
	for {
		f, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("client: await receipt %s: %w", receipt, err)
		}
		switch f.Command {
		case frame.RECEIPT:
			if f.Header.Get(frame.ReceiptId) == receipt {
				return nil
			}
		case frame.MESSAGE:
			c.backlog = append(c.backlog, delivery(f))
		case frame.ERROR:
			return brokerError(f)
		}
	}
}

// Receive blocks until the next MESSAGE. Heartbeats and receipts are
// consumed silently. An ERROR frame ends the session.
func (c *wsConn) Receive() (Delivery, error) {
	if len(c.backlog) > 0 {
		d := c.backlog[0]
		c.backlog = c.backlog[1:]
		return d, nil
	}
	for {
		if c.session.HeartbeatReceive > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.session.HeartbeatReceive))
		}
		f, err := c.readFrame()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return Delivery{}, ErrHeartbeatTimeout
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return Delivery{}, fmt.Errorf("WebSocket connection error: %w", err)
			}
			return Delivery{}, fmt.Errorf("connection closed: %w", err)
		}
		switch f.Command {
		case frame.MESSAGE:
			return delivery(f), nil
		case frame.ERROR:
			return Delivery{}, brokerError(f)
		case frame.RECEIPT:
			c.logger.Debug("Receipt", "id", f.Header.Get(frame.ReceiptId))
		default:
			c.logger.Warn("Ignoring unexpected STOMP frame", "command", f.Command)
		}
	}
}

// readFrame returns the next decodable frame, skipping heartbeats.
func (c *wsConn) readFrame() (*frame.Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if proto.IsHeartbeat(data) {
			continue
		}
		f, err := proto.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable STOMP frame", "error", err.Error(), "size", len(data))
			continue
		}
		return f, nil
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		if data, err := proto.EncodeFrame(frame.New(frame.DISCONNECT)); err == nil {
			_ = c.ws.WriteMessage(websocket.TextMessage, data)
		}
		err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("Failed to send close message", "error", err)
		}

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) writeFrame(f *frame.Frame) error {
	command := "heartbeat"
	if f != nil {
		command = f.Command
	}
	data, err := proto.EncodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", command, err)
	}
	c.logger.Debug("Sent STOMP frame", "command", command, "size", len(data))
	return nil
}

func (c *wsConn) heartbeats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeFrame(nil); err != nil {
				c.logger.Debug("Heartbeat writer stopped", "error", err)
				return
			}
		}
	}
}

func delivery(f *frame.Frame) Delivery {
	return Delivery{
		Subscription: f.Header.Get(frame.Subscription),
		Destination:  f.Header.Get(frame.Destination),
		MessageID:    f.Header.Get(frame.MessageId),
		Body:         f.Body,
	}
}

func brokerError(f *frame.Frame) *BrokerError {
	return &BrokerError{Message: f.Header.Get(frame.Message), Body: string(f.Body)}
}
