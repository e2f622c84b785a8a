package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/gochat/proto"
)

const writeWait = 10 * time.Second

type WSClient struct {
	ClientMetadata
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWSClient(conn *websocket.Conn, identity, remoteAddr string) *WSClient {
	c := &WSClient{conn: conn}
	c.ClientMetadata.init("ws", identity, remoteAddr)
	return c
}

// Deliver sends a MESSAGE frame for one subscription.
func (c *WSClient) Deliver(destination, subscription string, body []byte) error {
	f := frame.New(frame.MESSAGE,
		frame.Destination, destination,
		frame.Subscription, subscription,
		frame.MessageId, uuid.NewString(),
		frame.ContentType, "application/json",
	)
	f.Body = body
	if err := c.writeFrame(f); err != nil {
		return err
	}

	slog.Debug("Sent STOMP message", "to", c.Id, "destination", destination, "subscription", subscription, "size", len(body))
	return nil
}

func (c *WSClient) Meta() *ClientMetadata {
	return &c.ClientMetadata
}

// writeFrame writes one frame, or a heartbeat when f is nil.
func (c *WSClient) writeFrame(f *frame.Frame) error {
	data, err := proto.EncodeFrame(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) close(code int, text string) {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
