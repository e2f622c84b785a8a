package client

import (
	"context"
	"time"
)

// Credentials identify the client to the broker. Identity doubles as the
// name of the private user queue.
type Credentials struct {
	Identity string
	Token    string
}

// Session describes a negotiated broker session.
type Session struct {
	ID               string
	Server           string
	Version          string
	Identity         string
	HeartbeatSend    time.Duration
	HeartbeatReceive time.Duration
	EstablishedAt    time.Time
}

// Delivery is one MESSAGE frame received on a subscription.
type Delivery struct {
	Subscription string
	Destination  string
	MessageID    string
	Body         []byte
}

// Conn is a live broker session. Receive is called from a single goroutine;
// the other methods may be called concurrently with it.
type Conn interface {
	Subscriber
	Session() Session
	Publish(destination string, body []byte) error
	Receive() (Delivery, error)
	Close() error
}

// Dialer opens broker sessions.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}
