package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("client: not connected")
	ErrClosed             = errors.New("client: closed")
	ErrQueueFull          = errors.New("client: outbound queue full")
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	ErrConnectAborted     = errors.New("client: connect aborted by disconnect")
	ErrHeartbeatTimeout   = errors.New("client: heartbeat timeout")
	ErrNilDialer          = errors.New("client: nil dialer")
)

// BrokerError is a STOMP ERROR frame received from the broker. Callers can
// use errors.As to extract it from connect or disconnect errors.
type BrokerError struct {
	Message string
	Body    string
}

func (e *BrokerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("broker: %s", e.Message)
	}
	return fmt.Sprintf("broker: %s: %s", e.Message, e.Body)
}

// ServerError is an application-level {"type":"error"} body delivered on a
// subscription.
type ServerError struct {
	Message string
	UserID  string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}
