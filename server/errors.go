package server

import (
	"errors"
	"fmt"
)

var (
	ErrForbiddenDestination = errors.New("server: destination belongs to another user")
	ErrMaxClients           = errors.New("server: maximum sessions reached")
)

// ProtocolError is reported to the peer as a STOMP ERROR frame, after which
// the session is closed.
type ProtocolError struct {
	Command string
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("server: %s", e.Reason)
	}
	return fmt.Sprintf("server: %s: %s", e.Command, e.Reason)
}
