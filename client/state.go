package client

// ConnectionState is the lifecycle state of the broker connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "error"
	default:
		return "unknown"
	}
}

// allowed lists the transitions the connection manager performs. Disconnect
// may move any state to StateDisconnected and is not listed here.
var allowed = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateErrored},
	StateConnected:    {StateDisconnected},
	StateErrored:      {StateConnecting},
}

func canTransition(from, to ConnectionState) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Status is a snapshot of the client for UI layers. LastError and
// ReconnectAttempts are advisory.
type Status struct {
	IsConnected       bool
	State             ConnectionState
	LastError         error
	ReconnectAttempts int
}
