package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientMetadata describes one STOMP session attached to the broker.
type ClientMetadata struct {
	Id          string
	Identity    string
	RemoteAddr  string
	Version     string
	ConnectedAt time.Time
	LastSeen    time.Time
	Subs        map[string]string // subscription id -> destination
	Mu          sync.RWMutex
}

// Subscriptions returns a copy of the session's subscriptions.
func (m *ClientMetadata) Subscriptions() map[string]string {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	subs := make(map[string]string, len(m.Subs))
	for id, dest := range m.Subs {
		subs[id] = dest
	}
	return subs
}

func (m *ClientMetadata) Touch() {
	m.Mu.Lock()
	m.LastSeen = time.Now()
	m.Mu.Unlock()
}

// Client is a session the broker can deliver MESSAGE frames to.
type Client interface {
	Deliver(destination, subscription string, body []byte) error
	Meta() *ClientMetadata
}

func (m *ClientMetadata) init(prefix, identity, remoteAddr string) {
	now := time.Now()
	m.Id = generateClientId(prefix)
	m.Identity = identity
	m.RemoteAddr = remoteAddr
	m.ConnectedAt = now
	m.LastSeen = now
	m.Subs = make(map[string]string)
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
