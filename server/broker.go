package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mbocsi/gochat/proto"
)

type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[Client]string // destination -> client -> subscription id
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[Client]string),
	}
}

// CanSubscribe reports whether identity may subscribe to destination.
// /user/{identity}/... destinations are private to that identity.
func CanSubscribe(destination, identity string) bool {
	rest, ok := strings.CutPrefix(destination, proto.UserPrefix)
	if !ok {
		return true
	}
	owner, _, _ := strings.Cut(rest, "/")
	return owner != "" && owner == identity
}

// Subscribe registers client on destination under the subscription id. A
// reused id moves the subscription to the new destination.
func (b *Broker) Subscribe(destination, id string, client Client) error {
	meta := client.Meta()
	if !CanSubscribe(destination, meta.Identity) {
		return fmt.Errorf("%w: %s", ErrForbiddenDestination, destination)
	}
	slog.Debug("Subscribing", "destination", destination, "subscription", id, "clientId", meta.Id)

	meta.Mu.Lock()
	previous, existed := meta.Subs[id]
	meta.Subs[id] = destination
	meta.Mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if existed && previous != destination {
		b.removeLocked(previous, client)
	}
	if b.subs[destination] == nil {
		b.subs[destination] = make(map[Client]string)
	}
	b.subs[destination][client] = id
	return nil
}

func (b *Broker) Unsubscribe(id string, client Client) {
	meta := client.Meta()
	meta.Mu.Lock()
	destination, ok := meta.Subs[id]
	delete(meta.Subs, id)
	meta.Mu.Unlock()

	if !ok {
		slog.Warn("Did not find subscription to unsubscribe", "subscription", id, "clientId", meta.Id)
		return
	}
	slog.Debug("Unsubscribing", "destination", destination, "subscription", id, "clientId", meta.Id)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(destination, client)
}

// UnsubscribeAll drops every subscription held by client.
func (b *Broker) UnsubscribeAll(client Client) {
	meta := client.Meta()
	meta.Mu.Lock()
	destinations := make([]string, 0, len(meta.Subs))
	for id, dest := range meta.Subs {
		destinations = append(destinations, dest)
		delete(meta.Subs, id)
	}
	meta.Mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dest := range destinations {
		b.removeLocked(dest, client)
	}
}

func (b *Broker) removeLocked(destination string, client Client) {
	subs, ok := b.subs[destination]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(b.subs, destination)
	}
}

type delivery struct {
	client Client
	id     string
}

// Publish delivers body to every subscriber of destination and returns how
// many deliveries succeeded.
func (b *Broker) Publish(destination string, body []byte) int {
	b.mu.RLock()
	targets := make([]delivery, 0, len(b.subs[destination]))
	for client, id := range b.subs[destination] {
		targets = append(targets, delivery{client: client, id: id})
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, t := range targets {
		if err := t.client.Deliver(destination, t.id, body); err != nil {
			slog.Warn("There was an error publishing a message to a subscriber", "destination", destination, "clientId", t.client.Meta().Id, "error", err.Error())
			continue
		}
		sentCount++
	}
	slog.Debug("Message published",
		"destination", destination,
		"subscribers", sentCount,
		"size", len(body),
	)
	return sentCount
}

// Topics returns the subscriber count per destination.
func (b *Broker) Topics() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make(map[string]int, len(b.subs))
	for dest, subs := range b.subs {
		topics[dest] = len(subs)
	}
	return topics
}

func (b *Broker) Subscribers(destination string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[destination])
}
