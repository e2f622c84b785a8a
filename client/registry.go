package client

import (
	"strconv"
	"sync"
)

// FrameHandler consumes the body of a frame delivered on a subscription.
type FrameHandler func(body []byte)

// Subscription is a declared intent to receive frames from a topic pattern.
type Subscription struct {
	Pattern string
	OnFrame FrameHandler
}

// Subscriber is the part of a live connection the registry needs.
type Subscriber interface {
	Subscribe(destination, id string) error
	Unsubscribe(id string) error
}

// ConfirmingSubscriber is implemented by connections that can wait for the
// broker to acknowledge a subscribe.
type ConfirmingSubscriber interface {
	Subscriber
	SubscribeConfirmed(destination, id string) error
}

// Registry records the subscriptions the client must hold once connected.
// Declared patterns survive reconnects; the active set belongs to one
// physical connection and is reset by Activate.
type Registry struct {
	mu       sync.Mutex
	order    []string
	declared map[string]Subscription
	active   map[string]string // pattern -> subscription id on the live connection
	byID     map[string]string // subscription id -> pattern
	seq      uint64
}

func NewRegistry() *Registry {
	return &Registry{
		declared: make(map[string]Subscription),
		active:   make(map[string]string),
		byID:     make(map[string]string),
	}
}

// Declare records a subscription. Declaring an existing pattern is a no-op
// and returns false.
func (r *Registry) Declare(pattern string, handler FrameHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[pattern]; ok {
		return false
	}
	r.declared[pattern] = Subscription{Pattern: pattern, OnFrame: handler}
	r.order = append(r.order, pattern)
	return true
}

// Remove forgets a declared pattern. It returns the subscription id the
// pattern holds on the live connection, if any.
func (r *Registry) Remove(pattern string) (id string, wasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[pattern]; !ok {
		return "", false
	}
	delete(r.declared, pattern)
	for i, p := range r.order {
		if p == pattern {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	id, wasActive = r.active[pattern]
	if wasActive {
		delete(r.active, pattern)
		delete(r.byID, id)
	}
	return id, wasActive
}

// Activate subscribes every declared pattern on a fresh connection, in
// declaration order. The previous connection's active set is discarded first.
// When s is a ConfirmingSubscriber the last subscribe waits for the broker's
// receipt, so all patterns are live on the broker once Activate returns.
// On error the patterns subscribed so far stay marked active for this
// connection.
func (r *Registry) Activate(s Subscriber) error {
	r.mu.Lock()
	clear(r.active)
	clear(r.byID)
	patterns := append([]string(nil), r.order...)
	r.mu.Unlock()

	confirming, canConfirm := s.(ConfirmingSubscriber)
	for i, pattern := range patterns {
		subscribe := s.Subscribe
		if canConfirm && i == len(patterns)-1 {
			subscribe = confirming.SubscribeConfirmed
		}
		if _, err := r.activate(subscribe, pattern); err != nil {
			return err
		}
	}
	return nil
}

// ActivateOne subscribes a single declared pattern unless it is already active
// on the current connection. It reports whether a subscribe was sent.
func (r *Registry) ActivateOne(s Subscriber, pattern string) (bool, error) {
	return r.activate(s.Subscribe, pattern)
}

func (r *Registry) activate(subscribe func(destination, id string) error, pattern string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.declared[pattern]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	if _, ok := r.active[pattern]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.seq++
	id := "sub-" + strconv.FormatUint(r.seq, 10)
	r.mu.Unlock()

	if err := subscribe(pattern, id); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.active[pattern] = id
	r.byID[id] = pattern
	r.mu.Unlock()
	return true, nil
}

// Deactivate clears the active set after the connection is gone.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	clear(r.active)
	clear(r.byID)
	r.mu.Unlock()
}

// Handler resolves the handler for a delivery, by subscription id first and
// destination second.
func (r *Registry) Handler(subscriptionID, destination string) (FrameHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pattern, ok := r.byID[subscriptionID]
	if !ok {
		pattern = destination
	}
	sub, ok := r.declared[pattern]
	if !ok || sub.OnFrame == nil {
		return nil, false
	}
	return sub.OnFrame, true
}

// Patterns lists declared patterns in declaration order.
func (r *Registry) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// IsActive reports whether pattern is subscribed on the live connection.
func (r *Registry) IsActive(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[pattern]
	return ok
}
