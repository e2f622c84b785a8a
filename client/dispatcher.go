package client

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/mbocsi/gochat/proto"
)

// EventName identifies an application-level event.
type EventName string

const (
	EventMessage    EventName = "message"
	EventTyping     EventName = "typing"
	EventUserJoin   EventName = "userJoin"
	EventUserLeave  EventName = "userLeave"
	EventConnect    EventName = "connect"
	EventDisconnect EventName = "disconnect"
	EventError      EventName = "error"
)

// Event is what listeners receive. Frame is set for events produced by
// inbound traffic, Session for connect, Err for error and disconnect.
type Event struct {
	Name    EventName
	Frame   *proto.InboundFrame
	Session *Session
	Err     error
}

// Listener is a registration handle returned by On. Registering the same
// function twice yields two distinct listeners that both fire.
type Listener struct {
	fn func(Event)
}

// Dispatcher is an ordered observer registry. Emit invokes listeners
// synchronously on the calling goroutine in registration order; a panicking
// listener is logged and does not stop the rest.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[EventName][]*Listener
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[EventName][]*Listener),
		logger:    logger,
	}
}

// On appends fn to the listeners of event.
func (d *Dispatcher) On(event EventName, fn func(Event)) *Listener {
	if fn == nil {
		return nil
	}
	l := &Listener{fn: fn}
	d.mu.Lock()
	d.listeners[event] = append(d.listeners[event], l)
	d.mu.Unlock()
	return l
}

// Off removes the first registration matching l. It reports whether one was found.
func (d *Dispatcher) Off(event EventName, l *Listener) bool {
	if l == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[event]
	i := slices.Index(list, l)
	if i < 0 {
		return false
	}
	d.listeners[event] = slices.Delete(slices.Clone(list), i, i+1)
	return true
}

// Count returns the number of listeners registered for event.
func (d *Dispatcher) Count(event EventName) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[event])
}

// Reset drops every listener.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.listeners = make(map[EventName][]*Listener)
	d.mu.Unlock()
}

func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	list := d.listeners[ev.Name]
	d.mu.RUnlock()

	for _, l := range list {
		d.invoke(l, ev)
	}
}

func (d *Dispatcher) invoke(l *Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event listener panicked", "event", ev.Name, "panic", r)
		}
	}()
	l.fn(ev)
}
