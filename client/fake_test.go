package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errConnLost = errors.New("fake: connection lost")

type published struct {
	Destination string
	Body        []byte
}

func (p published) Fields() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(p.Body, &m)
	return m
}

// fakeConn records every call in order and delivers frames pushed with deliver.
type fakeConn struct {
	mu           sync.Mutex
	session      Session
	log          []string
	subs         map[string]string // destination -> subscription id
	unsubscribed []string
	published    []published
	publishOK    int // successful publishes before publishErr applies; <0 means never fail
	publishErr   error
	subscribeErr error
	holds        map[string]*publishHold // destination -> hold for its next publish

	deliveries chan Delivery
	closed     chan struct{}
	closeOnce  sync.Once
	lossErr    error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		session:    Session{ID: id, Server: "fake", Version: "1.2", EstablishedAt: time.Now()},
		subs:       make(map[string]string),
		publishOK:  -1,
		deliveries: make(chan Delivery, 16),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) Session() Session {
	return c.session
}

func (c *fakeConn) Subscribe(destination, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subs[destination] = id
	c.log = append(c.log, "subscribe "+destination)
	return nil
}

func (c *fakeConn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, id)
	c.log = append(c.log, "unsubscribe "+id)
	return nil
}

// publishHold parks the next publish to one destination until released.
type publishHold struct {
	reached chan struct{}
	release chan struct{}
}

func (c *fakeConn) holdPublish(destination string) *publishHold {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds == nil {
		c.holds = make(map[string]*publishHold)
	}
	h := &publishHold{reached: make(chan struct{}), release: make(chan struct{})}
	c.holds[destination] = h
	return h
}

func (c *fakeConn) Publish(destination string, body []byte) error {
	c.mu.Lock()
	if h, ok := c.holds[destination]; ok {
		delete(c.holds, destination)
		c.mu.Unlock()
		close(h.reached)
		<-h.release
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.publishErr != nil && c.publishOK == 0 {
		return c.publishErr
	}
	if c.publishOK > 0 {
		c.publishOK--
	}
	c.published = append(c.published, published{Destination: destination, Body: body})
	c.log = append(c.log, "publish "+destination)
	return nil
}

func (c *fakeConn) Receive() (Delivery, error) {
	select {
	case d := <-c.deliveries:
		return d, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.lossErr != nil {
			return Delivery{}, c.lossErr
		}
		return Delivery{}, errConnLost
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the broker going away.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.lossErr = err
	c.mu.Unlock()
	c.Close()
}

// failPublishes makes publishes fail after ok more successes.
func (c *fakeConn) failPublishes(ok int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishOK = ok
	c.publishErr = err
}

func (c *fakeConn) deliver(destination string, body string) {
	c.mu.Lock()
	id := c.subs[destination]
	c.mu.Unlock()
	c.deliveries <- Delivery{Subscription: id, Destination: destination, Body: []byte(body)}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func (c *fakeConn) Published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func (c *fakeConn) Subscriptions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	creds   []Credentials
	conns   []*fakeConn
	errs    []error
	gate    chan struct{}
	prepare func(*fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.creds = append(d.creds, creds)
	gate := d.gate
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	n := d.dials
	prepare := d.prepare
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn(fmt.Sprintf("session-%d", n))
	conn.session.Identity = creds.Identity
	if prepare != nil {
		prepare(conn)
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// recorder collects emitted events per name.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client, names ...EventName) *recorder {
	r := &recorder{}
	for _, name := range names {
		c.On(name, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) Count(name EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) Last(name EventName) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func (r *recorder) Names() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]EventName, 0, len(r.events))
	for _, ev := range r.events {
		names = append(names, ev.Name)
	}
	return names
}
