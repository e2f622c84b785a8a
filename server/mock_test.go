package server

import (
	"encoding/json"
	"sync"
)

type delivered struct {
	Destination  string
	Subscription string
	Body         []byte
}

func (d delivered) Fields() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(d.Body, &m)
	return m
}

// MockClient records deliveries instead of writing frames.
type MockClient struct {
	ClientMetadata
	mu        sync.Mutex
	delivered []delivered
	sendErr   error
}

func NewMockClient(identity string) *MockClient {
	c := &MockClient{}
	c.ClientMetadata.init("mock", identity, "127.0.0.1:0")
	return c
}

func (mc *MockClient) Deliver(destination, subscription string, body []byte) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.sendErr != nil {
		return mc.sendErr
	}
	mc.delivered = append(mc.delivered, delivered{Destination: destination, Subscription: subscription, Body: body})
	return nil
}

func (mc *MockClient) Meta() *ClientMetadata {
	return &mc.ClientMetadata
}

func (mc *MockClient) Delivered() []delivered {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]delivered(nil), mc.delivered...)
}

func (mc *MockClient) SetSendError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sendErr = err
}
