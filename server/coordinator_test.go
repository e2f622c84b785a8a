package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/mbocsi/gochat/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator() *Coordinator {
	c := NewCoordinator(NewClientRegistry(), NewBroker(), nil)
	c.now = func() time.Time { return fixedNow }
	return c
}

func subscribe(t *testing.T, c *Coordinator, client Client, destination, id string) {
	t.Helper()
	f := frame.New(frame.SUBSCRIBE, frame.Destination, destination, frame.Id, id)
	require.NoError(t, c.Handle(client, f))
}

func send(destination, body string) *frame.Frame {
	f := frame.New(frame.SEND, frame.Destination, destination)
	f.Body = []byte(body)
	return f
}

func TestCoordinator_WelcomeOnPrivateQueue(t *testing.T) {
	c := newTestCoordinator()
	alice := NewMockClient("alice")
	require.NoError(t, c.RegisterClient(alice))

	subscribe(t, c, alice, proto.UserQueue("alice"), "sub-2")

	got := alice.Delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "sub-2", got[0].Subscription)
	fields := got[0].Fields()
	assert.Equal(t, proto.TypeSystem, fields["type"])
	assert.Equal(t, alice.Id, fields["sessionId"])
	assert.Equal(t, "2024-05-01T12:00:00Z", fields["timestamp"])
}

func TestCoordinator_ForeignPrivateQueueRejected(t *testing.T) {
	c := newTestCoordinator()
	mallory := NewMockClient("mallory")

	err := c.Handle(mallory, frame.New(frame.SUBSCRIBE, frame.Destination, proto.UserQueue("alice"), frame.Id, "1"))
	assert.ErrorIs(t, err, ErrForbiddenDestination)
}

func TestCoordinator_ChatMessageBroadcast(t *testing.T) {
	c := newTestCoordinator()
	alice := NewMockClient("alice")
	bob := NewMockClient("bob")
	subscribe(t, c, alice, proto.TopicMessages, "s1")
	subscribe(t, c, bob, proto.TopicMessages, "s1")

	require.NoError(t, c.Handle(alice, send(proto.DestSendMessage,
		`{"type":"chat_message","content":"hello","userId":"alice","id":"m-1"}`)))

	got := bob.Delivered()
	require.Len(t, got, 1)
	fields := got[0].Fields()
	assert.Equal(t, proto.TypeChatMessage, fields["type"])
	assert.Equal(t, "hello", fields["content"])
	assert.Equal(t, "alice", fields["userId"])
	assert.Equal(t, "text", fields["messageType"])
	assert.Equal(t, "m-1", fields["id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", fields["timestamp"])
	assert.Len(t, alice.Delivered(), 1)
}

func TestCoordinator_InvalidChatMessageReportsError(t *testing.T) {
	c := newTestCoordinator()
	bob := NewMockClient("bob")
	subscribe(t, c, bob, proto.TopicMessages, "s1")

	require.NoError(t, c.Handle(bob, send(proto.DestSendMessage, `{"type":"chat_message","userId":"bob"}`)))
	require.NoError(t, c.Handle(bob, send(proto.DestSendMessage, `not json`)))

	got := bob.Delivered()
	require.Len(t, got, 2)
	for _, d := range got {
		fields := d.Fields()
		assert.Equal(t, proto.TypeError, fields["type"])
		assert.Equal(t, "system", fields["userId"])
		assert.Contains(t, fields["content"], "Failed to send message")
	}
}

func TestCoordinator_TypingStatus(t *testing.T) {
	c := newTestCoordinator()
	bob := NewMockClient("bob")
	subscribe(t, c, bob, proto.TopicMessages, "s1")

	require.NoError(t, c.Handle(bob, send(proto.DestTyping, `{"isTyping":true,"userId":"alice"}`)))
	// Missing userId is dropped.
	require.NoError(t, c.Handle(bob, send(proto.DestTyping, `{"isTyping":true}`)))

	got := bob.Delivered()
	require.Len(t, got, 1)
	fields := got[0].Fields()
	assert.Equal(t, proto.TypeTypingStatus, fields["type"])
	assert.Equal(t, true, fields["isTyping"])
	assert.Equal(t, "alice", fields["userId"])
}

func TestCoordinator_RoomEvents(t *testing.T) {
	c := newTestCoordinator()
	bob := NewMockClient("bob")
	subscribe(t, c, bob, proto.TopicNotifications, "n1")

	require.NoError(t, c.Handle(bob, send(proto.DestJoinRoom, `{"type":"join_room","roomId":"lobby","userId":"alice"}`)))
	require.NoError(t, c.Handle(bob, send(proto.DestLeaveRoom, `{"type":"leave_room","roomId":"lobby","userId":"alice"}`)))

	got := bob.Delivered()
	require.Len(t, got, 2)
	join := got[0].Fields()
	assert.Equal(t, proto.TypeUserJoin, join["type"])
	assert.Equal(t, "lobby", join["roomId"])
	assert.Equal(t, "alice joined room lobby", join["message"])
	leave := got[1].Fields()
	assert.Equal(t, proto.TypeUserLeave, leave["type"])
	assert.Equal(t, "alice left room lobby", leave["message"])
}

func TestCoordinator_DirectTopicPublish(t *testing.T) {
	c := newTestCoordinator()
	bob := NewMockClient("bob")
	subscribe(t, c, bob, "/topic/custom", "c1")

	require.NoError(t, c.Handle(bob, send("/topic/custom", `{"k":1}`)))
	got := bob.Delivered()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"k":1}`, string(got[0].Body))
}

func TestCoordinator_ProtocolErrors(t *testing.T) {
	c := newTestCoordinator()
	client := NewMockClient("alice")

	tests := []struct {
		name string
		f    *frame.Frame
	}{
		{"subscribe without destination", frame.New(frame.SUBSCRIBE, frame.Id, "1")},
		{"unsubscribe without id", frame.New(frame.UNSUBSCRIBE)},
		{"send without destination", frame.New(frame.SEND)},
		{"send to unknown prefix", send("/queue/x", `{}`)},
		{"unsupported command", frame.New(frame.MESSAGE)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var perr *ProtocolError
			assert.True(t, errors.As(c.Handle(client, tt.f), &perr))
		})
	}

	assert.NoError(t, c.Handle(client, frame.New(frame.ACK, frame.Id, "x")))
}

func TestCoordinator_UnsubscribeAndUnregister(t *testing.T) {
	c := newTestCoordinator()
	client := NewMockClient("alice")
	require.NoError(t, c.RegisterClient(client))
	subscribe(t, c, client, "/topic/a", "1")
	subscribe(t, c, client, "/topic/b", "2")

	require.NoError(t, c.Handle(client, frame.New(frame.UNSUBSCRIBE, frame.Id, "1")))
	assert.Equal(t, map[string]int{"/topic/b": 1}, c.Broker.Topics())

	c.UnregisterClient(client)
	assert.Empty(t, c.Broker.Topics())
	assert.Zero(t, c.Registery.Len())
}

func TestCoordinator_BroadcastSystemAndSessions(t *testing.T) {
	c := newTestCoordinator()
	client := NewMockClient("alice")
	require.NoError(t, c.RegisterClient(client))
	subscribe(t, c, client, proto.TopicNotifications, "n")

	assert.Equal(t, 1, c.BroadcastSystem("maintenance at noon"))
	fields := client.Delivered()[0].Fields()
	assert.Equal(t, proto.TypeSystem, fields["type"])
	assert.Equal(t, "maintenance at noon", fields["message"])

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "alice", sessions[0].Identity)
	assert.Equal(t, map[string]string{"n": proto.TopicNotifications}, sessions[0].Subscriptions)
}

func callMCP(t *testing.T, s *MCPServer, request string) string {
	t.Helper()
	response := s.Server.HandleMessage(context.Background(), json.RawMessage(request))
	raw, err := json.Marshal(response)
	require.NoError(t, err)
	return string(raw)
}

func TestCoordinator_MCPTools(t *testing.T) {
	mcpServer := NewMCPServer("test", "0.0.0")
	c := NewCoordinator(NewClientRegistry(), NewBroker(), mcpServer)
	assert.Same(t, mcpServer, c.MCPServer)

	client := NewMockClient("alice")
	require.NoError(t, c.RegisterClient(client))
	subscribe(t, c, client, proto.TopicNotifications, "n")

	listed := callMCP(t, mcpServer, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Contains(t, listed, "list_sessions")
	assert.Contains(t, listed, "broadcast_system")

	sessions := callMCP(t, mcpServer, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_sessions","arguments":{}}}`)
	assert.Contains(t, sessions, "alice")

	broadcast := callMCP(t, mcpServer, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"broadcast_system","arguments":{"message":"restarting"}}}`)
	assert.Contains(t, broadcast, "delivered to 1 subscribers")
	require.Len(t, client.Delivered(), 1)
	assert.Equal(t, "restarting", client.Delivered()[0].Fields()["message"])
}
