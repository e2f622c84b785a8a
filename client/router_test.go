package client

import (
	"errors"
	"testing"

	"github.com/mbocsi/gochat/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_RoutesByType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want EventName
	}{
		{"chat message", `{"type":"chat_message","content":"hi"}`, EventMessage},
		{"system", `{"type":"system","message":"welcome"}`, EventMessage},
		{"typing", `{"type":"typing_status","isTyping":true}`, EventTyping},
		{"join", `{"type":"user_join","roomId":"r"}`, EventUserJoin},
		{"leave", `{"type":"user_leave","roomId":"r"}`, EventUserLeave},
		{"error", `{"type":"error","content":"bad"}`, EventError},
		{"unknown", `{"type":"something_else"}`, EventMessage},
		{"missing type", `{"content":"x"}`, EventMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(quietLogger)
			r := NewRouter(d, quietLogger)
			var got []Event
			for _, name := range []EventName{EventMessage, EventTyping, EventUserJoin, EventUserLeave, EventError} {
				d.On(name, func(ev Event) { got = append(got, ev) })
			}

			r.Route([]byte(tt.body))
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Name)
			assert.JSONEq(t, tt.body, string(got[0].Frame.Raw))
		})
	}
}

func TestRouter_ErrorFrameCarriesServerError(t *testing.T) {
	d := NewDispatcher(quietLogger)
	r := NewRouter(d, quietLogger)
	var got Event
	d.On(EventError, func(ev Event) { got = ev })

	r.Route([]byte(`{"type":"error","content":"Failed to send message","userId":"system"}`))

	var serverErr *ServerError
	require.True(t, errors.As(got.Err, &serverErr))
	assert.Equal(t, "Failed to send message", serverErr.Message)
	assert.Equal(t, "system", serverErr.UserID)
}

func TestRouter_DropsMalformedFrames(t *testing.T) {
	d := NewDispatcher(quietLogger)
	r := NewRouter(d, quietLogger)
	calls := 0
	for _, name := range []EventName{EventMessage, EventError} {
		d.On(name, func(Event) { calls++ })
	}

	r.Route([]byte(`not json`))
	r.Route([]byte(`[1,2]`))
	r.Route(nil)
	assert.Zero(t, calls)
}

func TestRouter_TypingScenario(t *testing.T) {
	d := NewDispatcher(quietLogger)
	r := NewRouter(d, quietLogger)
	var typing []proto.TypingStatus
	d.On(EventTyping, func(ev Event) {
		var st proto.TypingStatus
		require.NoError(t, ev.Frame.Decode(&st))
		typing = append(typing, st)
	})

	r.Route([]byte(`{"type":"typing_status","isTyping":true,"userId":"bob"}`))
	r.Route([]byte(`{"type":"typing_status","isTyping":false,"userId":"bob"}`))

	require.Len(t, typing, 2)
	assert.True(t, typing[0].IsTyping)
	assert.False(t, typing[1].IsTyping)
	assert.Equal(t, "bob", typing[1].UserID)
}

func TestEventFor(t *testing.T) {
	name, known := EventFor(proto.TypeUserLeave)
	assert.True(t, known)
	assert.Equal(t, EventUserLeave, name)

	name, known = EventFor("mystery")
	assert.False(t, known)
	assert.Equal(t, EventMessage, name)
}
