package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	f, err := ParseInbound([]byte(`{"type":"chat_message","content":"hi","userId":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChatMessage, f.Type)

	var msg ChatMessage
	require.NoError(t, f.Decode(&msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "bob", msg.UserID)
}

func TestParseInbound_RejectsNonObjects(t *testing.T) {
	for _, body := range []string{``, `null`, `[1]`, `"text"`, `{broken`} {
		_, err := ParseInbound([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestInboundFrame_MarshalKeepsBody(t *testing.T) {
	body := `{"type":"system","message":"welcome","extra":1}`
	f, err := ParseInbound([]byte(body))
	require.NoError(t, err)

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))
}

func TestStamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	out, err := Stamp(json.RawMessage(`{"content":"hi"}`), "abc", at)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","id":"abc","timestamp":"2024-05-01T12:00:00Z"}`, string(out))

	out, err = Stamp(json.RawMessage(`{"id":"mine"}`), "abc", at)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"mine","timestamp":"2024-05-01T12:00:00Z"}`, string(out))

	out, err = Stamp(json.RawMessage(`42`), "abc", at)
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload":42,"id":"abc","timestamp":"2024-05-01T12:00:00Z"}`, string(out))

	_, err = Stamp(json.RawMessage(`{oops`), "abc", at)
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestUserQueue(t *testing.T) {
	assert.Equal(t, "/user/alice/queue/messages", UserQueue("alice"))
}

func TestSystemNotice_Text(t *testing.T) {
	assert.Equal(t, "a", SystemNotice{Message: "a", Content: "b"}.Text())
	assert.Equal(t, "b", SystemNotice{Content: "b"}.Text())
}
