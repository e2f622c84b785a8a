package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Inbound frame types, carried in the "type" field of every JSON body.
const (
	TypeChatMessage  = "chat_message"
	TypeTypingStatus = "typing_status"
	TypeUserJoin     = "user_join"
	TypeUserLeave    = "user_leave"
	TypeSystem       = "system"
	TypeError        = "error"

	// Outbound only.
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
)

// Topics the client subscribes to.
const (
	TopicMessages      = "/topic/messages"
	TopicNotifications = "/topic/notifications"
)

// Application destinations the client publishes to.
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestTyping      = "/app/chat.typing"
	DestJoinRoom    = "/app/chat.joinRoom"
	DestLeaveRoom   = "/app/chat.leaveRoom"
)

const (
	// AppPrefix marks destinations handled by the broker rather than fanned out directly.
	AppPrefix = "/app/"
	// UserPrefix marks per-identity destinations.
	UserPrefix = "/user/"
)

// UserQueue returns the private message queue for an identity.
func UserQueue(identity string) string {
	return UserPrefix + identity + "/queue/messages"
}

var ErrNotObject = errors.New("proto: body is not a JSON object")

// InboundFrame is one decoded JSON body received from a subscription.
// Raw keeps the complete body so listeners can decode type-specific fields.
type InboundFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (f *InboundFrame) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	f.Type = head.Type
	f.Raw = append(f.Raw[:0], data...)
	return nil
}

func (f InboundFrame) MarshalJSON() ([]byte, error) {
	if len(f.Raw) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{f.Type})
	}
	return f.Raw, nil
}

// Decode unmarshals the full body into v.
func (f *InboundFrame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// ParseInbound decodes a frame body. Only JSON objects are accepted.
func ParseInbound(body []byte) (*InboundFrame, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var f InboundFrame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// OutboundMessage is a message waiting in the client's outbound queue.
type OutboundMessage struct {
	ID          string          `json:"id"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

type ChatMessage struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	UserID      string `json:"userId,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Model       string `json:"model,omitempty"`
}

type TypingStatus struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
	UserID   string `json:"userId,omitempty"`
}

// RoomEvent covers join_room/leave_room requests and user_join/user_leave notifications.
type RoomEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// SystemNotice is a broker-originated system or error body.
type SystemNotice struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content,omitempty"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Text returns whichever of Message or Content is set.
func (n SystemNotice) Text() string {
	if n.Message != "" {
		return n.Message
	}
	return n.Content
}

// Stamp adds an "id" and "timestamp" to a JSON body unless the body already
// carries them. Non-object bodies are wrapped as {"payload": body}.
func Stamp(body json.RawMessage, id string, at time.Time) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if !json.Valid(body) {
			return nil, ErrNotObject
		}
		fields = map[string]json.RawMessage{"payload": body}
	}
	if _, ok := fields["id"]; !ok {
		raw, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		fields["id"] = raw
	}
	if _, ok := fields["timestamp"]; !ok {
		raw, err := json.Marshal(at.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		fields["timestamp"] = raw
	}
	return json.Marshal(fields)
}
