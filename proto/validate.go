package proto

import (
	"fmt"
	"strings"
)

// ValidationError reports a missing or malformed field in a message body.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("proto: %s %s", e.Field, e.Reason)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

var validMessageTypes = map[string]bool{
	"text":  true,
	"voice": true,
	"image": true,
}

func (m *ChatMessage) Validate() error {
	if err := required("userId", m.UserID); err != nil {
		return err
	}
	if err := required("content", m.Content); err != nil {
		return err
	}
	if m.MessageType != "" && !validMessageTypes[m.MessageType] {
		return &ValidationError{Field: "messageType", Reason: fmt.Sprintf("has unsupported value %q", m.MessageType)}
	}
	return nil
}

func (t *TypingStatus) Validate() error {
	return required("userId", t.UserID)
}

func (r *RoomEvent) Validate() error {
	return required("roomId", r.RoomID)
}
