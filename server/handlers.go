package server

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mbocsi/gochat/proto"
)

// HandleApp runs the application handler for an /app destination.
func (c *Coordinator) HandleApp(client Client, destination string, body []byte) {
	switch destination {
	case proto.DestSendMessage:
		c.handleChatMessage(body)

	case proto.DestTyping:
		c.handleTyping(body)

	case proto.DestJoinRoom:
		c.handleRoom(body, proto.TypeUserJoin, "joined")

	case proto.DestLeaveRoom:
		c.handleRoom(body, proto.TypeUserLeave, "left")

	default:
		slog.Warn("Unhandled application destination", "destination", destination, "sender", client.Meta().Id)
	}
}

// ---------- chat ---------- //

func (c *Coordinator) handleChatMessage(body []byte) {
	var msg proto.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.reportError("Failed to send message: invalid JSON")
		return
	}
	if err := msg.Validate(); err != nil {
		c.reportError("Failed to send message: " + err.Error())
		return
	}

	msg.Type = proto.TypeChatMessage
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if msg.Timestamp == "" {
		msg.Timestamp = c.timestamp()
	}
	sent := c.publish(proto.TopicMessages, msg)

	slog.Debug("Chat message forwarded", "userId", msg.UserID, "subscribers", sent, "bytes", len(msg.Content))
}

func (c *Coordinator) handleTyping(body []byte) {
	var status proto.TypingStatus
	if err := json.Unmarshal(body, &status); err != nil {
		slog.Warn("Invalid typing status", "error", err.Error())
		return
	}
	if err := status.Validate(); err != nil {
		slog.Warn("Invalid typing status", "error", err.Error())
		return
	}
	status.Type = proto.TypeTypingStatus
	c.publish(proto.TopicMessages, status)
}

// ---------- rooms ---------- //

func (c *Coordinator) handleRoom(body []byte, eventType, verb string) {
	var ev proto.RoomEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.reportError("Failed to process room request: invalid JSON")
		return
	}
	if err := ev.Validate(); err != nil {
		c.reportError("Failed to process room request: " + err.Error())
		return
	}

	user := ev.UserID
	if user == "" {
		user = "anonymous"
	}
	notice := proto.RoomEvent{
		Type:    eventType,
		RoomID:  ev.RoomID,
		UserID:  ev.UserID,
		Message: fmt.Sprintf("%s %s room %s", user, verb, ev.RoomID),
	}
	c.publish(proto.TopicNotifications, notice)
}

func (c *Coordinator) reportError(content string) {
	slog.Warn("Rejected application message", "reason", content)
	c.publish(proto.TopicMessages, proto.SystemNotice{
		Type:      proto.TypeError,
		Content:   content,
		UserID:    "system",
		Timestamp: c.timestamp(),
	})
}
