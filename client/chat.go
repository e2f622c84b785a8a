package client

import "github.com/mbocsi/gochat/proto"

// SendChatMessage publishes a chat message. An empty userID falls back to
// the identity passed to Connect and an empty messageType to "text".
func (c *Client) SendChatMessage(content, userID, messageType string) (bool, error) {
	if messageType == "" {
		messageType = "text"
	}
	return c.Send(proto.DestSendMessage, proto.ChatMessage{
		Type:        proto.TypeChatMessage,
		Content:     content,
		UserID:      c.identityOr(userID),
		MessageType: messageType,
	})
}

func (c *Client) SendTypingStatus(isTyping bool, userID string) (bool, error) {
	return c.Send(proto.DestTyping, proto.TypingStatus{
		Type:     proto.TypeTypingStatus,
		IsTyping: isTyping,
		UserID:   c.identityOr(userID),
	})
}

func (c *Client) JoinRoom(roomID, userID string) (bool, error) {
	return c.Send(proto.DestJoinRoom, proto.RoomEvent{
		Type:   proto.TypeJoinRoom,
		RoomID: roomID,
		UserID: c.identityOr(userID),
	})
}

func (c *Client) LeaveRoom(roomID, userID string) (bool, error) {
	return c.Send(proto.DestLeaveRoom, proto.RoomEvent{
		Type:   proto.TypeLeaveRoom,
		RoomID: roomID,
		UserID: c.identityOr(userID),
	})
}

func (c *Client) identityOr(userID string) string {
	if userID != "" {
		return userID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Identity
}
