package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/gochat/proto"
)

// Coordinator ties sessions to the broker and runs the application
// handlers behind /app destinations.
type Coordinator struct {
	Registery *ClientRegistry
	Broker    *Broker
	MCPServer *MCPServer
	now       func() time.Time
}

func NewCoordinator(registery *ClientRegistry, broker *Broker, mcpServer *MCPServer) *Coordinator {
	c := &Coordinator{Registery: registery, Broker: broker, MCPServer: mcpServer, now: time.Now}
	if mcpServer != nil {
		c.registerTools(mcpServer)
	}
	return c
}

func (c *Coordinator) registerTools(mcpServer *MCPServer) {
	listSessions := mcp.NewTool("list_sessions", mcp.WithDescription("Get a list of the chat sessions connected to this broker"))
	mcpServer.AddTool(listSessions, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.MarshalIndent(c.Sessions(), "", "  ")
		if err != nil {
			return nil, err
		}
		return textResult(string(jsonBytes)), nil
	})

	broadcast := mcp.NewTool("broadcast_system",
		mcp.WithDescription("Broadcast a system notice to every chat session"),
		mcp.WithString("message", mcp.Required(), mcp.Description("Text of the notice")),
	)
	mcpServer.AddTool(broadcast, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message := request.GetString("message", "")
		if strings.TrimSpace(message) == "" {
			return nil, fmt.Errorf("message is required")
		}
		sent := c.BroadcastSystem(message)
		return textResult(fmt.Sprintf("delivered to %d subscribers", sent)), nil
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		}}
}

func (c *Coordinator) RegisterClient(client Client) error {
	c.Registery.Store(client)
	slog.Info("Registered client", "id", client.Meta().Id, "identity", client.Meta().Identity)
	return nil
}

func (c *Coordinator) UnregisterClient(client Client) {
	c.Broker.UnsubscribeAll(client)
	c.Registery.Delete(client.Meta().Id)
	slog.Info("Unregistered client", "id", client.Meta().Id)
}

// Handle processes one client frame. A returned error ends the session with
// an ERROR frame. CONNECT and DISCONNECT are handled by the transport.
func (c *Coordinator) Handle(client Client, f *frame.Frame) error {
	client.Meta().Touch()

	switch f.Command {
	case frame.SUBSCRIBE:
		return c.handleSubscribe(client, f)

	case frame.UNSUBSCRIBE:
		id := f.Header.Get(frame.Id)
		if id == "" {
			id = f.Header.Get(frame.Destination)
		}
		if id == "" {
			return &ProtocolError{Command: f.Command, Reason: "missing id header"}
		}
		c.Broker.Unsubscribe(id, client)

	case frame.SEND:
		return c.handleSend(client, f)

	case frame.ACK, frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT:
		slog.Debug("Ignoring frame", "command", f.Command, "clientId", client.Meta().Id)

	default:
		return &ProtocolError{Command: f.Command, Reason: "unsupported command"}
	}
	return nil
}

func (c *Coordinator) handleSubscribe(client Client, f *frame.Frame) error {
	destination := f.Header.Get(frame.Destination)
	if destination == "" {
		return &ProtocolError{Command: f.Command, Reason: "missing destination header"}
	}
	id := f.Header.Get(frame.Id)
	if id == "" {
		id = destination
	}
	if err := c.Broker.Subscribe(destination, id, client); err != nil {
		return err
	}

	identity := client.Meta().Identity
	if identity != "" && destination == proto.UserQueue(identity) {
		c.welcome(client, destination, id)
	}
	return nil
}

func (c *Coordinator) handleSend(client Client, f *frame.Frame) error {
	destination := f.Header.Get(frame.Destination)
	switch {
	case destination == "":
		return &ProtocolError{Command: f.Command, Reason: "missing destination header"}
	case strings.HasPrefix(destination, proto.AppPrefix):
		c.HandleApp(client, destination, f.Body)
	case strings.HasPrefix(destination, "/topic/"), strings.HasPrefix(destination, proto.UserPrefix):
		c.Broker.Publish(destination, f.Body)
	default:
		return &ProtocolError{Command: f.Command, Reason: "unknown destination " + destination}
	}
	return nil
}

func (c *Coordinator) welcome(client Client, destination, id string) {
	meta := client.Meta()
	notice := proto.SystemNotice{
		Type:      proto.TypeSystem,
		Message:   "Welcome to the chat, " + meta.Identity,
		UserID:    "system",
		SessionID: meta.Id,
		Timestamp: c.timestamp(),
	}
	body, err := json.Marshal(notice)
	if err != nil {
		slog.Error("Failed to encode welcome", "error", err.Error())
		return
	}
	if err := client.Deliver(destination, id, body); err != nil {
		slog.Warn("Failed to deliver welcome", "clientId", meta.Id, "error", err.Error())
	}
}

// BroadcastSystem publishes a system notice on the notification topic.
func (c *Coordinator) BroadcastSystem(message string) int {
	return c.publish(proto.TopicNotifications, proto.SystemNotice{
		Type:      proto.TypeSystem,
		Message:   message,
		UserID:    "system",
		Timestamp: c.timestamp(),
	})
}

// SessionInfo is the JSON view of a session.
type SessionInfo struct {
	Id            string            `json:"id"`
	Identity      string            `json:"identity"`
	RemoteAddr    string            `json:"remoteAddr"`
	Version       string            `json:"version"`
	ConnectedAt   time.Time         `json:"connectedAt"`
	LastSeen      time.Time         `json:"lastSeen"`
	Subscriptions map[string]string `json:"subscriptions"`
}

func (c *Coordinator) Sessions() []SessionInfo {
	clients := c.Registery.List()
	res := make([]SessionInfo, 0, len(clients))
	for _, client := range clients {
		meta := client.Meta()
		meta.Mu.RLock()
		info := SessionInfo{
			Id:          meta.Id,
			Identity:    meta.Identity,
			RemoteAddr:  meta.RemoteAddr,
			Version:     meta.Version,
			ConnectedAt: meta.ConnectedAt,
			LastSeen:    meta.LastSeen,
		}
		meta.Mu.RUnlock()
		info.Subscriptions = meta.Subscriptions()
		res = append(res, info)
	}
	return res
}

func (c *Coordinator) publish(destination string, v any) int {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode message", "destination", destination, "error", err.Error())
		return 0
	}
	return c.Broker.Publish(destination, body)
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}
