package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/gochat/proto"
)

const (
	connectWait   = 10 * time.Second
	serverVersion = "gochat/1.0"
)

// WSTransport serves STOMP sessions on a WebSocket endpoint. It is mounted
// on the server's router as an http.Handler.
type WSTransport struct {
	Path      string
	Heartbeat time.Duration

	upgrader     websocket.Upgrader
	onFrame      func(Client, *frame.Frame) error
	onConnect    func(Client) error
	onDisconnect func(Client)

	name        string
	description string
	clients     map[string]*WSClient
	cmu         sync.RWMutex

	maxClients int
}

type TransportMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Protocol    string `json:"protocol"`
	Path        string `json:"path"`
	Clients     int    `json:"clients"`
	MaxClients  int    `json:"maxClients"`
}

func NewWSTransport(path string) *WSTransport {
	return &WSTransport{
		Path:       path,
		Heartbeat:  4 * time.Second,
		maxClients: 64,
		clients:    make(map[string]*WSClient),
		upgrader: websocket.Upgrader{
			Subprotocols: proto.Subprotocols,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.onConnect == nil || t.onDisconnect == nil || t.onFrame == nil {
		http.Error(w, "transport is not attached to a coordinator", http.StatusServiceUnavailable)
		return
	}
	if t.maxClients > 0 && t.ClientCount() >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, ErrMaxClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	go t.handleConnection(conn, r.RemoteAddr)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, remoteAddr string) {
	client, receive, err := t.accept(conn, remoteAddr)
	if err != nil {
		slog.Warn("Rejected STOMP session", "addr", remoteAddr, "error", err.Error())
		if client != nil {
			t.sendError(client, err)
			client.close(websocket.ClosePolicyViolation, "")
		} else {
			_ = conn.Close()
		}
		return
	}

	defer func() {
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()

		t.onDisconnect(client)

		client.close(websocket.CloseNormalClosure, "")
		slog.Info("STOMP session closed", "addr", remoteAddr, "id", client.Id)
	}()

	for {
		if receive > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * receive))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				slog.Warn("Client missed heartbeats", "addr", remoteAddr, "id", client.Id)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			return
		}
		if proto.IsHeartbeat(data) {
			client.Touch()
			continue
		}

		f, err := proto.DecodeFrame(data)
		if err != nil {
			slog.Warn("Invalid STOMP frame received", "error", err, "id", client.Id)
			continue
		}
		slog.Debug("STOMP frame received", "command", f.Command, "sender", client.Id, "size", len(f.Body))

		switch f.Command {
		case frame.DISCONNECT:
			t.sendReceipt(client, f)
			return
		case frame.CONNECT, frame.STOMP:
			t.sendError(client, &ProtocolError{Command: f.Command, Reason: "session already connected"})
			return
		}

		if err := t.onFrame(client, f); err != nil {
			t.sendError(client, err)
			return
		}
		t.sendReceipt(client, f)
	}
}

// accept runs the CONNECT handshake, registers the session and starts the
// heartbeat writer. It returns the client and how often the client promised
// to send.
func (t *WSTransport) accept(conn *websocket.Conn, remoteAddr string) (*WSClient, time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(connectWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, 0, fmt.Errorf("read CONNECT: %w", err)
	}
	f, err := proto.DecodeFrame(data)
	if err != nil {
		return nil, 0, err
	}

	identity := connectIdentity(f)
	client := NewWSClient(conn, identity, remoteAddr)
	if f.Command != frame.CONNECT && f.Command != frame.STOMP {
		return client, 0, &ProtocolError{Command: f.Command, Reason: "expected CONNECT"}
	}
	version, ok := negotiateVersion(f.Header.Get(frame.AcceptVersion))
	if !ok {
		return client, 0, &ProtocolError{Command: f.Command, Reason: "supported protocol versions are " + proto.SupportedVersions}
	}
	send, receive, err := proto.NegotiateHeartbeat(t.Heartbeat, t.Heartbeat, f.Header.Get(frame.HeartBeat))
	if err != nil {
		return client, 0, &ProtocolError{Command: f.Command, Reason: err.Error()}
	}
	client.Version = version

	if err := t.onConnect(client); err != nil {
		return client, 0, err
	}

	t.cmu.Lock()
	t.clients[client.Id] = client
	t.cmu.Unlock()

	connected := frame.New(frame.CONNECTED,
		frame.Version, version,
		frame.Session, client.Id,
		frame.Server, serverVersion,
		frame.HeartBeat, proto.FormatHeartbeat(t.Heartbeat, t.Heartbeat),
		"user-name", identity,
	)
	if err := client.writeFrame(connected); err != nil {
		t.cmu.Lock()
		delete(t.clients, client.Id)
		t.cmu.Unlock()
		t.onDisconnect(client)
		return nil, 0, fmt.Errorf("write CONNECTED: %w", err)
	}
	if send > 0 {
		go t.heartbeats(client, send)
	}

	slog.Info("STOMP session established", "addr", remoteAddr, "id", client.Id, "identity", identity, "version", version,
		"heartbeat_send", send, "heartbeat_receive", receive)
	return client, receive, nil
}

func (t *WSTransport) heartbeats(client *WSClient, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !t.isRegistered(client) {
			return
		}
		if err := client.writeFrame(nil); err != nil {
			slog.Debug("Heartbeat writer stopped", "id", client.Id, "error", err)
			return
		}
	}
}

func (t *WSTransport) isRegistered(client *WSClient) bool {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	_, ok := t.clients[client.Id]
	return ok
}

func (t *WSTransport) sendReceipt(client *WSClient, f *frame.Frame) {
	receipt := f.Header.Get(frame.Receipt)
	if receipt == "" {
		return
	}
	if err := client.writeFrame(frame.New(frame.RECEIPT, frame.ReceiptId, receipt)); err != nil {
		slog.Debug("Failed to send receipt", "id", client.Id, "error", err)
	}
}

func (t *WSTransport) sendError(client *WSClient, err error) {
	f := frame.New(frame.ERROR, frame.Message, err.Error())
	f.Body = []byte(err.Error())
	if werr := client.writeFrame(f); werr != nil {
		slog.Debug("Failed to send error frame", "id", client.Id, "error", werr)
	}
}

func connectIdentity(f *frame.Frame) string {
	for _, key := range []string{proto.HeaderUserID, frame.Login} {
		if v := strings.TrimSpace(f.Header.Get(key)); v != "" {
			return v
		}
	}
	return "anonymous"
}

// negotiateVersion picks the highest mutually supported protocol version.
// A missing accept-version header means 1.0.
func negotiateVersion(accept string) (string, bool) {
	if accept == "" {
		return "1.0", true
	}
	best := ""
	for _, v := range strings.Split(accept, ",") {
		switch v = strings.TrimSpace(v); v {
		case "1.0", "1.1", "1.2":
			if v > best {
				best = v
			}
		}
	}
	return best, best != ""
}

// Shutdown closes every open session.
func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down STOMP transport", "path", t.Path)
	t.cmu.RLock()
	clients := make([]*WSClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.cmu.RUnlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	return nil
}

func (t *WSTransport) OnFrame(fn func(Client, *frame.Frame) error) {
	t.onFrame = fn
}

func (t *WSTransport) OnConnect(fn func(Client) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Client)) {
	t.onDisconnect = fn
}

func (t *WSTransport) ClientCount() int {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return len(t.clients)
}

func (t *WSTransport) Meta() TransportMetadata {
	return TransportMetadata{
		Name:        t.name,
		Description: t.description,
		Protocol:    "stomp+websocket",
		Path:        t.Path,
		Clients:     t.ClientCount(),
		MaxClients:  t.maxClients,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}
