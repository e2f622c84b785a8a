package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ChatServerOptions struct {
	Config    Config
	MCPServer *MCPServer      // Optional MCP server to run alongside
	Broker    *Broker         // Optional (defaults to new Broker if nil)
	Registry  *ClientRegistry // Optional (defaults to new Registry if nil)
}

// ChatServer is the STOMP broker the chat client talks to, plus a small
// JSON status API.
type ChatServer struct {
	cfg         Config
	coordinator *Coordinator
	transport   *WSTransport
	router      chi.Router
	http        *http.Server
	advertiser  *Advertiser
	started     time.Time
}

func NewChatServer(opts ChatServerOptions) *ChatServer {
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Registry == nil {
		opts.Registry = NewClientRegistry()
	}
	cfg := opts.Config
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Name == "" {
		cfg.Name = "gochat"
	}

	coordinator := NewCoordinator(opts.Registry, opts.Broker, opts.MCPServer)

	transport := NewWSTransport(cfg.Path)
	transport.SetName(cfg.Name)
	transport.SetDescription("STOMP over WebSocket chat broker")
	if cfg.Heartbeat > 0 {
		transport.Heartbeat = cfg.Heartbeat
	}
	if cfg.MaxSessions > 0 {
		transport.SetMaxClients(cfg.MaxSessions)
	}
	transport.OnConnect(coordinator.RegisterClient)
	transport.OnDisconnect(coordinator.UnregisterClient)
	transport.OnFrame(coordinator.Handle)

	s := &ChatServer{
		cfg:         cfg,
		coordinator: coordinator,
		transport:   transport,
		started:     time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *ChatServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(s.cfg.Path, s.transport)
	r.Get("/healthz", s.HandleHealth)
	r.Get("/sessions", s.HandleSessions)
	r.Get("/sessions/{id}", s.HandleSessionDetail)
	r.Get("/topics", s.HandleTopics)
	return r
}

func (s *ChatServer) Handler() http.Handler {
	return s.router
}

func (s *ChatServer) Coordinator() *Coordinator {
	return s.coordinator
}

// Start serves until ctx is cancelled, then shuts everything down.
func (s *ChatServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *ChatServer) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.coordinator.MCPServer != nil {
		go func() {
			if err := s.coordinator.MCPServer.Start(); err != nil {
				slog.Error("MCP server stopped", "error", err.Error())
			}
		}()
	}
	if s.cfg.MDNS {
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			adv, err := Advertise(s.cfg.Name, tcpAddr.Port, s.cfg.Path)
			if err != nil {
				slog.Warn("mDNS advertisement disabled", "error", err.Error())
			} else {
				s.advertiser = adv
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting chat broker", "addr", ln.Addr().String(), "path", s.cfg.Path)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.shutdownAux()
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down transports and server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *ChatServer) Shutdown(ctx context.Context) error {
	s.shutdownAux()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *ChatServer) shutdownAux() {
	if s.advertiser != nil {
		if err := s.advertiser.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down mDNS", "error", err.Error())
		}
		s.advertiser = nil
	}
	if err := s.transport.Shutdown(); err != nil {
		slog.Error("There was an error when shutting down transport server", "error", err.Error())
	}
}
