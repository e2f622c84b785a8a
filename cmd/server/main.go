package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/gochat/server"
	"github.com/spf13/pflag"
)

func setupLogger(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})
	slog.SetDefault(slog.New(handler))
	return nil
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("gochat-server", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.Path, "path", cfg.Path, "WebSocket endpoint path")
	flags.StringVar(&cfg.Name, "name", cfg.Name, "broker name used for mDNS")
	flags.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "heartbeat interval offered to clients (0 disables)")
	flags.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "maximum concurrent sessions")
	flags.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "advertise the broker over mDNS")
	flags.BoolVar(&cfg.MCP, "mcp", cfg.MCP, "serve MCP tools over stdio")
	logLevel := flags.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	// stdout carries the MCP protocol when enabled.
	var logOut io.Writer = os.Stdout
	if cfg.MCP {
		logOut = os.Stderr
	}
	if err := setupLogger(logOut, *logLevel); err != nil {
		return err
	}

	opts := server.ChatServerOptions{Config: cfg}
	if cfg.MCP {
		opts.MCPServer = server.NewMCPServer("gochat broker", "1.0.0")
	}
	chatServer := server.NewChatServer(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return chatServer.Start(ctx)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Error running chat broker", "error", err.Error())
		os.Exit(1)
	}
}
