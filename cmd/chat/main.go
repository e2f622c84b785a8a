package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbocsi/gochat/client"
	"github.com/mbocsi/gochat/proto"
	"github.com/spf13/pflag"
)

const help = `commands:
  <text>            send a chat message
  /typing on|off    send typing status
  /join <room>      join a room
  /leave <room>     leave a room
  /status           show connection status
  /disconnect       close the connection
  /connect          reconnect
  /quit             exit`

func run() error {
	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("gochat", pflag.ContinueOnError)
	flags.StringVar(&cfg.URL, "url", cfg.URL, "broker WebSocket URL")
	flags.StringVar(&cfg.Identity, "user", cfg.Identity, "user id")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "auth token")
	discover := flags.Bool("discover", false, "find the broker with mDNS")
	logLevel := flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if *discover {
		broker, err := client.DiscoverBroker(5 * time.Second)
		if err != nil {
			return err
		}
		cfg.URL = broker.URL()
	}

	c, err := client.NewFromConfig(cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	printEvents(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := cfg.Credentials()
	if _, err := c.Connect(ctx, creds.Identity, creds.Token); err != nil {
		fmt.Printf("! connect failed: %v (retrying in background)\n", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println(help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, c, creds, strings.TrimSpace(line))
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, creds client.Credentials, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		sent, err := c.SendChatMessage(line, creds.Identity, "text")
		if err == nil && !sent {
			fmt.Printf("(queued, %d pending)\n", len(c.Pending()))
		}
		return false, err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/typing":
		_, err := c.SendTypingStatus(arg != "off", creds.Identity)
		return false, err
	case "/join":
		if arg == "" {
			return false, errors.New("usage: /join <room>")
		}
		_, err := c.JoinRoom(arg, creds.Identity)
		return false, err
	case "/leave":
		if arg == "" {
			return false, errors.New("usage: /leave <room>")
		}
		_, err := c.LeaveRoom(arg, creds.Identity)
		return false, err
	case "/status":
		st := c.Status()
		fmt.Printf("state=%s connected=%t attempts=%d pending=%d", st.State, st.IsConnected, st.ReconnectAttempts, len(c.Pending()))
		if st.LastError != nil {
			fmt.Printf(" last_error=%q", st.LastError.Error())
		}
		fmt.Println()
		return false, nil
	case "/disconnect":
		c.Disconnect()
		return false, nil
	case "/connect":
		_, err := c.Connect(ctx, creds.Identity, creds.Token)
		return false, err
	case "/quit":
		return true, nil
	default:
		fmt.Println(help)
		return false, nil
	}
}

func printEvents(c *client.Client) {
	c.On(client.EventConnect, func(ev client.Event) {
		fmt.Printf("* connected (session %s)\n", ev.Session.ID)
	})
	c.On(client.EventDisconnect, func(ev client.Event) {
		if ev.Err != nil {
			fmt.Printf("* connection lost: %v\n", ev.Err)
			return
		}
		fmt.Println("* disconnected")
	})
	c.On(client.EventError, func(ev client.Event) {
		fmt.Printf("! %v\n", ev.Err)
	})
	c.On(client.EventMessage, func(ev client.Event) {
		switch ev.Frame.Type {
		case proto.TypeChatMessage:
			var msg proto.ChatMessage
			if err := ev.Frame.Decode(&msg); err == nil {
				fmt.Printf("<%s> %s\n", msg.UserID, msg.Content)
				return
			}
		case proto.TypeSystem:
			var notice proto.SystemNotice
			if err := ev.Frame.Decode(&notice); err == nil {
				fmt.Printf("* %s\n", notice.Text())
				return
			}
		}
		fmt.Printf("? %s\n", ev.Frame.Raw)
	})
	c.On(client.EventTyping, func(ev client.Event) {
		var status proto.TypingStatus
		if err := ev.Frame.Decode(&status); err == nil && status.IsTyping {
			fmt.Printf("* %s is typing...\n", status.UserID)
		}
	})
	roomEvent := func(ev client.Event) {
		var room proto.RoomEvent
		if err := ev.Frame.Decode(&room); err == nil {
			fmt.Printf("* %s\n", room.Message)
		}
	}
	c.On(client.EventUserJoin, roomEvent)
	c.On(client.EventUserLeave, roomEvent)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Error running chat client", "error", err.Error())
		os.Exit(1)
	}
}
