package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string        `env:"GOCHAT_ADDR"         envDefault:":8080"`
	Path        string        `env:"GOCHAT_WS_PATH"      envDefault:"/ws"`
	Name        string        `env:"GOCHAT_NAME"         envDefault:"gochat"`
	Heartbeat   time.Duration `env:"GOCHAT_HEARTBEAT"    envDefault:"4s"`
	MaxSessions int           `env:"GOCHAT_MAX_SESSIONS" envDefault:"64"`
	MDNS        bool          `env:"GOCHAT_MDNS"`
	MCP         bool          `env:"GOCHAT_MCP"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
