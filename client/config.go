package client

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the client configuration. Zero values fall back to the defaults
// in the envDefault tags when loaded through LoadConfig.
type Config struct {
	URL               string        `env:"GOCHAT_URL"                envDefault:"ws://localhost:8080/ws"`
	Identity          string        `env:"GOCHAT_USER_ID"`
	Token             string        `env:"GOCHAT_TOKEN"`
	ConnectTimeout    time.Duration `env:"GOCHAT_CONNECT_TIMEOUT"    envDefault:"10s"`
	HeartbeatSend     time.Duration `env:"GOCHAT_HEARTBEAT_OUTGOING" envDefault:"4s"`
	HeartbeatReceive  time.Duration `env:"GOCHAT_HEARTBEAT_INCOMING" envDefault:"4s"`
	ReconnectDelay    time.Duration `env:"GOCHAT_RECONNECT_DELAY"    envDefault:"3s"`
	ReconnectMaxDelay time.Duration `env:"GOCHAT_RECONNECT_MAX_DELAY"`
	ReconnectFactor   float64       `env:"GOCHAT_RECONNECT_FACTOR"   envDefault:"1"`
	ReconnectJitter   float64       `env:"GOCHAT_RECONNECT_JITTER"`
	MaxReconnects     int           `env:"GOCHAT_RECONNECT_MAX_ATTEMPTS"`
	AutoReconnect     bool          `env:"GOCHAT_AUTO_RECONNECT"     envDefault:"true"`
	QueueLimit        int           `env:"GOCHAT_QUEUE_LIMIT"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Backoff builds the reconnect policy described by the config.
func (c Config) Backoff() Backoff {
	return Backoff{
		Delay:       c.ReconnectDelay,
		MaxDelay:    c.ReconnectMaxDelay,
		Factor:      c.ReconnectFactor,
		Jitter:      c.ReconnectJitter,
		MaxAttempts: c.MaxReconnects,
		Disabled:    !c.AutoReconnect,
	}
}

// Credentials returns the identity and token from the config.
func (c Config) Credentials() Credentials {
	return Credentials{Identity: c.Identity, Token: c.Token}
}
