package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPort           = 4455
	defaultConnectTimeout = 30 * time.Second
	defaultEventBacklog   = 100
)

// Config is the connection surface of the engine.
type Config struct {
	Host     string
	Port     int
	Password string
	// TLS switches the transport to wss. Only useful when the remote
	// runs on another machine.
	TLS bool
	// ConnectTimeout bounds the whole connect sequence, dial and
	// handshake included.
	ConnectTimeout time.Duration
	// Subscriptions is the initial event bitmask sent in Identify.
	Subscriptions EventSubscription
	// EventBacklog is the per-subscriber buffer limit before old events
	// are dropped with a gap signal.
	EventBacklog int
}

func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           defaultPort,
		ConnectTimeout: defaultConnectTimeout,
		Subscriptions:  SubAllLow,
		EventBacklog:   defaultEventBacklog,
	}
}

type fileConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Password       string `toml:"password"`
	TLS            bool   `toml:"tls"`
	ConnectTimeout string `toml:"connect_timeout"`
	Subscriptions  uint32 `toml:"subscriptions"`
	EventBacklog   int    `toml:"event_backlog"`
}

// LoadConfig reads a TOML config file. Keys absent from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("host") {
		host := strings.TrimSpace(raw.Host)
		if host != "" {
			cfg.Host = host
		}
	}

	if meta.IsDefined("port") {
		if raw.Port <= 0 || raw.Port > 65535 {
			return Config{}, fmt.Errorf("invalid port %d", raw.Port)
		}
		cfg.Port = raw.Port
	}

	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}

	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}

	if meta.IsDefined("subscriptions") {
		cfg.Subscriptions = EventSubscription(raw.Subscriptions)
	}

	if meta.IsDefined("event_backlog") {
		if raw.EventBacklog <= 0 {
			return Config{}, fmt.Errorf("invalid event_backlog %d", raw.EventBacklog)
		}
		cfg.EventBacklog = raw.EventBacklog
	}

	return cfg, nil
}

func (c Config) url() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}
