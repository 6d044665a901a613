// Package config loads countersync client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported stream transports.
const (
	TransportGRPC      = "grpc"
	TransportWebSocket = "websocket"
)

// Config holds client settings. Command-line flags override these values.
type Config struct {
	Addr           string        `env:"COUNTERSYNC_ADDR"            envDefault:"localhost:50051"`
	Transport      string        `env:"COUNTERSYNC_TRANSPORT"       envDefault:"grpc"`
	WebSocketURL   string        `env:"COUNTERSYNC_WS_URL"          envDefault:"ws://localhost:8080/sync"`
	UserID         string        `env:"COUNTERSYNC_USER_ID"         envDefault:"user1"`
	DeviceID       string        `env:"COUNTERSYNC_DEVICE_ID"       envDefault:"device1"`
	JournalPath    string        `env:"COUNTERSYNC_JOURNAL"`
	PendingTimeout time.Duration `env:"COUNTERSYNC_PENDING_TIMEOUT" envDefault:"30s"`
	DialTimeout    time.Duration `env:"COUNTERSYNC_DIAL_TIMEOUT"    envDefault:"5s"`
	ReconnectDelay time.Duration `env:"COUNTERSYNC_RECONNECT_DELAY" envDefault:"1s"`
}

// Load reads the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads settings from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportGRPC:
		if strings.TrimSpace(c.Addr) == "" {
			errs = append(errs, errors.New("grpc transport requires an address"))
		}
	case TransportWebSocket:
		if strings.TrimSpace(c.WebSocketURL) == "" {
			errs = append(errs, errors.New("websocket transport requires a URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportGRPC, TransportWebSocket))
	}

	if strings.TrimSpace(c.UserID) == "" {
		errs = append(errs, errors.New("user id is required"))
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("device id is required"))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"pending timeout", c.PendingTimeout},
		{"dial timeout", c.DialTimeout},
		{"reconnect delay", c.ReconnectDelay},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
