// Package config loads client settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the chat client core. Defaults match the
// connection policy the UI surfaces ship with: five reconnect attempts one
// second apart, and a one second typing quiet window.
type Config struct {
	GatewayURL string `env:"GATEWAY_URL" envDefault:"ws://localhost:3000/ws"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:3000/v1"`
	AuthToken  string `env:"AUTH_TOKEN"`

	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"1s"`
	TypingQuiet       time.Duration `env:"TYPING_QUIET" envDefault:"1s"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`

	// OrderID selects the order chat surface the CLI opens on startup.
	OrderID string `env:"ORDER_ID"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
