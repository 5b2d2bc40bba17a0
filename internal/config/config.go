package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every client-side setting. Everything comes from the
// environment so the CLI behaves the same in dev shells and on devices.
type Config struct {
	APIBaseURL  string        `env:"FAMLINK_API_URL" envDefault:"http://localhost:8080"`
	SocketURL   string        `env:"FAMLINK_WS_URL" envDefault:"ws://localhost:8080/ws"`
	DataDir     string        `env:"FAMLINK_DATA_DIR"`
	LogLevel    string        `env:"FAMLINK_LOG_LEVEL" envDefault:"info"`
	HTTPTimeout time.Duration `env:"FAMLINK_HTTP_TIMEOUT" envDefault:"30s"`
}

// FromEnv loads configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".famlink")
	}
	return cfg, nil
}
