// Package config loads the capture configuration from a YAML file.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults used when no config file is given or a field is unset.
const (
	DefaultBroker      = "ws://127.0.0.1:8765/ws"
	DefaultDialTimeout = 10 * time.Second
)

// Duration decodes YAML scalars like "10s" through time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	// Broker is the websocket URL of the pub/sub service.
	Broker string `yaml:"broker"`
	// DialTimeout bounds connection setup, not capture itself.
	DialTimeout Duration `yaml:"dial_timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Broker:      DefaultBroker,
		DialTimeout: Duration(DefaultDialTimeout),
		LogLevel:    "info",
	}
}

// Load reads the config at path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.DialTimeout <= 0 {
		return nil, errors.Errorf("config %s: dial_timeout must be positive", path)
	}
	return cfg, nil
}

// Level parses LogLevel, defaulting to info for unknown values.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
