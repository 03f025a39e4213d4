// Package config loads the optional botstream configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultRequestTimeout bounds SendRequest when no timeout is configured.
const DefaultRequestTimeout = 30 * time.Second

// Config represents the optional botstream configuration file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig holds defaults for `botstream serve`.
type ServerConfig struct {
	Listen        *string `toml:"listen"`
	Path          *string `toml:"path"`
	Pipe          *string `toml:"pipe"`
	MetricsListen *string `toml:"metrics_listen"`
}

// SessionConfig holds per-connection protocol settings.
type SessionConfig struct {
	RequestTimeout *string `toml:"request_timeout"`
	Compress       *bool   `toml:"compress"`
	SendLimit      *string `toml:"send_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// Timeout returns the configured request timeout, or DefaultRequestTimeout.
func (c SessionConfig) Timeout() (time.Duration, error) {
	if c.RequestTimeout == nil {
		return DefaultRequestTimeout, nil
	}
	d, err := time.ParseDuration(*c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("session.request_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("session.request_timeout: negative duration %s", d)
	}
	return d, nil
}

// SendLimitBytes returns the outbound bandwidth cap in bytes per second, or 0
// when unlimited.
func (c SessionConfig) SendLimitBytes() (int64, error) {
	if c.SendLimit == nil || *c.SendLimit == "" {
		return 0, nil
	}
	n, err := ParseSize(*c.SendLimit)
	if err != nil {
		return 0, fmt.Errorf("session.send_limit: %w", err)
	}
	return n, nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Level == nil {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(*c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "botstream", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads the config file at path. Unlike Load, a missing file is an
// error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
