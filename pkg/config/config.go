// Package config loads the configuration of the spanctl tool.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the spanctl configuration.
type Config struct {
	// BindAddr and BindPort configure the listen command. An empty
	// BindAddr binds every interface; port 0 picks an ephemeral port.
	BindAddr string `yaml:"bind_addr"`
	BindPort int    `yaml:"bind_port"`

	// AdvertiseAddr is the host published in the listener's address.
	AdvertiseAddr string `yaml:"advertise_addr"`

	// MaxFrameBytes caps frame payloads in both directions. Zero keeps
	// the library default.
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultPath returns the default config file path: ~/.spanwire/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".spanwire", "config.yaml")
	}
	return filepath.Join(home, ".spanwire", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns a default Config with no error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level parses LogLevel, falling back to info on anything unrecognized.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
