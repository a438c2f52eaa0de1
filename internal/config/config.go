// Package config handles reading leo.yaml and the LEO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor LEO_CONFIG is given.
const DefaultPath = "leo.yaml"

// Config is the top-level structure of leo.yaml.
type Config struct {
	WorkerURL  string           `yaml:"worker_url"`
	APIURL     string           `yaml:"api_url"`
	UserID     string           `yaml:"user_id"`
	History    HistoryConfig    `yaml:"history"`
	Transport  TransportConfig  `yaml:"transport"`
	Generation GenerationConfig `yaml:"generation"`
	Log        LogConfig        `yaml:"log"`
}

// HistoryConfig selects the history store. An empty path keeps history in memory.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

type TransportConfig struct {
	PingInterval time.Duration   `yaml:"ping_interval"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls re-dialing after an unexpected disconnect.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries uint64        `yaml:"max_retries"` // 0 = until stopped
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// GenerationConfig holds defaults for new generations.
type GenerationConfig struct {
	Mode           string `yaml:"mode"`
	MaxIterations  int    `yaml:"max_iterations"`
	GenerationType string `yaml:"generation_type"`
	Subagents      bool   `yaml:"subagents"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		WorkerURL: "ws://localhost:8080/ws",
		APIURL:    "http://localhost:8080/api",
		History: HistoryConfig{
			Capacity: 1000,
		},
		Transport: TransportConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				Enabled:   true,
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  30 * time.Second,
			},
		},
		Generation: GenerationConfig{
			Mode:           "autonomous",
			MaxIterations:  10,
			GenerationType: "new",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path falls back to LEO_CONFIG and then DefaultPath. A missing file
// is not an error; malformed YAML is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("LEO_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LEO_WORKER_URL"); v != "" {
		c.WorkerURL = v
	}
	if v := os.Getenv("LEO_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("LEO_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("LEO_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("LEO_HISTORY_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEO_HISTORY_CAPACITY: %w", err)
		}
		c.History.Capacity = n
	}
	if v := os.Getenv("LEO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.WorkerURL, "ws://") && !strings.HasPrefix(c.WorkerURL, "wss://") {
		return fmt.Errorf("worker_url must be a ws:// or wss:// URL, got %q", c.WorkerURL)
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url must be an http:// or https:// URL, got %q", c.APIURL)
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity)
	}
	if c.Generation.MaxIterations <= 0 {
		return fmt.Errorf("generation.max_iterations must be positive, got %d", c.Generation.MaxIterations)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Write stores cfg as YAML at path.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
