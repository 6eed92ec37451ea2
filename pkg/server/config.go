package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration. Every field can be set from a YAML
// file (see LoadConfigFile) and most from command-line flags.
type Config struct {
	ChatAddr  string `yaml:"chat_addr"`  // TCP bind address for chat (e.g. ":12345")
	FileAddr  string `yaml:"file_addr"`  // TCP bind address for file transfers
	AdminAddr string `yaml:"admin_addr"` // HTTP bind address for /metrics, /healthz, /events (empty = disabled)

	StorageDir  string `yaml:"storage_dir"`   // directory holding uploaded files
	DBPath      string `yaml:"db_path"`       // SQLite file index (empty = in-memory index)
	MaxFileSize int64  `yaml:"max_file_size"` // bytes per upload, 0 = unlimited

	MaxClients       int           `yaml:"max_clients"`       // concurrent chat connections, including handshakes
	MaxLineLength    int           `yaml:"max_line_length"`   // bytes per protocol line
	SendQueue        int           `yaml:"send_queue"`        // queued lines per session before it counts as stalled
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // time allowed to send the username or file request line
	IdleTimeout      time.Duration `yaml:"idle_timeout"`      // 0 = no read deadline on active sessions
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // deadline for one line write

	RedisAddr    string `yaml:"redis_addr"`    // publish Outbound events to Redis (empty = disabled)
	RedisChannel string `yaml:"redis_channel"` // pub/sub channel for Outbound events

	MetricsInterval time.Duration `yaml:"metrics_interval"` // periodic metrics log, 0 = disabled
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChatAddr:         ":12345",
		FileAddr:         ":12346",
		AdminAddr:        ":12347",
		StorageDir:       "server_files",
		DBPath:           "gotalk.db",
		MaxClients:       5,
		MaxLineLength:    4096,
		SendQueue:        256,
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		MetricsInterval:  60 * time.Second,
	}
}

// LoadConfigFile reads a YAML config file over cfg. Keys missing from the
// file keep their current values; unknown keys are an error.
func LoadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path) //nolint:gosec // path from operator CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ChatAddr == "" {
		return errors.New("config: chat_addr is required")
	}
	if c.FileAddr == "" {
		return errors.New("config: file_addr is required")
	}
	if c.StorageDir == "" {
		return errors.New("config: storage_dir is required")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("config: max_clients must be positive, got %d", c.MaxClients)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("config: max_file_size must not be negative, got %d", c.MaxFileSize)
	}
	return nil
}

// YAML renders the effective configuration, used by -print-config.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
