package client

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	ChatAddr    string `yaml:"chat_addr"`
	FileAddr    string `yaml:"file_addr"`
	Username    string `yaml:"username,omitempty"`
	DownloadDir string `yaml:"download_dir"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		ChatAddr:    "localhost:12345",
		FileAddr:    "localhost:12346",
		DownloadDir: "downloads",
	}
}

// SettingsPath is the default settings file location.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "gotalk-client.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "gotalk-client.yaml")
}

// LoadSettings loads settings from path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
