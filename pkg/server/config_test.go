package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gotalk.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
chat_addr: ":9000"
max_clients: 20
handshake_timeout: 5s
redis_addr: "localhost:6379"
`)
	cfg := DefaultConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	want := DefaultConfig()
	want.ChatAddr = ":9000"
	want.MaxClients = 20
	want.HandshakeTimeout = 5 * time.Second
	want.RedisAddr = "localhost:6379"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileEmpty(t *testing.T) {
	path := writeConfig(t, "")
	cfg := DefaultConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile(empty): %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("empty file changed config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "chat_port: 1\n", "chat_port"},
		{"bad clients", "max_clients: 0\n", "max_clients"},
		{"negative size", "max_file_size: -1\n", "max_file_size"},
		{"bad yaml", "chat_addr: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := LoadConfigFile(writeConfig(t, tt.body), &cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadConfigFile error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Fatal("LoadConfigFile(missing) succeeded")
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 1 << 20
	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	if !strings.Contains(string(data), "max_file_size: 1048576") {
		t.Fatalf("YAML output missing max_file_size:\n%s", data)
	}

	got := DefaultConfig()
	got.MaxFileSize = 0
	if err := LoadConfigFile(writeConfig(t, string(data)), &got); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}
