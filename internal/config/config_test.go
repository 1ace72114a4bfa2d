package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Server.ListenPort != 5000 {
		t.Errorf("ListenPort = %d, want 5000", cfg.Server.ListenPort)
	}
	if cfg.Server.DisconnectTimeout != 6*time.Second {
		t.Errorf("DisconnectTimeout = %v, want 6s", cfg.Server.DisconnectTimeout)
	}
	if cfg.Client.BroadcastAddress != "255.255.255.255" {
		t.Errorf("BroadcastAddress = %s", cfg.Client.BroadcastAddress)
	}
}

func TestParse(t *testing.T) {
	yaml := `
log:
  level: debug
  format: json
server:
  listen_port: 9000
  monitor_interval: 1s
  disconnect_timeout: 3s
client:
  broadcast_port: 9000
  keepalive_interval: 500ms
  payload:
    hostname: studio-1
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Server.ListenPort != 9000 {
		t.Errorf("ListenPort = %d, want 9000", cfg.Server.ListenPort)
	}
	if cfg.Server.MonitorInterval != time.Second {
		t.Errorf("MonitorInterval = %v, want 1s", cfg.Server.MonitorInterval)
	}
	if cfg.Client.KeepaliveInterval != 500*time.Millisecond {
		t.Errorf("KeepaliveInterval = %v, want 500ms", cfg.Client.KeepaliveInterval)
	}
	if cfg.Client.Payload["hostname"] != "studio-1" {
		t.Errorf("Payload = %v", cfg.Client.Payload)
	}

	// Unset fields keep defaults.
	if cfg.Client.DiscoverInterval != time.Second {
		t.Errorf("DiscoverInterval = %v, want default 1s", cfg.Client.DiscoverInterval)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad yaml", "::not yaml::", "failed to parse"},
		{"bad log level", "log:\n  level: loud", "invalid log.level"},
		{"bad log format", "log:\n  format: xml", "invalid log.format"},
		{"bad listen port", "server:\n  listen_port: 70000", "server.listen_port"},
		{"zero monitor interval", "server:\n  monitor_interval: 0s", "monitor_interval"},
		{"negative timeout", "server:\n  disconnect_timeout: -1s", "disconnect_timeout"},
		{"bad broadcast address", "client:\n  broadcast_address: nowhere", "broadcast_address"},
		{"zero ack timeout", "client:\n  ack_timeout: 0s", "ack_timeout"},
		{"zero broadcast port", "client:\n  broadcast_port: 0", "broadcast_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	os.Setenv("ND_TEST_PORT", "7777")
	defer os.Unsetenv("ND_TEST_PORT")

	cfg, err := Parse([]byte("server:\n  listen_port: ${ND_TEST_PORT}\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.ListenPort != 7777 {
		t.Errorf("ListenPort = %d, want 7777", cfg.Server.ListenPort)
	}
}

func TestParse_EnvDefault(t *testing.T) {
	os.Unsetenv("ND_TEST_MISSING")

	cfg, err := Parse([]byte("server:\n  listen_port: ${ND_TEST_MISSING:-8888}\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.ListenPort != 8888 {
		t.Errorf("ListenPort = %d, want 8888", cfg.Server.ListenPort)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_port: 6000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.ListenPort != 6000 {
		t.Errorf("ListenPort = %d, want 6000", cfg.Server.ListenPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load succeeded for missing file")
	}
}

func TestBroadcastAddr(t *testing.T) {
	cfg := Default()
	addr := cfg.Client.BroadcastAddr()
	if addr.String() != "255.255.255.255:5000" {
		t.Errorf("BroadcastAddr = %s, want 255.255.255.255:5000", addr)
	}
}
