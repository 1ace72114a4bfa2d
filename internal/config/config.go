// Package config provides configuration parsing and validation for
// node-discovery.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for both roles. A process
// normally uses only the section matching its role.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig contains rendezvous server settings.
type ServerConfig struct {
	ListenPort        int           `yaml:"listen_port"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	HealthAddress     string        `yaml:"health_address"` // empty disables the HTTP listener
}

// ClientConfig contains client settings.
type ClientConfig struct {
	LocalPort         int            `yaml:"local_port"` // 0 selects an ephemeral port
	BroadcastAddress  string         `yaml:"broadcast_address"`
	BroadcastPort     int            `yaml:"broadcast_port"`
	DiscoverInterval  time.Duration  `yaml:"discover_interval"`
	KeepaliveInterval time.Duration  `yaml:"keepalive_interval"`
	AckTimeout        time.Duration  `yaml:"ack_timeout"`
	Payload           map[string]any `yaml:"payload"` // announced at connect, opaque to the protocol
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenPort:        5000,
			MonitorInterval:   2 * time.Second,
			DisconnectTimeout: 6 * time.Second,
		},
		Client: ClientConfig{
			LocalPort:         0,
			BroadcastAddress:  "255.255.255.255",
			BroadcastPort:     5000,
			DiscoverInterval:  time.Second,
			KeepaliveInterval: 2 * time.Second,
			AckTimeout:        time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Server.ListenPort < 1 || c.Server.ListenPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.listen_port must be between 1 and 65535, got %d", c.Server.ListenPort))
	}
	if c.Server.MonitorInterval <= 0 {
		errs = append(errs, "server.monitor_interval must be positive")
	}
	if c.Server.DisconnectTimeout <= 0 {
		errs = append(errs, "server.disconnect_timeout must be positive")
	}

	if c.Client.LocalPort < 0 || c.Client.LocalPort > 65535 {
		errs = append(errs, fmt.Sprintf("client.local_port must be between 0 and 65535, got %d", c.Client.LocalPort))
	}
	if c.Client.BroadcastPort < 1 || c.Client.BroadcastPort > 65535 {
		errs = append(errs, fmt.Sprintf("client.broadcast_port must be between 1 and 65535, got %d", c.Client.BroadcastPort))
	}
	if net.ParseIP(c.Client.BroadcastAddress) == nil {
		errs = append(errs, fmt.Sprintf("client.broadcast_address is not a valid IP: %s", c.Client.BroadcastAddress))
	}
	if c.Client.DiscoverInterval <= 0 {
		errs = append(errs, "client.discover_interval must be positive")
	}
	if c.Client.KeepaliveInterval <= 0 {
		errs = append(errs, "client.keepalive_interval must be positive")
	}
	if c.Client.AckTimeout <= 0 {
		errs = append(errs, "client.ack_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	}
	return false
}

// BroadcastAddr returns the client broadcast destination as a UDP address.
func (c *ClientConfig) BroadcastAddr() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.ParseIP(c.BroadcastAddress),
		Port: c.BroadcastPort,
	}
}
