// Package wizard provides an interactive setup wizard for node-discovery.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/ircam-jstools/node-discovery/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	Role       string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	configPath, role, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	cfg := config.Default()

	switch role {
	case "server":
		if err := w.askServerConfig(cfg); err != nil {
			return nil, err
		}
	case "client":
		if err := w.askClientConfig(cfg); err != nil {
			return nil, err
		}
	}

	if err := w.askLogging(cfg); err != nil {
		return nil, err
	}

	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	w.printSummary(configPath, role, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: configPath,
		Role:       role,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  _   _           _        ____  _
 | \ | | ___   __| | ___  |  _ \(_)___  ___ _____   _____ _ __ _   _
 |  \| |/ _ \ / _` + "`" + ` |/ _ \ | | | | / __|/ __/ _ \ \ / / _ \ '__| | | |
 | |\  | (_) | (_| |  __/ | |_| | \__ \ (_| (_) \ V /  __/ |  | |_| |
 |_| \_|\___/ \__,_|\___| |____/|_|___/\___\___/ \_/ \___|_|   \__, |
                                                               |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  LAN Rendezvous & Liveness - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (configPath, role string, err error) {
	configPath = "./config.yaml"
	role = "client"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Pick the role for this process and where to write its configuration."),

			huh.NewSelect[string]().
				Title("Role").
				Options(
					huh.NewOption("Client (announces itself and keeps a session alive)", "client"),
					huh.NewOption("Server (answers discovery and tracks clients)", "server"),
				).
				Value(&role),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askServerConfig(cfg *config.Config) error {
	listenPort := strconv.Itoa(cfg.Server.ListenPort)
	monitorInterval := cfg.Server.MonitorInterval.String()
	disconnectTimeout := cfg.Server.DisconnectTimeout.String()
	healthEnabled := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Server Configuration").
				Description("Configure the rendezvous server."),

			huh.NewInput().
				Title("Listen Port").
				Description("UDP port discovery broadcasts arrive on").
				Placeholder(listenPort).
				Value(&listenPort).
				Validate(validatePort),

			huh.NewInput().
				Title("Monitor Interval").
				Description("How often to sweep for silent clients (e.g. 2s)").
				Placeholder(monitorInterval).
				Value(&monitorInterval).
				Validate(validateDuration),

			huh.NewInput().
				Title("Disconnect Timeout").
				Description("Silence after which a client is evicted (e.g. 6s)").
				Placeholder(disconnectTimeout).
				Value(&disconnectTimeout).
				Validate(validateDuration),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /metrics)").
				Value(&healthEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.ListenPort, _ = strconv.Atoi(listenPort)
	cfg.Server.MonitorInterval, _ = time.ParseDuration(monitorInterval)
	cfg.Server.DisconnectTimeout, _ = time.ParseDuration(disconnectTimeout)
	if healthEnabled {
		cfg.Server.HealthAddress = ":8080"
	}

	if healthEnabled {
		healthAddr := cfg.Server.HealthAddress
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Health Address").
					Description("Address for the HTTP health listener").
					Placeholder(":8080").
					Value(&healthAddr).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("health address is required")
						}
						_, _, err := net.SplitHostPort(s)
						if err != nil {
							return fmt.Errorf("invalid address format (use host:port)")
						}
						return nil
					}),
			),
		).WithTheme(w.theme)
		if err := form.Run(); err != nil {
			return err
		}
		cfg.Server.HealthAddress = healthAddr
	}

	return nil
}

func (w *Wizard) askClientConfig(cfg *config.Config) error {
	broadcastAddress := cfg.Client.BroadcastAddress
	broadcastPort := strconv.Itoa(cfg.Client.BroadcastPort)
	localPort := strconv.Itoa(cfg.Client.LocalPort)
	keepaliveInterval := cfg.Client.KeepaliveInterval.String()

	hostname, _ := os.Hostname()
	announceName := hostname

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Client Configuration").
				Description("Configure how this node finds its server."),

			huh.NewInput().
				Title("Broadcast Address").
				Description("Where discovery requests are broadcast").
				Placeholder(broadcastAddress).
				Value(&broadcastAddress).
				Validate(func(s string) error {
					if net.ParseIP(s) == nil {
						return fmt.Errorf("invalid IP address")
					}
					return nil
				}),

			huh.NewInput().
				Title("Broadcast Port").
				Description("The server's listen port").
				Placeholder(broadcastPort).
				Value(&broadcastPort).
				Validate(validatePort),

			huh.NewInput().
				Title("Local Port").
				Description("Local UDP port to bind, 0 for ephemeral").
				Placeholder(localPort).
				Value(&localPort).
				Validate(func(s string) error {
					p, err := strconv.Atoi(s)
					if err != nil || p < 0 || p > 65535 {
						return fmt.Errorf("must be a port number (0-65535)")
					}
					return nil
				}),

			huh.NewInput().
				Title("Keepalive Interval").
				Description("Cadence of keepalives once connected (e.g. 2s)").
				Placeholder(keepaliveInterval).
				Value(&keepaliveInterval).
				Validate(validateDuration),

			huh.NewInput().
				Title("Announced Name").
				Description("Hostname announced to the server, empty to skip").
				Placeholder(hostname).
				Value(&announceName),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Client.BroadcastAddress = broadcastAddress
	cfg.Client.BroadcastPort, _ = strconv.Atoi(broadcastPort)
	cfg.Client.LocalPort, _ = strconv.Atoi(localPort)
	cfg.Client.KeepaliveInterval, _ = time.ParseDuration(keepaliveInterval)
	if announceName != "" {
		cfg.Client.Payload = map[string]any{"hostname": announceName}
	}

	return nil
}

func (w *Wizard) askLogging(cfg *config.Config) error {
	logLevel := cfg.Log.Level

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging").
				Description("Configure log verbosity."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Log.Level = logLevel
	return nil
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# node-discovery Configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath, role string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Role:         %s\n", role)
	fmt.Printf("  Config file:  %s\n", configPath)

	switch role {
	case "server":
		fmt.Printf("  Listen port:  %d\n", cfg.Server.ListenPort)
		fmt.Printf("  Sweep:        every %s, evict after %s\n",
			cfg.Server.MonitorInterval, cfg.Server.DisconnectTimeout)
		if cfg.Server.HealthAddress != "" {
			fmt.Printf("  Health:       http://%s/health\n", cfg.Server.HealthAddress)
		}
	case "client":
		fmt.Printf("  Broadcast:    %s:%d\n", cfg.Client.BroadcastAddress, cfg.Client.BroadcastPort)
		fmt.Printf("  Keepalive:    every %s\n", cfg.Client.KeepaliveInterval)
	}

	fmt.Println()
	fmt.Println("  To start:")
	switch role {
	case "server":
		fmt.Printf("    node-discovery serve -c %s\n", configPath)
	case "client":
		fmt.Printf("    node-discovery join -c %s\n", configPath)
	}
	fmt.Println()
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("must be a port number (1-65535)")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration (e.g. 2s, 500ms)")
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}
