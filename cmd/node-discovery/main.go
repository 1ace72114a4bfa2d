// Package main provides the CLI entry point for node-discovery.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ircam-jstools/node-discovery/internal/client"
	"github.com/ircam-jstools/node-discovery/internal/config"
	"github.com/ircam-jstools/node-discovery/internal/health"
	"github.com/ircam-jstools/node-discovery/internal/logging"
	"github.com/ircam-jstools/node-discovery/internal/server"
	"github.com/ircam-jstools/node-discovery/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "node-discovery",
		Short: "node-discovery - LAN rendezvous and liveness",
		Long: `node-discovery lets clients on a LAN locate a rendezvous server via
UDP broadcast, establish a logical connection, and keep it alive with
periodic keepalives.

Run one server per network; any number of clients discover it without
knowing its address in advance.`,
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(clientsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup",
		Long:  "Generate a configuration file through an interactive wizard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rendezvous server",
		Long:  "Start the rendezvous server with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			srv := server.New(server.Config{
				ListenPort:        cfg.Server.ListenPort,
				MonitorInterval:   cfg.Server.MonitorInterval,
				DisconnectTimeout: cfg.Server.DisconnectTimeout,
			}, &announcer{}, logger)

			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			fmt.Printf("Rendezvous server listening on UDP port %d\n", cfg.Server.ListenPort)
			fmt.Printf("Sweep: every %s, evict after %s of silence\n",
				cfg.Server.MonitorInterval, cfg.Server.DisconnectTimeout)

			var healthSrv *health.Server
			if cfg.Server.HealthAddress != "" {
				healthCfg := health.DefaultServerConfig()
				healthCfg.Address = cfg.Server.HealthAddress
				healthSrv = health.NewServer(healthCfg, &serverStats{srv: srv}, nil)
				if err := healthSrv.Start(); err != nil {
					srv.Stop()
					return fmt.Errorf("failed to start health server: %w", err)
				}
				fmt.Printf("Health endpoint: http://%s/health\n", healthSrv.Address())
			}

			waitForSignal()

			if healthSrv != nil {
				healthSrv.Stop()
			}
			if err := srv.Stop(); err != nil {
				return err
			}
			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func joinCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Run a discovery client",
		Long:  "Discover the rendezvous server on the local network and keep a session alive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			cli := client.New(client.Config{
				LocalPort:         cfg.Client.LocalPort,
				Broadcast:         cfg.Client.BroadcastAddr(),
				DiscoverInterval:  cfg.Client.DiscoverInterval,
				KeepaliveInterval: cfg.Client.KeepaliveInterval,
				AckTimeout:        cfg.Client.AckTimeout,
				Payload:           cfg.Client.Payload,
			}, &joiner{}, logger)

			if err := cli.Start(); err != nil {
				return fmt.Errorf("failed to start client: %w", err)
			}

			fmt.Printf("Discovering server via %s\n", cfg.Client.BroadcastAddr())

			waitForSignal()

			if err := cli.Stop(); err != nil {
				return err
			}
			fmt.Println("Client stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func clientsCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		Long:  "Query a running server's health endpoint and list its registered clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("http://%s/clients", address)
			resp, err := http.Get(url)
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s", resp.Status)
			}

			var body struct {
				ClientCount int                 `json:"client_count"`
				Clients     []health.ClientInfo `json:"clients"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			if body.ClientCount == 0 {
				fmt.Println("No clients registered.")
				return nil
			}

			sort.Slice(body.Clients, func(i, j int) bool {
				return body.Clients[i].Endpoint < body.Clients[j].Endpoint
			})

			fmt.Printf("%d client(s) registered:\n\n", body.ClientCount)
			for _, c := range body.Clients {
				name := ""
				if h, ok := c.Payload["hostname"].(string); ok {
					name = h
				}
				fmt.Printf("  %-22s %-16s last seen %s\n",
					c.Endpoint, name, humanize.Time(c.LastSeen))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:8080", "Health endpoint address of the running server")

	return cmd
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
}

// announcer prints registry transitions to stdout.
type announcer struct{}

func (a *announcer) Connected(rec server.ClientRecord, clients []server.ClientRecord) {
	fmt.Printf("+ %s connected (%d total)\n", describe(rec), len(clients))
}

func (a *announcer) Closed(rec server.ClientRecord, clients []server.ClientRecord) {
	fmt.Printf("- %s disconnected (%d total)\n", describe(rec), len(clients))
}

func (a *announcer) Message(from *net.UDPAddr, data []byte) {
	fmt.Printf("? %s: %q\n", from, data)
}

func describe(rec server.ClientRecord) string {
	if h, ok := rec.Payload["hostname"].(string); ok {
		return fmt.Sprintf("%s (%s)", h, rec.Endpoint)
	}
	return rec.Endpoint
}

// joiner prints session transitions to stdout.
type joiner struct{}

func (j *joiner) Connected(srv *net.UDPAddr) {
	fmt.Printf("Connected to server %s\n", srv)
}

func (j *joiner) Disconnected() {
	fmt.Println("Connection lost, rediscovering...")
}

func (j *joiner) Message(from *net.UDPAddr, data []byte) {
	fmt.Printf("? %s: %q\n", from, data)
}

// serverStats adapts a running server to the health stats interface.
type serverStats struct {
	srv *server.Server
}

func (p *serverStats) IsRunning() bool {
	return p.srv.Running()
}

func (p *serverStats) Stats() health.Stats {
	clients := p.srv.Clients()
	infos := make([]health.ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, health.ClientInfo{
			Endpoint: c.Endpoint,
			LastSeen: c.LastSeen,
			Payload:  c.Payload,
		})
	}
	return health.Stats{
		ClientCount:   len(clients),
		UptimeSeconds: time.Since(p.srv.StartedAt()).Seconds(),
		Clients:       infos,
	}
}
