// Package main is the entry point for the fleetlink-agent binary.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build the status collector and HTTP client
//  4. Start the status publisher and the persistent link loop
//  5. Block until SIGINT/SIGTERM
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/agent"
	"github.com/fleetlink-io/fleetlink/internal/agent/player"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/netgraph"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	serverURL string
	linkAddr  string
	token     string
	hostname  string
	sshPort   uint16
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "fleetlink-agent",
		Short: "Fleetlink agent, connects a machine to the fleetlink server",
		Long: `Fleetlink agent runs on each machine in the fleet. It publishes the
machine's network fingerprint once a minute and holds a persistent
connection to the server over which relayed commands arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRouteCmd(cfg))

	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", envOrDefault("FLEETLINK_SERVER_URL", "http://localhost:8080"), "Server HTTP base URL")
	root.PersistentFlags().StringVar(&cfg.linkAddr, "link-addr", envOrDefault("FLEETLINK_LINK_ADDR", "localhost:8422"), "Server persistent-connection address (host:port)")
	root.PersistentFlags().StringVar(&cfg.token, "token", envOrDefault("FLEETLINK_TOKEN", ""), "Admin bearer token (required)")
	root.PersistentFlags().StringVar(&cfg.hostname, "hostname", envOrDefault("FLEETLINK_HOSTNAME", ""), "Hostname to register as (default: OS hostname)")
	root.PersistentFlags().Uint16Var(&cfg.sshPort, "ssh-port", 0, "Public SSH port-forward reaching this machine (0 = none)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FLEETLINK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetlink-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newRouteCmd prints the ssh argv that reaches a destination host through
// the cheapest path the collected machine statuses allow.
func newRouteCmd(cfg *config) *cobra.Command {
	var user string

	route := &cobra.Command{
		Use:   "route <hostname>",
		Short: "Print multi-hop ssh arguments toward a fleet machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := resolveHostname(cfg)
			if err != nil {
				return err
			}
			dst, err := identity.ParseHostname(args[0])
			if err != nil {
				return err
			}

			client := agent.NewClient(cfg.serverURL, cfg.token)
			statuses, err := client.GetStatuses(cmd.Context())
			if err != nil {
				return err
			}

			if user == "" {
				if status, ok := statuses[dst]; ok && status.DefaultUser != nil {
					user = *status.DefaultUser
				} else {
					user = os.Getenv("USER")
				}
			}

			hops, ok, err := netgraph.Build(statuses).FindPath(src, dst)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no route from %s to %s", src, dst)
			}

			fmt.Println("ssh " + strings.Join(netgraph.SSHArgs(hops, user), " "))
			return nil
		},
	}

	route.Flags().StringVar(&user, "user", "", "Remote user (default: the destination's reported user)")
	return route
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.token == "" {
		return fmt.Errorf("token is required: set --token or FLEETLINK_TOKEN")
	}

	hostname, err := resolveHostname(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting fleetlink agent",
		zap.String("version", version),
		zap.String("hostname", hostname.String()),
		zap.String("server_url", cfg.serverURL),
		zap.String("link_addr", cfg.linkAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var sshPort *uint16
	if cfg.sshPort != 0 {
		sshPort = &cfg.sshPort
	}

	collector := agent.NewCollector(hostname, sshPort, logger)
	client := agent.NewClient(cfg.serverURL, cfg.token)
	publisher := agent.NewPublisher(collector, client, logger)

	executor := agent.NewExecutor(version, player.NewMPC(logger), logger)
	link := agent.NewLink(cfg.linkAddr, hostname, cfg.token, executor, logger)

	go publisher.Run(ctx)
	link.Run(ctx)

	logger.Info("fleetlink agent stopped")
	return nil
}

func resolveHostname(cfg *config) (identity.Hostname, error) {
	raw := cfg.hostname
	if raw == "" {
		osName, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("cannot determine hostname: %w", err)
		}
		raw = osName
	}
	return identity.ParseHostname(raw)
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
