// Package main is the entry point for the fleetlink-server binary.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Open database, apply migrations, build stores
//  4. Build metrics, events hub, connection registry
//  5. Start the persistent-connection listener and background jobs
//  6. Start the HTTP server
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fleetlink-io/fleetlink/internal/api"
	"github.com/fleetlink-io/fleetlink/internal/bridge"
	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/events"
	"github.com/fleetlink-io/fleetlink/internal/link"
	"github.com/fleetlink-io/fleetlink/internal/metrics"
	"github.com/fleetlink-io/fleetlink/internal/registry"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr string
	linkAddr string
	dbDriver string
	dbDSN    string
	logLevel string
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
		Use:   "fleetlink-server",
		Short: "Fleetlink server, the central control plane for fleet agents",
		Long: `Fleetlink server is the central component of the fleetlink system.
It accepts persistent connections from agents behind NATs, relays
commands to them over HTTP, and tracks each machine's network
fingerprint for multi-hop ssh routing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("FLEETLINK_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.linkAddr, "link-addr", envOrDefault("FLEETLINK_LINK_ADDR", ":8422"), "Persistent-connection listen address for agents")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("FLEETLINK_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("FLEETLINK_DB_DSN", "./fleetlink.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("FLEETLINK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetlink-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting fleetlink server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("link_addr", cfg.linkAddr),
		zap.String("db_driver", cfg.dbDriver),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database & stores ---
	database, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return err
	}
	if sqlDB, err := database.DB(); err == nil {
		defer sqlDB.Close()
	}

	tokens := store.NewTokenStore(database)
	sessions := store.NewSessionStore(database)
	statuses := store.NewStatusStore(database)

	// --- Metrics ---
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// --- Events hub ---
	hub := events.NewHub()
	go hub.Run(ctx)

	// --- Connection registry & link server ---
	reg := registry.New(logger,
		registry.WithNotifier(hub),
		registry.WithConnectedGauge(m.ConnectedAgents),
	)
	linkServer := link.NewServer(reg, tokens, logger, 0)

	linkErr := make(chan error, 1)
	go func() {
		linkErr <- linkServer.ListenAndServe(ctx, cfg.linkAddr)
	}()

	// --- Background jobs ---
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	sweeper := link.NewSweeper(reg, logger, m.SweepEvictions, 0)
	if _, err := cron.NewJob(
		gocron.DurationJob(link.SweepInterval),
		gocron.NewTask(func() { sweeper.Sweep(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	if _, err := cron.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("purged expired music sessions", zap.Int64("count", n))
			}
		}),
	); err != nil {
		return fmt.Errorf("failed to schedule session purge: %w", err)
	}

	cron.Start()
	defer func() { _ = cron.Shutdown() }()

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Registry:   reg,
		Dispatcher: bridge.NewCoalescer(reg),
		Tokens:     tokens,
		Sessions:   sessions,
		Statuses:   statuses,
		Hub:        hub,
		Metrics:    m,
		Gatherer:   promReg,
		Ping: func(ctx context.Context) error {
			return db.Ping(ctx, database)
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case err := <-linkErr:
		if err != nil {
			return fmt.Errorf("link server failed: %w", err)
		}
	}

	logger.Info("shutting down fleetlink server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
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
