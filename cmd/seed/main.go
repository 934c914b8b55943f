// Package main implements a one-shot seed command that mints an API bearer
// token directly in the fleetlink database.
//
// Usage:
//
//	go run ./cmd/seed --hostname kiwi --role admin
//
// Environment variables:
//
//	FLEETLINK_DB_DRIVER  sqlite (default) or postgres
//	FLEETLINK_DB_DSN     SQLite file path or Postgres DSN (default: ./fleetlink.db)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	hostname := flag.String("hostname", "", "Hostname the token belongs to (required)")
	role := flag.String("role", "admin", "Role: admin or music")
	token := flag.String("token", "", "Token value (UUID); generated when omitted")
	flag.Parse()

	if *hostname == "" {
		return fmt.Errorf("--hostname is required")
	}
	host, err := identity.ParseHostname(*hostname)
	if err != nil {
		return err
	}
	r, err := identity.ParseRole(*role)
	if err != nil {
		return err
	}

	t := identity.NewToken()
	if *token != "" {
		t, err = identity.ParseToken(*token)
		if err != nil {
			return err
		}
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   envOrDefault("FLEETLINK_DB_DRIVER", "sqlite"),
		DSN:      envOrDefault("FLEETLINK_DB_DSN", "./fleetlink.db"),
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	tokens := store.NewTokenStore(database)
	if err := tokens.Insert(context.Background(), t, host, r); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	fmt.Printf("✓ Token created\n")
	fmt.Printf("  Token:    %s\n", t)
	fmt.Printf("  Hostname: %s\n", host)
	fmt.Printf("  Role:     %s\n", r)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
