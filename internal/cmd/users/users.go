// Package users parses users command flags and composes the registry service.
package users

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/overlay/internal/platform/cmd"
	server "github.com/louisbranch/overlay/internal/services/users/app"
	"github.com/louisbranch/overlay/internal/services/users/engine"
	"github.com/louisbranch/overlay/internal/services/users/grant"
	"github.com/louisbranch/overlay/internal/services/users/manifest"
	"github.com/louisbranch/overlay/internal/services/users/storage/sqlite"
)

// Config holds users command configuration.
type Config struct {
	HTTPAddr        string        `env:"OVERLAY_USERS_HTTP_ADDR"         envDefault:":8090"`
	DBPath          string        `env:"OVERLAY_USERS_DB_PATH"           envDefault:"users.db"`
	ManifestPath    string        `env:"OVERLAY_USERS_MANIFEST_PATH"     envDefault:"manifest.toml"`
	GrantPublicKey  string        `env:"OVERLAY_USERS_GRANT_PUBLIC_KEY"`
	ShutdownTimeout time.Duration `env:"OVERLAY_USERS_SHUTDOWN_TIMEOUT"  envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "registry HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "registry sqlite database path")
	fs.StringVar(&cfg.ManifestPath, "manifest-path", cfg.ManifestPath, "deployment manifest path")
	fs.StringVar(&cfg.GrantPublicKey, "grant-public-key", cfg.GrantPublicKey, "base64 ed25519 grant verification key")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the registry service and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceUsers, func(context.Context) error {
		key, err := decodeGrantKey(cfg.GrantPublicKey)
		if err != nil {
			return err
		}

		m, err := manifest.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open registry store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("users: close store: %v", err)
			}
		}()

		registry, err := engine.New(ctx, store, m)
		if err != nil {
			return fmt.Errorf("restore registry: %w", err)
		}

		return server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			GrantPublicKey:  key,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, registry, store)
	})
}

func decodeGrantKey(value string) (ed25519.PublicKey, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errors.New("OVERLAY_USERS_GRANT_PUBLIC_KEY is required")
	}
	key, err := grant.DecodePublicKey(value)
	if err != nil {
		return nil, fmt.Errorf("grant public key: %w", err)
	}
	return key, nil
}
