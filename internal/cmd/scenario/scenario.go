// Package scenario parses scenario command flags and runs Lua scenario
// scripts against a live registry.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/overlay/internal/services/users/grant"
	"github.com/louisbranch/overlay/internal/tools/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	Addr       string        `env:"OVERLAY_USERS_ADDR"               envDefault:"http://localhost:8090"`
	SigningKey string        `env:"OVERLAY_USERS_GRANT_PRIVATE_KEY"`
	Scenario   string        `env:"OVERLAY_USERS_SCENARIO_FILE"`
	Assertions bool          `env:"OVERLAY_USERS_SCENARIO_ASSERT"    envDefault:"true"`
	Verbose    bool          `env:"OVERLAY_USERS_SCENARIO_VERBOSE"`
	Timeout    time.Duration `env:"OVERLAY_USERS_SCENARIO_TIMEOUT"   envDefault:"10s"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "registry base URL")
	fs.StringVar(&cfg.SigningKey, "signing-key", cfg.SigningKey, "base64 ed25519 grant signing key")
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to scenario lua file")
	fs.BoolVar(&cfg.Assertions, "assert", cfg.Assertions, "enable assertions (disable to log expectations)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout per step")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}
	if cfg.SigningKey == "" {
		return errors.New("OVERLAY_USERS_GRANT_PRIVATE_KEY is required")
	}
	key, err := grant.DecodePrivateKey(cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	mode := scenario.AssertionStrict
	if !cfg.Assertions {
		mode = scenario.AssertionLogOnly
	}

	logger := log.New(errOut, "", 0)
	if err := scenario.RunFile(ctx, scenario.Config{
		Addr:       cfg.Addr,
		SigningKey: key,
		Timeout:    cfg.Timeout,
		Assertions: mode,
		Verbose:    cfg.Verbose,
		Logger:     logger,
	}, cfg.Scenario); err != nil {
		return err
	}

	fmt.Fprintf(out, "scenario passed: %s\n", cfg.Scenario)
	return nil
}
