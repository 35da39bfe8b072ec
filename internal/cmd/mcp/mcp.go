// Package mcp parses MCP command flags and serves the registry MCP adapter.
package mcp

import (
	"context"
	"flag"

	registrymcp "github.com/louisbranch/overlay/internal/mcp"
	entrypoint "github.com/louisbranch/overlay/internal/platform/cmd"
)

// Config holds MCP command configuration.
type Config struct {
	RegistryAddr string `env:"OVERLAY_USERS_ADDR" envDefault:"http://localhost:8090"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.RegistryAddr, "addr", cfg.RegistryAddr, "registry base URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the MCP protocol adapter on stdio.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(context.Context) error {
		return registrymcp.Run(ctx, registrymcp.Config{RegistryAddr: cfg.RegistryAddr})
	})
}
