// Package mcp exposes read-only registry views over the Model Context
// Protocol. Tools and resources go through the HTTP client; the adapter
// holds no registry state of its own.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/overlay/internal/services/users/client"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "Overlay Users MCP"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// Config configures the MCP adapter.
type Config struct {
	RegistryAddr string
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
	registry  *client.Client
}

// New creates a configured MCP server backed by the registry at registryAddr.
func New(registryAddr string) (*Server, error) {
	registry, err := client.New(client.Config{BaseURL: registryAddr})
	if err != nil {
		return nil, fmt.Errorf("configure registry client: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, viewUserTool(), viewUserHandler(registry))
	mcp.AddTool(mcpServer, viewUsersTool(), viewUsersHandler(registry))
	mcp.AddTool(mcpServer, listEventsTool(), listEventsHandler(registry))
	mcpServer.AddResource(rolesResource(), rolesResourceHandler(registry))

	return &Server{mcpServer: mcpServer, registry: registry}, nil
}

// Run creates the adapter, waits for the registry, and serves stdio until
// the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg.RegistryAddr)
	if err != nil {
		return err
	}
	if err := server.waitForRegistry(ctx); err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the MCP server on stdio and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// waitForRegistry polls the registry liveness endpoint with backoff so the
// adapter comes up cleanly alongside the service.
func (s *Server) waitForRegistry(ctx context.Context) error {
	if s == nil || s.registry == nil {
		return fmt.Errorf("registry client is not configured")
	}

	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := s.registry.Health(callCtx)
		cancel()
		if err == nil {
			log.Printf("registry is reachable")
			return nil
		}
		log.Printf("waiting for registry: %v", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for registry: %w", ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}
}
