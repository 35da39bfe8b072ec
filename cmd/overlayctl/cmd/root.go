// Package cmd wires the overlayctl command tree.
package cmd

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/services/users/client"
	"github.com/louisbranch/overlay/internal/services/users/grant"
)

var (
	registryAddr string
	signingKey   string
	origin       string
	senderKind   string
	senderID     string
	grantTTL     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "overlayctl",
	Short: "Operate the overlay users registry",
	Long: `overlayctl drives the overlay users registry service.

It mints call grants from a signing key, dispatches admin and authority
entrypoints, reads the role views, and follows the call journal.`,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&registryAddr, "addr", envOr("OVERLAY_USERS_ADDR", "http://localhost:8090"), "registry base URL")
	rootCmd.PersistentFlags().StringVar(&signingKey, "signing-key", os.Getenv("OVERLAY_USERS_GRANT_PRIVATE_KEY"), "base64 ed25519 grant signing key")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "origin account for minted grants")
	rootCmd.PersistentFlags().StringVar(&senderKind, "sender-kind", "", "sender kind for minted grants (account or service)")
	rootCmd.PersistentFlags().StringVar(&senderID, "sender-id", "", "sender id for minted grants")
	rootCmd.PersistentFlags().DurationVar(&grantTTL, "ttl", time.Minute, "grant lifetime")
}

func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func newClient() (*client.Client, error) {
	var key ed25519.PrivateKey
	if strings.TrimSpace(signingKey) != "" {
		decoded, err := grant.DecodePrivateKey(signingKey)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		key = decoded
	}
	return client.New(client.Config{
		BaseURL:    registryAddr,
		SigningKey: key,
		GrantTTL:   grantTTL,
	})
}

func decodeSigningKey(value string) (ed25519.PrivateKey, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errors.New("--signing-key is required")
	}
	key, err := grant.DecodePrivateKey(value)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return key, nil
}

func identity() (grant.Grant, error) {
	if strings.TrimSpace(origin) == "" {
		return grant.Grant{}, errors.New("--origin is required")
	}
	return grant.Grant{Origin: origin, SenderKind: senderKind, SenderID: senderID}, nil
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
