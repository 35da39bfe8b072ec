package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/engine"
)

var callCmd = &cobra.Command{
	Use:   "call <entrypoint> [params]",
	Short: "Dispatch a raw entrypoint call",
	Long: `Dispatches one entrypoint with the given JSON params, minting a
grant for the configured identity. Params default to an empty body.

Example:
  overlayctl call add_curator '{"addr":"acc-carol"}' --origin acc-admin`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	entrypoint := strings.TrimSpace(args[0])
	if !engine.KnownEntrypoint(entrypoint) {
		return fmt.Errorf("unknown entrypoint %q (one of: %s)",
			entrypoint, strings.Join(engine.Entrypoints(), ", "))
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	id, err := identity()
	if err != nil {
		return err
	}

	var params any
	if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
		params = json.RawMessage(args[1])
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	res, err := c.Call(ctx, id, entrypoint, params)
	if err != nil {
		return err
	}
	return printJSON(res)
}
