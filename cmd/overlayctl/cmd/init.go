package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the registry with the origin account as admin",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	id, err := identity()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	res, err := c.Init(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(res)
}
