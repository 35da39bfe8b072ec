package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
)

var curateCmd = &cobra.Command{
	Use:   "curate <account> <project>",
	Short: "Record a curated project on a curator's record",
	Long: `Records a project curation. The configured identity must act as the
registry's project authority, e.g.:

  overlayctl curate acc-carol proj-epsilon \
    --origin acc-carol --sender-kind service --sender-id svc-projects`,
	Args: cobra.ExactArgs(2),
	RunE: runCurate,
}

var validateCmd = &cobra.Command{
	Use:   "validate <account> <project>",
	Short: "Record a validated project on a validator's record",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(curateCmd, validateCmd)
}

func runCurate(cmd *cobra.Command, args []string) error {
	return runProject(cmd, args, "curate")
}

func runValidate(cmd *cobra.Command, args []string) error {
	return runProject(cmd, args, "validate")
}

func runProject(cmd *cobra.Command, args []string, entrypoint string) error {
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

	var res any
	if entrypoint == "curate" {
		res, err = c.Curate(ctx, id, args[0], args[1])
	} else {
		res, err = c.Validate(ctx, id, args[0], args[1])
	}
	if err != nil {
		return err
	}
	return printJSON(res)
}
