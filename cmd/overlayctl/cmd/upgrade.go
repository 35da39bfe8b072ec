package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/client"
)

var (
	upgradeMigrateEntrypoint string
	upgradeMigrateParams     string
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <ref>",
	Short: "Activate a declared code reference",
	Long: `Activates a code reference declared in the deployment manifest. The
configured identity must be the registry owner. An optional migration call
runs inside the same transition:

  overlayctl upgrade ref-v2 --origin acc-owner \
    --migrate-entrypoint add_curator --migrate-params '{"addr":"acc-carol"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringVar(&upgradeMigrateEntrypoint, "migrate-entrypoint", "", "entrypoint to invoke after activation")
	upgradeCmd.Flags().StringVar(&upgradeMigrateParams, "migrate-params", "", "JSON params for the migration call")
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	id, err := identity()
	if err != nil {
		return err
	}

	var migrate *client.Migration
	if strings.TrimSpace(upgradeMigrateEntrypoint) != "" {
		migrate = &client.Migration{Entrypoint: upgradeMigrateEntrypoint}
		if strings.TrimSpace(upgradeMigrateParams) != "" {
			migrate.Params = json.RawMessage(upgradeMigrateParams)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	res, err := c.Upgrade(ctx, id, args[0], migrate)
	if err != nil {
		return err
	}
	return printJSON(res)
}
