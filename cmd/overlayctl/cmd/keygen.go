package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/tools/grantkey"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a grant signing keypair",
	Long: `Generates an ed25519 keypair for minting and verifying call grants.

The private key signs grants (overlayctl, scenario runner); the public key
goes to the registry service as OVERLAY_USERS_GRANT_PUBLIC_KEY.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	return grantkey.Run(os.Stdout, nil)
}
