package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/services/users/grant"
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Mint a bearer grant for the configured identity",
	Long: `Mints a signed bearer grant from --origin, --sender-kind and
--sender-id, valid for --ttl. The token is printed to stdout for use with
curl or other HTTP tooling.`,
	Args: cobra.NoArgs,
	RunE: runGrant,
}

func init() {
	rootCmd.AddCommand(grantCmd)
}

func runGrant(cmd *cobra.Command, args []string) error {
	id, err := identity()
	if err != nil {
		return err
	}
	key, err := decodeSigningKey(signingKey)
	if err != nil {
		return err
	}
	token, err := grant.Issue(key, id, grantTTL, nil)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
