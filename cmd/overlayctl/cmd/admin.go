package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/client"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/grant"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin-gated registry operations",
}

var adminTransferCmd = &cobra.Command{
	Use:   "transfer <account>",
	Short: "Hand the admin role to another account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminTransfer,
}

var adminAuthorityCmd = &cobra.Command{
	Use:   "authority <kind> <id>",
	Short: "Point the project authority at a new address",
	Long: `Sets the address allowed to record curated and validated projects.
Kind is "account" or "service".`,
	Args: cobra.ExactArgs(2),
	RunE: runAdminAuthority,
}

var curatorCmd = &cobra.Command{
	Use:   "curator",
	Short: "Curator role management",
}

var curatorAddCmd = &cobra.Command{
	Use:   "add <account>",
	Short: "Grant the curator role",
	Args:  cobra.ExactArgs(1),
	RunE: dispatchAddr(func(ctx context.Context, c *client.Client, id grant.Grant, addr string) (client.DispatchResult, error) {
		return c.AddCurator(ctx, id, addr)
	}),
}

var curatorRemoveCmd = &cobra.Command{
	Use:   "remove <account>",
	Short: "Revoke the curator role",
	Args:  cobra.ExactArgs(1),
	RunE: dispatchAddr(func(ctx context.Context, c *client.Client, id grant.Grant, addr string) (client.DispatchResult, error) {
		return c.RemoveCurator(ctx, id, addr)
	}),
}

var validatorCmd = &cobra.Command{
	Use:   "validator",
	Short: "Validator role management",
}

var validatorAddCmd = &cobra.Command{
	Use:   "add <account>",
	Short: "Grant the validator role",
	Args:  cobra.ExactArgs(1),
	RunE: dispatchAddr(func(ctx context.Context, c *client.Client, id grant.Grant, addr string) (client.DispatchResult, error) {
		return c.AddValidator(ctx, id, addr)
	}),
}

var validatorRemoveCmd = &cobra.Command{
	Use:   "remove <account>",
	Short: "Revoke the validator role",
	Args:  cobra.ExactArgs(1),
	RunE: dispatchAddr(func(ctx context.Context, c *client.Client, id grant.Grant, addr string) (client.DispatchResult, error) {
		return c.RemoveValidator(ctx, id, addr)
	}),
}

func init() {
	curatorCmd.AddCommand(curatorAddCmd, curatorRemoveCmd)
	validatorCmd.AddCommand(validatorAddCmd, validatorRemoveCmd)
	adminCmd.AddCommand(adminTransferCmd, adminAuthorityCmd, curatorCmd, validatorCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminTransfer(cmd *cobra.Command, args []string) error {
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

	res, err := c.TransferAdmin(ctx, id, args[0])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runAdminAuthority(cmd *cobra.Command, args []string) error {
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

	res, err := c.SetAuthority(ctx, id, domain.Address{Kind: domain.AddressKind(args[0]), ID: args[1]})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func dispatchAddr(call func(context.Context, *client.Client, grant.Grant, string) (client.DispatchResult, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		res, err := call(ctx, c, id, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	}
}
