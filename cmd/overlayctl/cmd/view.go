package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Read registry views",
}

var viewUserCmd = &cobra.Command{
	Use:   "user <account>",
	Short: "Show one account's roles and project history",
	Args:  cobra.ExactArgs(1),
	RunE:  runViewUser,
}

var viewUsersCmd = &cobra.Command{
	Use:   "users",
	Short: "List every stored record",
	Args:  cobra.NoArgs,
	RunE:  runViewUsers,
}

var viewAdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Show the registry root (admin only)",
	Args:  cobra.NoArgs,
	RunE:  runViewAdmin,
}

func init() {
	viewCmd.AddCommand(viewUserCmd, viewUsersCmd, viewAdminCmd)
	rootCmd.AddCommand(viewCmd)
}

func runViewUser(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	entry, err := c.ViewUser(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func runViewUsers(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	users, err := c.ViewUsers(ctx)
	if err != nil {
		return err
	}
	return printJSON(users)
}

func runViewAdmin(cmd *cobra.Command, args []string) error {
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

	view, err := c.ViewAdmin(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(view)
}
