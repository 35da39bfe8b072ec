package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/services/users/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream committed events until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = c.WatchEvents(ctx, func(evt client.Event) {
		if err := printJSON(evt); err != nil {
			printError("encode event", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
