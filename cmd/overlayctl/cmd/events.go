package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/client"
)

var (
	eventsFilter   string
	eventsPageSize int
	eventsCursor   int64
	eventsDesc     bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the call journal",
	Long: `Lists committed registry calls, oldest first by default.

Example:
  overlayctl events --filter 'entrypoint = "curate"' --page-size 20 --desc`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsFilter, "filter", "", "journal filter expression")
	eventsCmd.Flags().IntVar(&eventsPageSize, "page-size", 0, "events per page")
	eventsCmd.Flags().Int64Var(&eventsCursor, "cursor", 0, "resume after this event seq")
	eventsCmd.Flags().BoolVar(&eventsDesc, "desc", false, "newest first")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.HTTPRequest)
	defer cancel()

	page, err := c.ListEvents(ctx, client.ListEventsRequest{
		Filter:     eventsFilter,
		PageSize:   eventsPageSize,
		Cursor:     eventsCursor,
		Descending: eventsDesc,
	})
	if err != nil {
		return err
	}
	return printJSON(page)
}
