package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newWorkersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers and their load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := newClient().Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tLOAD\tSTATE\tLAST HEARTBEAT")
			for _, w := range snap.Workers {
				fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\n",
					w.Identity, w.InFlight, w.Capacity, w.State,
					w.LastHeartbeat.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
