package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SUBMISSION_ID",
		Short: "Cancel a submission",
		Long: `Cancel stops a submission. Work that has not started is dropped
immediately; running work is aborted on the assigned worker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid submission id %q", args[0])
			}

			sub, err := newClient().Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", sub.ID, sub.Status)
			return nil
		},
	}
}
