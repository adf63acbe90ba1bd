package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status SUBMISSION_ID",
		Short: "Show the current status of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid submission id %q", args[0])
			}

			sub, err := newClient().Status(cmd.Context(), id)
			if err != nil {
				return err
			}

			cmd.Printf("id:          %s\n", sub.ID)
			cmd.Printf("status:      %s\n", sub.Status)
			cmd.Printf("entry point: %s\n", sub.EntryPoint)
			if sub.WorkerID != "" {
				cmd.Printf("worker:      %s\n", sub.WorkerID)
			}
			if sub.FailureCause != nil {
				cmd.Printf("cause:       %s\n", *sub.FailureCause)
			}
			if sub.OutputPath != nil {
				cmd.Printf("output:      %s\n", *sub.OutputPath)
			}
			cmd.Printf("submitted:   %s\n", sub.CreatedAt.Format(time.RFC3339))
			if sub.CompletedAt != nil {
				cmd.Printf("completed:   %s\n", sub.CompletedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
