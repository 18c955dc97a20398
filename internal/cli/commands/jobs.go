package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Resubmit a terminal job with its original parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job ID: %w", err)
		}

		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.client.RetryJob(cmd.Context(), jobID); err != nil {
			return err
		}

		cmd.Printf("Job %s resubmitted\n", jobID)
		return nil
	},
}
