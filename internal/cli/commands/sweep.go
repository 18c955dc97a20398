package commands

import (
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/stack-orchestrator/internal/orchestrator"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep over in-progress deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		reconciler := orchestrator.NewReconciler(
			sess.repo,
			sess.cfg.Reconciler.Interval,
			sess.cfg.Reconciler.StuckTimeout,
			sess.logger,
		)

		swept, err := reconciler.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		cmd.Printf("Sweep complete: %d deployment(s) forced to a failed state\n", swept)
		return nil
	},
}
