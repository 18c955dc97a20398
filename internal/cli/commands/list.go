package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		deployments, err := sess.repo.ListDeployments(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tUPDATE\tPLUGIN")
		for _, d := range deployments {
			update := "-"
			if d.UpdateStatus != nil {
				update = *d.UpdateStatus
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s@%s\n",
				d.ID, d.Name, d.DeploymentType, d.Status, update, d.PluginID, d.Version)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <deployment-id>",
	Short: "Show the version history of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deploymentID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid deployment ID: %w", err)
		}

		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		history, err := sess.repo.ListHistory(cmd.Context(), deploymentID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATUS\tCREATED\tBY\tDESCRIPTION")
		for _, h := range history {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				h.VersionNumber, h.Status, h.CreatedAt.Format("2006-01-02 15:04:05"), h.CreatedBy, h.Description)
		}
		return w.Flush()
	},
}
