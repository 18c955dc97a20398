package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
)

var (
	servicePlugin     string
	serviceVersion    string
	serviceUser       string
	serviceDeployment string
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage microservice repository deployments",
}

var serviceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a hosted repository seeded from a plugin template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		job, err := sess.client.SubmitProvisionMicroservice(cmd.Context(), &queue.ProvisionMicroserviceParams{
			PluginID:     servicePlugin,
			Version:      serviceVersion,
			Name:         args[0],
			UserID:       serviceUser,
			DeploymentID: serviceDeployment,
		})
		if err != nil {
			return err
		}

		cmd.Printf("Service creation submitted: job %s\n", job.ID)
		return nil
	},
}

var serviceDeleteCmd = &cobra.Command{
	Use:   "delete <deployment-id>",
	Short: "Delete a microservice repository and tombstone its deployment",
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

		job, err := sess.client.SubmitDestroyMicroservice(cmd.Context(), deploymentID, serviceUser)
		if err != nil {
			return err
		}

		cmd.Printf("Service deletion submitted: job %s\n", job.ID)
		return nil
	},
}

func init() {
	serviceCreateCmd.Flags().StringVar(&servicePlugin, "plugin", "", "plugin blueprint ID")
	serviceCreateCmd.Flags().StringVar(&serviceVersion, "version", "", "plugin version")
	serviceCreateCmd.Flags().StringVar(&serviceDeployment, "deployment", "", "existing microservice deployment ID to provision again")
	serviceCreateCmd.MarkFlagRequired("plugin")
	serviceCreateCmd.MarkFlagRequired("version")

	for _, cmd := range []*cobra.Command{serviceCreateCmd, serviceDeleteCmd} {
		cmd.Flags().StringVar(&serviceUser, "user", "", "user identity submitting the request")
		cmd.MarkFlagRequired("user")
	}

	serviceCmd.AddCommand(serviceCreateCmd)
	serviceCmd.AddCommand(serviceDeleteCmd)
}
