package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
)

var (
	provisionPlugin      string
	provisionVersion     string
	provisionName        string
	provisionInputsFile  string
	provisionCredential  string
	provisionUser        string
	provisionDescription string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision an infrastructure deployment from a plugin blueprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readInputs(provisionInputsFile)
		if err != nil {
			return err
		}

		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		job, err := sess.client.SubmitProvisionInfrastructure(cmd.Context(), &queue.ProvisionInfrastructureParams{
			PluginID:       provisionPlugin,
			Version:        provisionVersion,
			Inputs:         inputs,
			CredentialName: provisionCredential,
			DeploymentName: provisionName,
			UserID:         provisionUser,
			Description:    provisionDescription,
		})
		if err != nil {
			return err
		}

		cmd.Printf("Provision submitted: job %s\n", job.ID)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <deployment-id>",
	Short: "Apply new inputs to an ACTIVE infrastructure deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readInputs(provisionInputsFile)
		if err != nil {
			return err
		}

		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		job, err := sess.client.SubmitProvisionInfrastructure(cmd.Context(), &queue.ProvisionInfrastructureParams{
			PluginID:       provisionPlugin,
			Version:        provisionVersion,
			Inputs:         inputs,
			CredentialName: provisionCredential,
			DeploymentID:   args[0],
			UserID:         provisionUser,
			Description:    provisionDescription,
		})
		if err != nil {
			return err
		}

		cmd.Printf("Update submitted: job %s\n", job.ID)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment-id> <version>",
	Short: "Re-apply the inputs of a previous deployment version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deploymentID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid deployment ID: %w", err)
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}

		sess, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		job, err := sess.client.SubmitRollback(cmd.Context(), deploymentID, version, provisionUser)
		if err != nil {
			return err
		}

		cmd.Printf("Rollback to version %d submitted: job %s\n", version, job.ID)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <deployment-id>",
	Short: "Destroy an infrastructure deployment and remove its record",
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

		job, err := sess.client.SubmitDestroyInfrastructure(cmd.Context(), deploymentID, provisionUser)
		if err != nil {
			return err
		}

		cmd.Printf("Destroy submitted: job %s\n", job.ID)
		return nil
	},
}

func readInputs(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs file: %w", err)
	}

	var inputs map[string]interface{}
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse inputs file: %w", err)
	}
	return inputs, nil
}

func init() {
	for _, cmd := range []*cobra.Command{provisionCmd, updateCmd} {
		cmd.Flags().StringVar(&provisionPlugin, "plugin", "", "plugin blueprint ID")
		cmd.Flags().StringVar(&provisionVersion, "version", "", "plugin version")
		cmd.Flags().StringVar(&provisionInputsFile, "inputs", "", "path to a JSON file with stack inputs")
		cmd.Flags().StringVar(&provisionCredential, "credential", "", "named credential to record on the deployment")
		cmd.Flags().StringVar(&provisionDescription, "description", "", "description stored in the deployment history")
		cmd.MarkFlagRequired("plugin")
		cmd.MarkFlagRequired("version")
	}
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "deployment display name")

	for _, cmd := range []*cobra.Command{provisionCmd, updateCmd, rollbackCmd, destroyCmd} {
		cmd.Flags().StringVar(&provisionUser, "user", "", "user identity submitting the request")
		cmd.MarkFlagRequired("user")
	}
}
