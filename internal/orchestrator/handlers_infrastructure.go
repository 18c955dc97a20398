package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/iac"
	"github.com/alvesdmateus/stack-orchestrator/internal/notify"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
)

// handleProvisionInfrastructure creates or updates an IaC stack. The same
// handler serves first-time provisioning, in-place updates and rollbacks;
// only the failure handling branches on which one it was.
func (w *Worker) handleProvisionInfrastructure(ctx context.Context, task *queue.Task) (err error) {
	params, err := parseProvisionInfrastructureParams(task)
	if err != nil {
		return err
	}

	job, err := w.claimJob(ctx, params.JobID)
	if err != nil {
		return err
	}

	var (
		deployment *state.Deployment
		isUpdate   bool
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic in provision handler: %v", r)
		}
		if err != nil {
			w.failProvision(ctx, job, deployment, isUpdate, params.UserID, err)
		}
	}()

	tmpl, err := w.engine.catalog.GetTemplate(params.PluginID, params.Version)
	if err != nil {
		return err
	}

	inputs := cloneInputs(params.Inputs)

	// A retried first provision carries no deployment ID in its params, but
	// the job row is still linked to the deployment minted on the original
	// attempt. Reuse it so every attempt targets the same stack.
	deploymentRef := params.DeploymentID
	if deploymentRef == "" && job.DeploymentID != nil {
		deploymentRef = job.DeploymentID.String()
	}

	if deploymentRef != "" {
		deploymentID, perr := uuid.Parse(deploymentRef)
		if perr != nil {
			return fmt.Errorf("parse deployment ID: %w", perr)
		}
		deployment, err = w.engine.repo.GetDeployment(ctx, deploymentID)
		if err != nil {
			return err
		}

		// The branching below depends on what the deployment was when the
		// task started, not on what happens to it during the run.
		isUpdate = deployment.Status == state.StatusActive

		if isUpdate {
			if err = forceResourceIdentity(deployment, tmpl.Manifest.ResourceIdentityKey, inputs); err != nil {
				return err
			}
		} else if deployment.Status == state.StatusFailed {
			// Re-provisioning a failed attempt; surface the in-progress
			// state again.
			if err = w.engine.repo.UpdateDeploymentStatus(ctx, deployment.ID, state.StatusProvisioning); err != nil {
				return err
			}
			deployment.Status = state.StatusProvisioning
		}
	} else {
		deployment, err = w.createInfrastructureDeployment(ctx, job, params, tmpl)
		if err != nil {
			return err
		}
	}

	mat, err := w.engine.materializer.Materialize(ctx, &template.MaterializeRequest{
		Template:       tmpl,
		StackName:      deployment.StackName,
		Branch:         deployment.GitBranch,
		DeploymentName: deployment.Name,
		Inputs:         inputs,
	})
	if err != nil {
		return err
	}
	defer os.RemoveAll(mat.WorkDir)

	// The branch name is fixed on first gitops materialization and reused
	// for every later update and rollback.
	if mat.Source == template.SourceGitOps && deployment.GitBranch == "" {
		deployment.GitBranch = mat.Branch
		if err = w.engine.repo.UpdateDeployment(ctx, deployment); err != nil {
			return err
		}
	}

	creds, err := w.exchangeCredentials(ctx, tmpl.Manifest.CloudProvider, params.UserID)
	if err != nil {
		return err
	}

	result, err := w.engine.iac.Apply(ctx, &iac.ApplyRequest{
		StackName:   deployment.StackName,
		PluginID:    deployment.PluginID,
		WorkDir:     mat.WorkDir,
		Config:      inputs,
		Manifest:    tmpl.Manifest,
		Credentials: creds,
	})
	if err != nil {
		return err
	}

	if isUpdate {
		if err = w.engine.repo.MarkUpdateSucceeded(ctx, deployment, inputs, result.Outputs); err != nil {
			return err
		}
	} else {
		if err = deployment.SetInputs(inputs); err != nil {
			return err
		}
		if err = w.engine.repo.MarkActive(ctx, deployment, result.Outputs); err != nil {
			return err
		}
	}

	if err = w.appendHistory(ctx, deployment, job, params.UserID, params.Description, inputs, result.Outputs); err != nil {
		return err
	}

	if err = w.engine.repo.MarkJobSuccess(ctx, job, result.Outputs); err != nil {
		return err
	}

	w.logger.Info().
		Str("deployment_id", deployment.ID.String()).
		Str("stack", deployment.StackName).
		Str("source", string(mat.Source)).
		Bool("update", isUpdate).
		Msg("Infrastructure provisioned")

	title := "Deployment provisioned"
	if isUpdate {
		title = "Deployment updated"
	}
	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   params.UserID,
		Title:    title,
		Message:  fmt.Sprintf("Deployment %q is active.", deployment.Name),
		Severity: notify.SeverityInfo,
		Link:     deploymentLink(deployment.ID),
	})

	return nil
}

// handleDestroyInfrastructure tears a stack down and removes the deployment
// record. A stack the backend no longer knows about counts as success.
func (w *Worker) handleDestroyInfrastructure(ctx context.Context, task *queue.Task) (err error) {
	params, err := parseDestroyInfrastructureParams(task)
	if err != nil {
		return err
	}

	job, err := w.claimJob(ctx, params.JobID)
	if err != nil {
		return err
	}

	var deployment *state.Deployment

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic in destroy handler: %v", r)
		}
		if err != nil {
			w.failDestroy(ctx, job, deployment, params.UserID, err)
		}
	}()

	deploymentID, err := uuid.Parse(params.DeploymentID)
	if err != nil {
		return fmt.Errorf("parse deployment ID: %w", err)
	}

	deployment, err = w.engine.repo.GetDeployment(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			// Retried destroy after the record was already removed.
			w.logger.Info().
				Str("deployment_id", params.DeploymentID).
				Msg("Deployment already removed, destroy is a no-op")
			err = nil
			return w.engine.repo.MarkJobSuccess(ctx, job, map[string]interface{}{
				"already_removed": true,
			})
		}
		return err
	}

	// Flip to DELETING before any destructive call so readers see the
	// in-progress state immediately.
	if err = w.engine.repo.MarkDeleting(ctx, deploymentID); err != nil {
		return err
	}
	deployment.Status = state.StatusDeleting

	tmpl, err := w.engine.catalog.GetTemplate(deployment.PluginID, deployment.Version)
	if err != nil {
		return err
	}

	mat, err := w.engine.materializer.Materialize(ctx, &template.MaterializeRequest{
		Template:       tmpl,
		StackName:      deployment.StackName,
		Branch:         deployment.GitBranch,
		DeploymentName: deployment.Name,
	})
	if err != nil {
		return err
	}
	defer os.RemoveAll(mat.WorkDir)

	creds, err := w.exchangeCredentials(ctx, tmpl.Manifest.CloudProvider, params.UserID)
	if err != nil {
		return err
	}

	result, err := w.engine.iac.Destroy(ctx, &iac.DestroyRequest{
		StackName:   deployment.StackName,
		PluginID:    deployment.PluginID,
		WorkDir:     mat.WorkDir,
		Manifest:    tmpl.Manifest,
		Credentials: creds,
	})
	if err != nil {
		return err
	}

	// Jobs are unlinked before the record goes away so the audit trail
	// survives; this job included.
	if err = w.engine.repo.UnlinkJobs(ctx, deploymentID); err != nil {
		return err
	}
	job.DeploymentID = nil

	if tmpl.GitOpsEnabled() && deployment.GitBranch != "" {
		if berr := w.engine.branches.DeleteBranch(ctx, tmpl.GitRepoURL, deployment.GitBranch); berr != nil {
			w.logger.Warn().
				Err(berr).
				Str("branch", deployment.GitBranch).
				Msg("Failed to delete deployment branch")
		}
	}

	if err = w.engine.repo.DeleteDeployment(ctx, deploymentID); err != nil {
		return err
	}

	if err = w.engine.repo.MarkJobSuccess(ctx, job, map[string]interface{}{
		"stack_not_found": result.StackNotFound,
	}); err != nil {
		return err
	}

	w.logger.Info().
		Str("deployment_id", deploymentID.String()).
		Str("stack", deployment.StackName).
		Bool("stack_not_found", result.StackNotFound).
		Msg("Infrastructure destroyed")

	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   params.UserID,
		Title:    "Deployment destroyed",
		Message:  fmt.Sprintf("Deployment %q and its resources were removed.", deployment.Name),
		Severity: notify.SeverityInfo,
	})

	return nil
}

// createInfrastructureDeployment records a fresh PROVISIONING deployment and
// links the job to it.
func (w *Worker) createInfrastructureDeployment(ctx context.Context, job *state.Job, params *queue.ProvisionInfrastructureParams, tmpl *template.TemplateRef) (*state.Deployment, error) {
	name := params.DeploymentName
	if name == "" {
		name = params.PluginID
	}

	deployment := &state.Deployment{
		ID:             uuid.New(),
		Name:           name,
		DeploymentType: state.TypeInfrastructure,
		PluginID:       params.PluginID,
		Version:        params.Version,
		Status:         state.StatusProvisioning,
		CloudProvider:  tmpl.Manifest.CloudProvider,
		CredentialName: params.CredentialName,
		CreatedBy:      params.UserID,
	}
	deployment.StackName = stackNameFor(name, deployment.ID)

	if err := w.engine.repo.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	job.DeploymentID = &deployment.ID
	if err := w.engine.repo.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	return deployment, nil
}

// exchangeCredentials obtains short-lived credentials when the blueprint
// targets a cloud. A provider with no identity to exchange is a hard failure
// before any IaC call.
func (w *Worker) exchangeCredentials(ctx context.Context, provider, userID string) (*credentials.Credentials, error) {
	if provider == "" {
		return nil, nil
	}

	creds, err := w.engine.broker.Exchange(ctx, provider, userID)
	if err != nil {
		return nil, fmt.Errorf("credential exchange for %s: %w", provider, err)
	}
	return creds, nil
}

// forceResourceIdentity pins the manifest's identity input to the value the
// deployment was created with so an update can never rename the underlying
// resource.
func forceResourceIdentity(deployment *state.Deployment, identityKey string, inputs map[string]interface{}) error {
	if identityKey == "" {
		return nil
	}

	stored, err := deployment.InputsMap()
	if err != nil {
		return fmt.Errorf("decode stored inputs: %w", err)
	}

	if value, ok := stored[identityKey]; ok {
		inputs[identityKey] = value
	}
	return nil
}

func (w *Worker) appendHistory(ctx context.Context, deployment *state.Deployment, job *state.Job, userID, description string, inputs, outputs map[string]interface{}) error {
	encodedInputs, err := encodeMap(inputs)
	if err != nil {
		return fmt.Errorf("encode history inputs: %w", err)
	}
	encodedOutputs, err := encodeMap(outputs)
	if err != nil {
		return fmt.Errorf("encode history outputs: %w", err)
	}

	return w.engine.repo.AppendHistory(ctx, &state.DeploymentHistory{
		DeploymentID: deployment.ID,
		Inputs:       encodedInputs,
		Outputs:      encodedOutputs,
		Status:       state.StatusActive,
		JobID:        &job.ID,
		CreatedBy:    userID,
		Description:  description,
	})
}

// failProvision is the single failure path for provision tasks. An update
// failure leaves the deployment ACTIVE on its previous version; a first-time
// provisioning failure is terminal.
func (w *Worker) failProvision(ctx context.Context, job *state.Job, deployment *state.Deployment, isUpdate bool, userID string, cause error) {
	class, message := classifyFailure(cause)

	w.logger.Error().
		Err(cause).
		Str("job_id", job.ID.String()).
		Str("error_state", class).
		Bool("update", isUpdate).
		Msg("Provision task failed")

	if err := w.engine.repo.MarkJobFailed(ctx, job, class, message); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist job failure")
	}

	if deployment != nil {
		var err error
		if isUpdate {
			err = w.engine.repo.MarkUpdateFailed(ctx, deployment, message)
		} else {
			err = w.engine.repo.MarkFailed(ctx, deployment, message)
		}
		if err != nil {
			w.logger.Error().Err(err).Str("deployment_id", deployment.ID.String()).Msg("Failed to persist deployment failure")
		}
	}

	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   userID,
		Title:    "Deployment failed",
		Message:  fmt.Sprintf("Provisioning failed (%s): %s. Resubmit the job or contact an administrator.", class, message),
		Severity: notify.SeverityError,
		Link:     failureLink(deployment),
	})
}

// failDestroy marks the deployment FAILED and the job FAILED. Nothing is
// deleted on a failed destroy; the record stays for a manual retry.
func (w *Worker) failDestroy(ctx context.Context, job *state.Job, deployment *state.Deployment, userID string, cause error) {
	class, message := classifyFailure(cause)

	w.logger.Error().
		Err(cause).
		Str("job_id", job.ID.String()).
		Str("error_state", class).
		Msg("Destroy task failed")

	if err := w.engine.repo.MarkJobFailed(ctx, job, class, message); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist job failure")
	}

	if deployment != nil {
		if err := w.engine.repo.MarkFailed(ctx, deployment, message); err != nil {
			w.logger.Error().Err(err).Str("deployment_id", deployment.ID.String()).Msg("Failed to persist deployment failure")
		}
	}

	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   userID,
		Title:    "Destroy failed",
		Message:  fmt.Sprintf("Teardown failed (%s): %s. Resubmit the job or contact an administrator.", class, message),
		Severity: notify.SeverityError,
		Link:     failureLink(deployment),
	})
}

// classifyFailure extracts the text the classifier inspects. Structured
// engine failures expose their raw output, which is far more telling than
// the wrapping error chain.
func classifyFailure(cause error) (class, message string) {
	var engineErr *iac.EngineError
	if errors.As(cause, &engineErr) {
		return ClassifyError(engineErr.FailureText()), engineErr.Error()
	}
	return ClassifyError(cause.Error()), cause.Error()
}

func cloneInputs(inputs map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		cloned[k] = v
	}
	return cloned
}

func deploymentLink(id uuid.UUID) string {
	return "/deployments/" + id.String()
}

func failureLink(deployment *state.Deployment) string {
	if deployment == nil {
		return ""
	}
	return deploymentLink(deployment.ID)
}
