package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/alvesdmateus/stack-orchestrator/internal/notify"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/scm"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
)

// handleProvisionMicroservice creates a hosted repository seeded from the
// plugin template and records it as an ACTIVE microservice deployment.
func (w *Worker) handleProvisionMicroservice(ctx context.Context, task *queue.Task) (err error) {
	params, err := parseProvisionMicroserviceParams(task)
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
			err = fmt.Errorf("unexpected panic in microservice handler: %v", r)
		}
		if err != nil {
			// Microservices have no update flow, so failure is always the
			// first-deployment branch.
			w.failProvision(ctx, job, deployment, false, params.UserID, err)
		}
	}()

	tmpl, err := w.engine.catalog.GetTemplate(params.PluginID, params.Version)
	if err != nil {
		return err
	}

	// An explicit deployment ID (or the link left by an earlier attempt of
	// this job) targets an existing record; otherwise a new one is minted.
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
		if deployment.DeploymentType != state.TypeMicroservice {
			return fmt.Errorf("deployment %s is not a microservice", deployment.ID)
		}
		if err = w.engine.repo.UpdateDeploymentStatus(ctx, deployment.ID, state.StatusProvisioning); err != nil {
			return err
		}
		deployment.Status = state.StatusProvisioning
	} else {
		deployment = &state.Deployment{
			ID:             uuid.New(),
			Name:           params.Name,
			DeploymentType: state.TypeMicroservice,
			PluginID:       params.PluginID,
			Version:        params.Version,
			Status:         state.StatusProvisioning,
			CreatedBy:      params.UserID,
		}
		if err = w.engine.repo.CreateDeployment(ctx, deployment); err != nil {
			return err
		}
	}

	if job.DeploymentID == nil {
		job.DeploymentID = &deployment.ID
		if err = w.engine.repo.UpdateJob(ctx, job); err != nil {
			return err
		}
	}

	// Materialize the template content only. Reusing the template branch
	// keeps the template repository untouched: nothing to inject, nothing to
	// commit.
	mat, err := w.engine.materializer.Materialize(ctx, &template.MaterializeRequest{
		Template:       tmpl,
		Branch:         tmpl.GitBranch,
		DeploymentName: deployment.Name,
	})
	if err != nil {
		return err
	}
	defer os.RemoveAll(mat.WorkDir)

	seedDir := mat.WorkDir
	if tmpl.Manifest.TemplateSubdir != "" {
		seedDir = filepath.Join(mat.WorkDir, tmpl.Manifest.TemplateSubdir)
	}

	// Repository identity follows the record, not the request: a retried or
	// re-provisioned deployment keeps its original repository name.
	repoName := repoNameFor(deployment.Name)
	repo, err := w.engine.host.CreateRepository(ctx, &scm.CreateRepositoryRequest{
		Owner:       w.engine.repoOwner,
		Name:        repoName,
		Description: fmt.Sprintf("Microservice %s (from %s@%s)", deployment.Name, params.PluginID, params.Version),
		Private:     true,
	})
	if err != nil {
		return err
	}

	// The seed tree may itself be a clone; push a clean copy so the new
	// repository starts from a single initial commit.
	initDir, err := copySeedTree(seedDir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(initDir)

	if err = w.engine.branches.InitAndPush(ctx, initDir, repo.CloneURL, "main"); err != nil {
		return err
	}

	if tmpl.Manifest.CIWebhookURL != "" {
		if herr := w.engine.host.CreateWebhook(ctx, repo.Owner, repo.Name, tmpl.Manifest.CIWebhookURL); herr != nil {
			w.logger.Warn().
				Err(herr).
				Str("repo", repo.Name).
				Msg("Failed to register CI webhook")
		}
	}

	outputs := map[string]interface{}{
		"repo_url":  repo.HTMLURL,
		"clone_url": repo.CloneURL,
		"owner":     repo.Owner,
		"name":      repo.Name,
	}

	deployment.RepoURL = repo.HTMLURL
	if err = w.engine.repo.MarkActive(ctx, deployment, outputs); err != nil {
		return err
	}

	if err = w.appendHistory(ctx, deployment, job, params.UserID, "Repository created", nil, outputs); err != nil {
		return err
	}

	if err = w.engine.repo.MarkJobSuccess(ctx, job, outputs); err != nil {
		return err
	}

	w.logger.Info().
		Str("deployment_id", deployment.ID.String()).
		Str("repo", repo.Name).
		Msg("Microservice provisioned")

	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   params.UserID,
		Title:    "Microservice created",
		Message:  fmt.Sprintf("Repository for %q is ready.", deployment.Name),
		Severity: notify.SeverityInfo,
		Link:     repo.HTMLURL,
	})

	return nil
}

// handleDestroyMicroservice deletes the hosted repository best-effort and
// tombstones the deployment as DELETED. The record is kept, unlike the
// infrastructure destroy path.
func (w *Worker) handleDestroyMicroservice(ctx context.Context, task *queue.Task) (err error) {
	params, err := parseDestroyMicroserviceParams(task)
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
			err = fmt.Errorf("unexpected panic in microservice destroy handler: %v", r)
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

	if err = w.engine.repo.MarkDeleting(ctx, deploymentID); err != nil {
		return err
	}
	deployment.Status = state.StatusDeleting

	if derr := w.engine.host.DeleteRepository(ctx, w.engine.repoOwner, repoNameFor(deployment.Name)); derr != nil {
		w.logger.Warn().
			Err(derr).
			Str("deployment_id", deploymentID.String()).
			Msg("Failed to delete hosted repository")
	}

	if err = w.engine.repo.MarkDeleted(ctx, deploymentID); err != nil {
		return err
	}

	if err = w.engine.repo.MarkJobSuccess(ctx, job, nil); err != nil {
		return err
	}

	w.logger.Info().
		Str("deployment_id", deploymentID.String()).
		Str("name", deployment.Name).
		Msg("Microservice destroyed")

	w.engine.notifier.Notify(ctx, &notify.Notification{
		UserID:   params.UserID,
		Title:    "Microservice deleted",
		Message:  fmt.Sprintf("Microservice %q was deleted.", deployment.Name),
		Severity: notify.SeverityInfo,
	})

	return nil
}
