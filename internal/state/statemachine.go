package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Business conflicts raised by lifecycle transitions.
var (
	ErrUpdateInProgress = errors.New("deployment already has an update in progress")
	ErrNotActive        = errors.New("deployment is not in ACTIVE status")
	ErrNotInfra         = errors.New("operation only applies to infrastructure deployments")
)

// BeginUpdate places the in-flight update marker on an ACTIVE infrastructure
// deployment. It is the advisory lock of the system: at most one job may hold
// update_status = updating for a deployment at a time, and a second request
// must be rejected with a conflict rather than queued.
func (r *Repository) BeginUpdate(ctx context.Context, deploymentID, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deployment Deployment
		if err := tx.First(&deployment, "id = ?", deploymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("deployment %s: %w", deploymentID, ErrNotFound)
			}
			return fmt.Errorf("failed to get deployment: %w", err)
		}

		if deployment.DeploymentType != TypeInfrastructure {
			return ErrNotInfra
		}
		if deployment.Status != StatusActive {
			return fmt.Errorf("deployment %s is %s: %w", deploymentID, deployment.Status, ErrNotActive)
		}
		if deployment.IsUpdating() {
			return ErrUpdateInProgress
		}

		now := time.Now()
		updating := UpdateStatusUpdating
		deployment.UpdateStatus = &updating
		deployment.LastUpdateJobID = &jobID
		deployment.LastUpdateError = ""
		deployment.LastUpdateAttemptedAt = &now

		if err := tx.Save(&deployment).Error; err != nil {
			return fmt.Errorf("failed to mark deployment updating: %w", err)
		}
		return nil
	})
}

// MarkActive transitions a deployment to ACTIVE and stores its outputs.
// Used after the first successful apply.
func (r *Repository) MarkActive(ctx context.Context, deployment *Deployment, outputs map[string]interface{}) error {
	if err := deployment.SetOutputs(outputs); err != nil {
		return err
	}
	deployment.Status = StatusActive
	deployment.UpdateStatus = nil
	return r.UpdateDeployment(ctx, deployment)
}

// MarkUpdateSucceeded clears the in-flight marker, records the applied
// inputs/outputs and leaves status ACTIVE.
func (r *Repository) MarkUpdateSucceeded(ctx context.Context, deployment *Deployment, inputs, outputs map[string]interface{}) error {
	if err := deployment.SetInputs(inputs); err != nil {
		return err
	}
	if err := deployment.SetOutputs(outputs); err != nil {
		return err
	}

	succeeded := UpdateStatusSucceeded
	deployment.UpdateStatus = &succeeded
	deployment.LastUpdateError = ""
	return r.UpdateDeployment(ctx, deployment)
}

// MarkUpdateFailed records a failed in-place update. The deployment stays
// ACTIVE and usable; only the overlay flips to update_failed.
func (r *Repository) MarkUpdateFailed(ctx context.Context, deployment *Deployment, cause string) error {
	failed := UpdateStatusFailed
	deployment.UpdateStatus = &failed
	deployment.LastUpdateError = cause
	return r.UpdateDeployment(ctx, deployment)
}

// MarkFailed transitions a deployment to terminal FAILED.
func (r *Repository) MarkFailed(ctx context.Context, deployment *Deployment, cause string) error {
	deployment.Status = StatusFailed
	deployment.UpdateStatus = nil
	deployment.LastUpdateError = cause
	return r.UpdateDeployment(ctx, deployment)
}

// MarkDeleting flags the deployment before any destructive call so API
// readers see the in-progress state immediately.
func (r *Repository) MarkDeleting(ctx context.Context, deploymentID uuid.UUID) error {
	return r.UpdateDeploymentStatus(ctx, deploymentID, StatusDeleting)
}

// MarkDeleted tombstones a microservice deployment as terminal DELETED.
// Infrastructure deployments are removed outright via DeleteDeployment
// instead; the asymmetry is intentional and relied upon by audit views.
func (r *Repository) MarkDeleted(ctx context.Context, deploymentID uuid.UUID) error {
	return r.UpdateDeploymentStatus(ctx, deploymentID, StatusDeleted)
}

// AppendHistory writes the next version snapshot for a deployment. Version
// numbers are allocated max+1 inside a transaction so they stay contiguous
// and are never reused.
func (r *Repository) AppendHistory(ctx context.Context, entry *DeploymentHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&DeploymentHistory{}).
			Where("deployment_id = ?", entry.DeploymentID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("failed to read max history version: %w", err)
		}

		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.VersionNumber = maxVersion + 1

		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
}

// MarkJobRunning flips a job to RUNNING.
func (r *Repository) MarkJobRunning(ctx context.Context, job *Job) error {
	job.Status = JobRunning
	return r.UpdateJob(ctx, job)
}

// MarkJobSuccess records a successful attempt with its outputs.
func (r *Repository) MarkJobSuccess(ctx context.Context, job *Job, outputs map[string]interface{}) error {
	encoded, err := encodeJSONMap(outputs)
	if err != nil {
		return fmt.Errorf("encode job outputs: %w", err)
	}

	job.Status = JobSuccess
	job.Outputs = encoded
	job.ErrorState = ""
	job.ErrorMessage = ""
	return r.UpdateJob(ctx, job)
}

// MarkJobFailed records a failed attempt with its classified error.
func (r *Repository) MarkJobFailed(ctx context.Context, job *Job, errorState, errorMessage string) error {
	job.Status = JobFailed
	job.ErrorState = errorState
	job.ErrorMessage = errorMessage
	return r.UpdateJob(ctx, job)
}

// ResetJobForRetry returns a terminal job to PENDING. Manual retry reuses
// the same row so each attempt lineage keeps a single audit trail.
func (r *Repository) ResetJobForRetry(ctx context.Context, job *Job) error {
	if job.Status != JobFailed && job.Status != JobSuccess {
		return fmt.Errorf("job %s is %s, only terminal jobs can be retried", job.ID, job.Status)
	}

	job.Status = JobPending
	job.ErrorState = ""
	job.ErrorMessage = ""
	return r.UpdateJob(ctx, job)
}
