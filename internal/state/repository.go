package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sentinel errors surfaced to callers so the API layer can map them to
// 404/409 responses.
var (
	ErrNotFound = errors.New("record not found")
)

// Repository provides database operations for deployments, history and jobs
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new state repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for transaction-scoped helpers.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateDeployment creates a new deployment record
func (r *Repository) CreateDeployment(ctx context.Context, deployment *Deployment) error {
	if deployment.ID == uuid.Nil {
		deployment.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(deployment).Error; err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID
func (r *Repository) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	var deployment Deployment

	if err := r.db.WithContext(ctx).First(&deployment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return &deployment, nil
}

// UpdateDeployment saves a full deployment record
func (r *Repository) UpdateDeployment(ctx context.Context, deployment *Deployment) error {
	if err := r.db.WithContext(ctx).Save(deployment).Error; err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	return nil
}

// UpdateDeploymentStatus updates only the status of a deployment
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	if err := r.db.WithContext(ctx).
		Model(&Deployment{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	return nil
}

// DeleteDeployment removes a deployment record and its history rows.
// Infrastructure deployments are removed outright; Jobs must be unlinked by
// the caller first so the audit trail survives.
func (r *Repository) DeleteDeployment(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Where("deployment_id = ?", id).
		Delete(&DeploymentHistory{}).Error; err != nil {
		return fmt.Errorf("failed to delete deployment history: %w", err)
	}

	if err := r.db.WithContext(ctx).Delete(&Deployment{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	return nil
}

// ListDeployments retrieves all deployment records, newest first
func (r *Repository) ListDeployments(ctx context.Context) ([]Deployment, error) {
	var deployments []Deployment

	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&deployments).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	return deployments, nil
}

// ListDeploymentsInProgress retrieves deployments the reconciler cares
// about: status PROVISIONING, or an in-flight update overlay.
func (r *Repository) ListDeploymentsInProgress(ctx context.Context) ([]Deployment, error) {
	var deployments []Deployment

	if err := r.db.WithContext(ctx).
		Where("status = ? OR update_status = ?", StatusProvisioning, UpdateStatusUpdating).
		Order("created_at ASC").
		Find(&deployments).Error; err != nil {
		return nil, fmt.Errorf("failed to list in-progress deployments: %w", err)
	}

	return deployments, nil
}

// CreateJob creates a job record
func (r *Repository) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobPending
	}

	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job

	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// UpdateJob saves a full job record
func (r *Repository) UpdateJob(ctx context.Context, job *Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// GetLatestJobForDeployment retrieves the most recent job referencing a
// deployment, or ErrNotFound when none exists.
func (r *Repository) GetLatestJobForDeployment(ctx context.Context, deploymentID uuid.UUID) (*Job, error) {
	var job Job

	if err := r.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("created_at DESC").
		First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("jobs for deployment %s: %w", deploymentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	return &job, nil
}

// UnlinkJobs clears the deployment reference on every job pointing at the
// given deployment, preserving the rows for audit.
func (r *Repository) UnlinkJobs(ctx context.Context, deploymentID uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Model(&Job{}).
		Where("deployment_id = ?", deploymentID).
		Update("deployment_id", nil).Error; err != nil {
		return fmt.Errorf("failed to unlink jobs: %w", err)
	}

	return nil
}

// ListHistory retrieves all history rows for a deployment in version order
func (r *Repository) ListHistory(ctx context.Context, deploymentID uuid.UUID) ([]DeploymentHistory, error) {
	var history []DeploymentHistory

	if err := r.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("version_number ASC").
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return history, nil
}

// GetHistoryVersion retrieves one history row by deployment and version number
func (r *Repository) GetHistoryVersion(ctx context.Context, deploymentID uuid.UUID, version int) (*DeploymentHistory, error) {
	var entry DeploymentHistory

	if err := r.db.WithContext(ctx).
		Where("deployment_id = ? AND version_number = ?", deploymentID, version).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("history version %d for deployment %s: %w", version, deploymentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get history version: %w", err)
	}

	return &entry, nil
}
