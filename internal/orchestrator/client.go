package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
)

// Client submits tasks to the dispatcher. It needs only the queue and the
// state store, so API handlers and the CLI can enqueue work without carrying
// the worker-side dependencies.
type Client struct {
	queue  TaskQueue
	repo   *state.Repository
	logger zerolog.Logger
}

// NewClient creates a task submission client
func NewClient(taskQueue TaskQueue, repo *state.Repository, logger zerolog.Logger) *Client {
	return &Client{
		queue:  taskQueue,
		repo:   repo,
		logger: logger.With().Str("component", "orchestrator-client").Logger(),
	}
}

// Repo exposes the state repository for read-model consumers.
func (c *Client) Repo() *state.Repository {
	return c.repo
}

// SubmitProvisionInfrastructure accepts a provision or update request.
// For an update (DeploymentID set) the update overlay is claimed before
// any Job is created: a conflicting request is rejected here and leaves no
// trace.
func (c *Client) SubmitProvisionInfrastructure(ctx context.Context, params *queue.ProvisionInfrastructureParams) (*state.Job, error) {
	jobID := uuid.New()
	params.JobID = jobID.String()

	var deploymentID *uuid.UUID
	if params.DeploymentID != "" {
		parsed, err := uuid.Parse(params.DeploymentID)
		if err != nil {
			return nil, fmt.Errorf("parse deployment ID: %w", err)
		}

		if err := c.repo.BeginUpdate(ctx, parsed, jobID); err != nil {
			return nil, err
		}
		deploymentID = &parsed
	}

	job, err := c.createJob(ctx, jobID, queue.TaskProvisionInfrastructure, deploymentID, params)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, queue.TaskProvisionInfrastructure, params.JobID, params); err != nil {
		return nil, err
	}

	return job, nil
}

// SubmitRollback re-enqueues a provision task using the inputs stored for
// the requested history version, verbatim. Preconditions mirror update:
// ACTIVE, not already updating, infrastructure only.
func (c *Client) SubmitRollback(ctx context.Context, deploymentID uuid.UUID, version int, userID string) (*state.Job, error) {
	deployment, err := c.repo.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	entry, err := c.repo.GetHistoryVersion(ctx, deploymentID, version)
	if err != nil {
		return nil, err
	}

	inputs, err := entry.InputsMap()
	if err != nil {
		return nil, err
	}

	jobID := uuid.New()
	if err := c.repo.BeginUpdate(ctx, deploymentID, jobID); err != nil {
		return nil, err
	}

	params := &queue.ProvisionInfrastructureParams{
		JobID:          jobID.String(),
		PluginID:       deployment.PluginID,
		Version:        deployment.Version,
		Inputs:         inputs,
		CredentialName: deployment.CredentialName,
		DeploymentID:   deploymentID.String(),
		UserID:         userID,
		Description:    fmt.Sprintf("Rollback to version %d", version),
	}

	job, err := c.createJob(ctx, jobID, queue.TaskProvisionInfrastructure, &deploymentID, params)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, queue.TaskProvisionInfrastructure, params.JobID, params); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("deployment_id", deploymentID.String()).
		Int("version", version).
		Str("job_id", params.JobID).
		Msg("Rollback submitted")

	return job, nil
}

// SubmitDestroyInfrastructure accepts a destroy request for an
// infrastructure deployment.
func (c *Client) SubmitDestroyInfrastructure(ctx context.Context, deploymentID uuid.UUID, userID string) (*state.Job, error) {
	if _, err := c.repo.GetDeployment(ctx, deploymentID); err != nil {
		return nil, err
	}

	jobID := uuid.New()
	params := &queue.DestroyInfrastructureParams{
		JobID:        jobID.String(),
		DeploymentID: deploymentID.String(),
		UserID:       userID,
	}

	job, err := c.createJob(ctx, jobID, queue.TaskDestroyInfrastructure, &deploymentID, params)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, queue.TaskDestroyInfrastructure, params.JobID, params); err != nil {
		return nil, err
	}

	return job, nil
}

// SubmitProvisionMicroservice accepts a microservice repository creation
// request. DeploymentID, when set, must name an existing microservice
// deployment; the task then provisions against that record instead of
// minting a new one.
func (c *Client) SubmitProvisionMicroservice(ctx context.Context, params *queue.ProvisionMicroserviceParams) (*state.Job, error) {
	jobID := uuid.New()
	params.JobID = jobID.String()

	var deploymentID *uuid.UUID
	if params.DeploymentID != "" {
		parsed, err := uuid.Parse(params.DeploymentID)
		if err != nil {
			return nil, fmt.Errorf("parse deployment ID: %w", err)
		}
		if _, err := c.repo.GetDeployment(ctx, parsed); err != nil {
			return nil, err
		}
		deploymentID = &parsed
	}

	job, err := c.createJob(ctx, jobID, queue.TaskProvisionMicroservice, deploymentID, params)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, queue.TaskProvisionMicroservice, params.JobID, params); err != nil {
		return nil, err
	}

	return job, nil
}

// SubmitDestroyMicroservice accepts a microservice deletion request.
func (c *Client) SubmitDestroyMicroservice(ctx context.Context, deploymentID uuid.UUID, userID string) (*state.Job, error) {
	if _, err := c.repo.GetDeployment(ctx, deploymentID); err != nil {
		return nil, err
	}

	jobID := uuid.New()
	params := &queue.DestroyMicroserviceParams{
		JobID:        jobID.String(),
		DeploymentID: deploymentID.String(),
		UserID:       userID,
	}

	job, err := c.createJob(ctx, jobID, queue.TaskDestroyMicroservice, &deploymentID, params)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(ctx, queue.TaskDestroyMicroservice, params.JobID, params); err != nil {
		return nil, err
	}

	return job, nil
}

// RetryJob resubmits a terminal job. The same Job row is reset to PENDING
// and re-enqueued with its original parameters; no new Job is created.
func (c *Client) RetryJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	params, err := decodeParams(job.Inputs)
	if err != nil {
		return err
	}

	// A retried update must hold the same overlay claim a fresh update
	// would, or a second update could be accepted while this one runs.
	if queue.TaskKind(job.TaskKind) == queue.TaskProvisionInfrastructure && job.DeploymentID != nil {
		deployment, derr := c.repo.GetDeployment(ctx, *job.DeploymentID)
		if derr != nil {
			return derr
		}
		if deployment.Status == state.StatusActive {
			if err := c.repo.BeginUpdate(ctx, deployment.ID, job.ID); err != nil {
				return err
			}
		}
	}

	if err := c.repo.ResetJobForRetry(ctx, job); err != nil {
		return err
	}

	if err := c.queue.Enqueue(ctx, &queue.Task{
		JobID:  job.ID.String(),
		Kind:   queue.TaskKind(job.TaskKind),
		Params: params,
	}); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}

	c.logger.Info().
		Str("job_id", job.ID.String()).
		Str("kind", job.TaskKind).
		Msg("Job resubmitted")

	return nil
}

// createJob records the task parameters on the Job row so a manual retry
// can reconstruct the task.
func (c *Client) createJob(ctx context.Context, jobID uuid.UUID, kind queue.TaskKind, deploymentID *uuid.UUID, params interface{}) (*state.Job, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode job inputs: %w", err)
	}

	job := &state.Job{
		ID:           jobID,
		TaskKind:     string(kind),
		Status:       state.JobPending,
		DeploymentID: deploymentID,
		Inputs:       string(encoded),
	}
	if err := c.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

func (c *Client) enqueue(ctx context.Context, kind queue.TaskKind, jobID string, params interface{}) error {
	paramsMap, err := toParamsMap(params)
	if err != nil {
		return err
	}

	task := &queue.Task{
		JobID:  jobID,
		Kind:   kind,
		Params: paramsMap,
	}

	if err := c.queue.Enqueue(ctx, task); err != nil {
		c.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("kind", string(kind)).
			Msg("Failed to enqueue task")
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}

	return nil
}
