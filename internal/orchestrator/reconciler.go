package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/stack-orchestrator/internal/state"
)

// Reconciler periodically sweeps deployments stuck in transient states. A
// worker crash between dequeue and the terminal write leaves a deployment
// PROVISIONING (or updating) forever; the sweep forces those to a failed
// state so operators see reality instead of a perpetual spinner.
type Reconciler struct {
	repo         *state.Repository
	interval     time.Duration
	stuckTimeout time.Duration
	logger       zerolog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(repo *state.Repository, interval, stuckTimeout time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if stuckTimeout <= 0 {
		stuckTimeout = time.Hour
	}

	return &Reconciler{
		repo:         repo,
		interval:     interval,
		stuckTimeout: stuckTimeout,
		logger:       logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info().
		Dur("interval", r.interval).
		Dur("stuck_timeout", r.stuckTimeout).
		Msg("Reconciler starting")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciler stopped")
			return
		case <-ticker.C:
			if swept, err := r.Sweep(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation sweep failed")
			} else if swept > 0 {
				r.logger.Info().Int("swept", swept).Msg("Reconciliation sweep forced failures")
			}
		}
	}
}

// Sweep examines every in-progress deployment once and returns how many were
// forced to a failed state.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	deployments, err := r.repo.ListDeploymentsInProgress(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range deployments {
		deployment := &deployments[i]

		forced, err := r.reconcile(ctx, deployment)
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("deployment_id", deployment.ID.String()).
				Msg("Failed to reconcile deployment")
			continue
		}
		if forced {
			swept++
		}
	}

	return swept, nil
}

func (r *Reconciler) reconcile(ctx context.Context, deployment *state.Deployment) (bool, error) {
	job, err := r.repo.GetLatestJobForDeployment(ctx, deployment.ID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			return false, err
		}

		// In-progress deployment with no job at all. Give the dispatcher a
		// grace period before declaring it orphaned.
		if time.Since(deployment.CreatedAt) < r.stuckTimeout {
			return false, nil
		}
		return true, r.forceFailed(ctx, deployment, "no job observed for in-progress deployment")
	}

	switch job.Status {
	case state.JobFailed:
		// The handler died between writing the job failure and the
		// deployment state; finish its work.
		reason := job.ErrorMessage
		if reason == "" {
			reason = "task failed"
		}
		return true, r.forceFailed(ctx, deployment, reason)

	case state.JobPending, state.JobRunning:
		age := time.Since(job.UpdatedAt)
		if age < r.stuckTimeout {
			return false, nil
		}

		reason := fmt.Sprintf("task %s stuck in %s for %s", job.ID, job.Status, age.Round(time.Second))
		if err := r.repo.MarkJobFailed(ctx, job, ErrClassUnknown, reason); err != nil {
			return false, err
		}
		return true, r.forceFailed(ctx, deployment, reason)
	}

	// Latest job succeeded; the deployment will settle on its own.
	return false, nil
}

// forceFailed applies the same branching as the task failure path: an
// interrupted update leaves the deployment ACTIVE on its previous version,
// an interrupted first provisioning is terminal.
func (r *Reconciler) forceFailed(ctx context.Context, deployment *state.Deployment, reason string) error {
	r.logger.Warn().
		Str("deployment_id", deployment.ID.String()).
		Str("status", deployment.Status).
		Str("reason", reason).
		Msg("Forcing stuck deployment to failed state")

	if deployment.Status == state.StatusActive && deployment.IsUpdating() {
		return r.repo.MarkUpdateFailed(ctx, deployment, reason)
	}
	return r.repo.MarkFailed(ctx, deployment, reason)
}
