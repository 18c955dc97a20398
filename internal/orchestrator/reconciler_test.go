package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/stack-orchestrator/internal/state"
)

func newTestReconciler(f *fixture, stuckTimeout time.Duration) *Reconciler {
	return NewReconciler(f.repo, time.Minute, stuckTimeout, zerolog.Nop())
}

func backdateJob(t *testing.T, f *fixture, job *state.Job, age time.Duration) {
	t.Helper()
	require.NoError(t, f.repo.DB().Model(job).
		Update("updated_at", time.Now().Add(-age)).Error)
}

func TestSweepForcesStuckProvisioningToFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusProvisioning,
	}
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))

	job := &state.Job{
		TaskKind:     "provision_infrastructure",
		Status:       state.JobRunning,
		DeploymentID: &deployment.ID,
	}
	require.NoError(t, f.repo.CreateJob(ctx, job))
	backdateJob(t, f, job, 3*time.Hour)

	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := f.repo.GetDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, updated.Status)

	failedJob, err := f.repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.JobFailed, failedJob.Status)
}

func TestSweepLeavesFreshWorkAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusProvisioning,
	}
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))

	job := &state.Job{
		TaskKind:     "provision_infrastructure",
		Status:       state.JobRunning,
		DeploymentID: &deployment.ID,
	}
	require.NoError(t, f.repo.CreateJob(ctx, job))
	backdateJob(t, f, job, 10*time.Minute)

	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	updated, err := f.repo.GetDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusProvisioning, updated.Status)
}

func TestSweepFinishesWorkOfDeadHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Job failed but the handler died before writing the deployment state.
	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusProvisioning,
	}
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))

	job := &state.Job{
		TaskKind:     "provision_infrastructure",
		Status:       state.JobFailed,
		DeploymentID: &deployment.ID,
		ErrorMessage: "pulumi up failed",
	}
	require.NoError(t, f.repo.CreateJob(ctx, job))

	// A failed latest job is swept regardless of age.
	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := f.repo.GetDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, updated.Status)
	assert.Equal(t, "pulumi up failed", updated.LastUpdateError)
}

func TestSweepInterruptedUpdateKeepsDeploymentActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusActive,
	}
	marker := state.UpdateStatusUpdating
	deployment.UpdateStatus = &marker
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))

	job := &state.Job{
		TaskKind:     "provision_infrastructure",
		Status:       state.JobRunning,
		DeploymentID: &deployment.ID,
	}
	require.NoError(t, f.repo.CreateJob(ctx, job))
	backdateJob(t, f, job, 2*time.Hour)

	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := f.repo.GetDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusActive, updated.Status, "interrupted update follows the update failure branch")
	require.NotNil(t, updated.UpdateStatus)
	assert.Equal(t, state.UpdateStatusFailed, *updated.UpdateStatus)
}

func TestSweepOrphanedDeploymentWithoutJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusProvisioning,
	}
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))
	require.NoError(t, f.repo.DB().Model(deployment).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	updated, err := f.repo.GetDeployment(ctx, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, updated.Status)
}

func TestSweepGraceForFreshDeploymentWithoutJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployment := &state.Deployment{
		Name:           "analytics",
		DeploymentType: state.TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         state.StatusProvisioning,
	}
	require.NoError(t, f.repo.CreateDeployment(ctx, deployment))

	swept, err := newTestReconciler(f, time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}
