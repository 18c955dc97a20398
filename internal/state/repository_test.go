package state

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to open test database")

	require.NoError(t, AutoMigrate(db), "failed to run migrations")

	return db
}

func newTestDeployment() *Deployment {
	return &Deployment{
		ID:             uuid.New(),
		Name:           "analytics-bucket",
		DeploymentType: TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Version:        "1.0.0",
		Status:         StatusProvisioning,
		StackName:      "analytics-bucket-ab12cd34",
		CreatedBy:      "user-1",
	}
}

func TestCreateDeployment(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := &Deployment{
		Name:           "analytics-bucket",
		DeploymentType: TypeInfrastructure,
		PluginID:       "gcp-bucket",
		Status:         StatusProvisioning,
	}

	err := repo.CreateDeployment(ctx, deployment)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, deployment.ID, "ID should be generated")
}

func TestGetDeployment(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))

	retrieved, err := repo.GetDeployment(ctx, deployment.ID)
	assert.NoError(t, err)
	assert.Equal(t, deployment.ID, retrieved.ID)
	assert.Equal(t, deployment.StackName, retrieved.StackName)
	assert.Equal(t, StatusProvisioning, retrieved.Status)
}

func TestGetDeploymentNotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.GetDeployment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDeploymentStatus(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))

	require.NoError(t, repo.UpdateDeploymentStatus(ctx, deployment.ID, StatusActive))

	updated, err := repo.GetDeployment(ctx, deployment.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusActive, updated.Status)
}

func TestListDeploymentsInProgress(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	provisioning := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, provisioning))

	active := newTestDeployment()
	active.ID = uuid.New()
	active.Status = StatusActive
	require.NoError(t, repo.CreateDeployment(ctx, active))

	updating := newTestDeployment()
	updating.ID = uuid.New()
	updating.Status = StatusActive
	marker := UpdateStatusUpdating
	updating.UpdateStatus = &marker
	require.NoError(t, repo.CreateDeployment(ctx, updating))

	inProgress, err := repo.ListDeploymentsInProgress(ctx)
	assert.NoError(t, err)
	require.Len(t, inProgress, 2)

	ids := []uuid.UUID{inProgress[0].ID, inProgress[1].ID}
	assert.Contains(t, ids, provisioning.ID)
	assert.Contains(t, ids, updating.ID)
	assert.NotContains(t, ids, active.ID)
}

func TestDeleteDeploymentRemovesHistory(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))
	require.NoError(t, repo.AppendHistory(ctx, &DeploymentHistory{
		DeploymentID: deployment.ID,
		Status:       StatusActive,
	}))

	require.NoError(t, repo.DeleteDeployment(ctx, deployment.ID))

	_, err := repo.GetDeployment(ctx, deployment.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := repo.ListHistory(ctx, deployment.ID)
	assert.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateJobDefaultsToPending(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	job := &Job{TaskKind: "provision_infrastructure"}
	require.NoError(t, repo.CreateJob(ctx, job))

	retrieved, err := repo.GetJob(ctx, job.ID)
	assert.NoError(t, err)
	assert.Equal(t, JobPending, retrieved.Status)
}

func TestGetLatestJobForDeployment(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))

	first := &Job{TaskKind: "provision_infrastructure", DeploymentID: &deployment.ID, Status: JobSuccess}
	require.NoError(t, repo.CreateJob(ctx, first))

	second := &Job{TaskKind: "provision_infrastructure", DeploymentID: &deployment.ID, Status: JobRunning}
	require.NoError(t, repo.CreateJob(ctx, second))
	// Force a later timestamp; sqlite timestamps can collide inside one test.
	require.NoError(t, repo.db.Model(second).Update("created_at", second.CreatedAt.Add(time.Second)).Error)

	latest, err := repo.GetLatestJobForDeployment(ctx, deployment.ID)
	assert.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestGetLatestJobForDeploymentNotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.GetLatestJobForDeployment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkJobsPreservesRows(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))

	job := &Job{TaskKind: "destroy_infrastructure", DeploymentID: &deployment.ID, Status: JobRunning}
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.UnlinkJobs(ctx, deployment.ID))

	retrieved, err := repo.GetJob(ctx, job.ID)
	assert.NoError(t, err)
	assert.Nil(t, retrieved.DeploymentID, "job should be unlinked, not deleted")
	assert.Equal(t, JobRunning, retrieved.Status)
}

func TestHistoryVersionsAreContiguous(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	deployment := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, deployment))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendHistory(ctx, &DeploymentHistory{
			DeploymentID: deployment.ID,
			Status:       StatusActive,
		}))
	}

	history, err := repo.ListHistory(ctx, deployment.ID)
	assert.NoError(t, err)
	require.Len(t, history, 3)
	for i, entry := range history {
		assert.Equal(t, i+1, entry.VersionNumber)
	}
}

func TestHistoryVersionsPerDeployment(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	first := newTestDeployment()
	require.NoError(t, repo.CreateDeployment(ctx, first))

	second := newTestDeployment()
	second.ID = uuid.New()
	require.NoError(t, repo.CreateDeployment(ctx, second))

	require.NoError(t, repo.AppendHistory(ctx, &DeploymentHistory{DeploymentID: first.ID, Status: StatusActive}))
	require.NoError(t, repo.AppendHistory(ctx, &DeploymentHistory{DeploymentID: first.ID, Status: StatusActive}))
	require.NoError(t, repo.AppendHistory(ctx, &DeploymentHistory{DeploymentID: second.ID, Status: StatusActive}))

	entry, err := repo.GetHistoryVersion(ctx, second.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, entry.VersionNumber)

	_, err = repo.GetHistoryVersion(ctx, second.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
