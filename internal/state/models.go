package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Deployment lifecycle statuses
const (
	StatusProvisioning = "PROVISIONING"
	StatusActive       = "ACTIVE"
	StatusFailed       = "FAILED"
	StatusDeleting     = "DELETING"
	StatusDeleted      = "DELETED"
)

// Update overlay statuses. The overlay tracks in-place modification of an
// ACTIVE deployment independently of the primary status.
const (
	UpdateStatusUpdating  = "updating"
	UpdateStatusSucceeded = "update_succeeded"
	UpdateStatusFailed    = "update_failed"
)

// Deployment types
const (
	TypeInfrastructure = "infrastructure"
	TypeMicroservice   = "microservice"
)

// Job statuses. There are no retry states: a manual retry resets the
// existing row to PENDING.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobSuccess = "SUCCESS"
	JobFailed  = "FAILED"
)

// Deployment is one provisioned resource: an infrastructure stack or a
// microservice repository. StackName and GitBranch are set once and reused
// by every subsequent update and rollback.
type Deployment struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	Name           string    `gorm:"not null"`
	DeploymentType string    `gorm:"not null"`
	PluginID       string    `gorm:"not null"`
	Version        string
	Status         string `gorm:"not null"`
	UpdateStatus   *string
	StackName      string
	GitBranch      string
	RepoURL        string // microservice flow: hosted repository identity
	CloudProvider  string
	CredentialName string
	CreatedBy      string
	Inputs         string `gorm:"type:jsonb"`
	Outputs        string `gorm:"type:jsonb"`

	LastUpdateJobID       *uuid.UUID `gorm:"type:uuid"`
	LastUpdateError       string
	LastUpdateAttemptedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	History []DeploymentHistory `gorm:"foreignKey:DeploymentID"`
}

// DeploymentHistory is append-only: one row per successful apply, with
// version numbers contiguous from 1.
type DeploymentHistory struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	DeploymentID  uuid.UUID `gorm:"type:uuid;not null;index"`
	VersionNumber int       `gorm:"not null"`
	Inputs        string    `gorm:"type:jsonb"`
	Outputs       string    `gorm:"type:jsonb"`
	Status        string
	JobID         *uuid.UUID `gorm:"type:uuid"`
	CreatedBy     string
	Description   string
	CreatedAt     time.Time
}

// Job is one task execution attempt. DeploymentID is nullable so a Job can
// be unlinked from a deleted Deployment without losing the audit record.
type Job struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key"`
	TaskKind     string     `gorm:"not null"`
	Status       string     `gorm:"not null"`
	DeploymentID *uuid.UUID `gorm:"type:uuid;index"`
	ErrorState   string
	ErrorMessage string
	Inputs       string `gorm:"type:jsonb"`
	Outputs      string `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsUpdating reports whether the update overlay holds the in-flight marker.
func (d *Deployment) IsUpdating() bool {
	return d.UpdateStatus != nil && *d.UpdateStatus == UpdateStatusUpdating
}

// InputsMap decodes the stored inputs blob.
func (d *Deployment) InputsMap() (map[string]interface{}, error) {
	return decodeJSONMap(d.Inputs)
}

// OutputsMap decodes the stored outputs blob.
func (d *Deployment) OutputsMap() (map[string]interface{}, error) {
	return decodeJSONMap(d.Outputs)
}

// SetInputs stores the given map as the inputs blob.
func (d *Deployment) SetInputs(inputs map[string]interface{}) error {
	encoded, err := encodeJSONMap(inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	d.Inputs = encoded
	return nil
}

// SetOutputs stores the given map as the outputs blob.
func (d *Deployment) SetOutputs(outputs map[string]interface{}) error {
	encoded, err := encodeJSONMap(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	d.Outputs = encoded
	return nil
}

// InputsMap decodes the inputs snapshot of this history version.
func (h *DeploymentHistory) InputsMap() (map[string]interface{}, error) {
	return decodeJSONMap(h.Inputs)
}

func decodeJSONMap(blob string) (map[string]interface{}, error) {
	if blob == "" {
		return map[string]interface{}{}, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("decode json blob: %w", err)
	}
	return m, nil
}

func encodeJSONMap(m map[string]interface{}) (string, error) {
	if m == nil {
		m = map[string]interface{}{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AutoMigrate runs database migrations for the orchestration models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Deployment{},
		&DeploymentHistory{},
		&Job{},
	)
}
