package queue

import (
	"time"
)

// TaskKind identifies which worker handler a task is dispatched to
type TaskKind string

const (
	// TaskProvisionInfrastructure creates or updates an IaC stack
	TaskProvisionInfrastructure TaskKind = "provision_infrastructure"

	// TaskDestroyInfrastructure tears an IaC stack down
	TaskDestroyInfrastructure TaskKind = "destroy_infrastructure"

	// TaskProvisionMicroservice creates a hosted repository from a template
	TaskProvisionMicroservice TaskKind = "provision_microservice"

	// TaskDestroyMicroservice deletes a hosted repository
	TaskDestroyMicroservice TaskKind = "destroy_microservice"
)

// Kinds lists every task kind a worker polls, in dispatch order.
func Kinds() []TaskKind {
	return []TaskKind{
		TaskProvisionInfrastructure,
		TaskDestroyInfrastructure,
		TaskProvisionMicroservice,
		TaskDestroyMicroservice,
	}
}

// Task is one work item. Delivery is at-least-once and there is no
// automatic retry: a failed task stays terminal until a human resubmits it,
// which re-enqueues the same job id with its row reset to PENDING.
type Task struct {
	JobID      string                 `json:"job_id"`
	Kind       TaskKind               `json:"kind"`
	Params     map[string]interface{} `json:"params"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// ProvisionInfrastructureParams carries a provision or in-place update
// request for an infrastructure deployment.
type ProvisionInfrastructureParams struct {
	JobID          string                 `json:"job_id"`
	PluginID       string                 `json:"plugin_id"`
	Version        string                 `json:"version"`
	Inputs         map[string]interface{} `json:"inputs"`
	CredentialName string                 `json:"credential_name,omitempty"`
	DeploymentID   string                 `json:"deployment_id,omitempty"`
	DeploymentName string                 `json:"deployment_name,omitempty"`
	UserID         string                 `json:"user_id"`
	Description    string                 `json:"description,omitempty"`
}

// DestroyInfrastructureParams carries a destroy request.
type DestroyInfrastructureParams struct {
	JobID        string `json:"job_id"`
	DeploymentID string `json:"deployment_id"`
	UserID       string `json:"user_id"`
}

// ProvisionMicroserviceParams carries a microservice repository creation
// request.
type ProvisionMicroserviceParams struct {
	JobID    string `json:"job_id"`
	PluginID string `json:"plugin_id"`
	Version  string `json:"version"`
	Name     string `json:"name"`
	UserID   string `json:"user_id"`

	// DeploymentID references an existing microservice deployment to
	// provision again; empty creates a new one.
	DeploymentID string `json:"deployment_id,omitempty"`
}

// DestroyMicroserviceParams carries a microservice deletion request.
type DestroyMicroserviceParams struct {
	JobID        string `json:"job_id"`
	DeploymentID string `json:"deployment_id"`
	UserID       string `json:"user_id"`
}
