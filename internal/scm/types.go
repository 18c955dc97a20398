package scm

import (
	"context"
)

// RepoHost is the source-control hosting provider used by the microservice
// flow. Creation-path calls are fatal on failure; destroy-path calls are
// best-effort and only logged.
type RepoHost interface {
	// CreateRepository creates an empty hosted repository and returns its
	// identity.
	CreateRepository(ctx context.Context, req *CreateRepositoryRequest) (*Repository, error)

	// DeleteRepository removes a hosted repository.
	DeleteRepository(ctx context.Context, owner, name string) error

	// CreateWebhook registers a webhook for external CI status.
	CreateWebhook(ctx context.Context, owner, name, targetURL string) error
}

// CreateRepositoryRequest describes a repository to create.
type CreateRepositoryRequest struct {
	Owner       string
	Name        string
	Description string
	Private     bool
}

// Repository is the hosted repository identity recorded on the Deployment.
type Repository struct {
	Owner    string
	Name     string
	CloneURL string
	HTMLURL  string
}
