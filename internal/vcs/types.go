package vcs

import (
	"context"
	"strings"
)

// BranchManager maintains the GitOps branch of a deployment: one branch per
// deployment, created from the plugin's template branch and reused for every
// later update and rollback.
type BranchManager interface {
	// PrepareBranch clones the template, checks out (or creates) the
	// deployment branch, injects stack configuration when inputs are given,
	// commits and pushes. It returns the working tree for the IaC engine.
	PrepareBranch(ctx context.Context, req *PrepareRequest) (*Checkout, error)

	// InitAndPush turns a plain directory into the initial commit of a
	// freshly created hosted repository.
	InitAndPush(ctx context.Context, dir, repoURL, branch string) error

	// DeleteBranch force-deletes a remote branch.
	DeleteBranch(ctx context.Context, repoURL, branch string) error
}

// PrepareRequest describes one branch materialization.
type PrepareRequest struct {
	RepoURL        string
	TemplateBranch string

	// Branch is the deployment's branch. Created from the template branch
	// when it does not exist on the remote yet, reused otherwise.
	Branch string

	// StackName selects the Pulumi.<stack>.yaml file that receives the
	// injected configuration.
	StackName string

	// Inputs to inject. Nil means materialize only (destroy path).
	Inputs map[string]interface{}

	// Dir is the clone destination, private to the task invocation.
	Dir string
}

// Checkout is a materialized working tree.
type Checkout struct {
	Dir     string
	Branch  string
	Created bool // true when the deployment branch was created this run
}

// SanitizeBranchName derives a safe deployment branch name from a
// user-supplied deployment name.
func SanitizeBranchName(name string) string {
	var b strings.Builder
	lastDash := true // swallow leading dashes

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	sanitized := strings.Trim(b.String(), "-.")
	if sanitized == "" {
		sanitized = "deployment"
	}

	return "deploy/" + sanitized
}
