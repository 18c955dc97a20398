package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rs/zerolog"
)

// GitManager implements BranchManager with go-git over HTTPS token auth.
type GitManager struct {
	username string
	token    string
	author   string
	email    string
	logger   zerolog.Logger
}

// Config holds Git access configuration
type Config struct {
	Username    string
	Token       string
	AuthorName  string
	AuthorEmail string
}

// NewGitManager creates a branch manager
func NewGitManager(cfg Config, logger zerolog.Logger) *GitManager {
	if cfg.Username == "" {
		cfg.Username = "git"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "stack-orchestrator"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "orchestrator@noreply.local"
	}

	return &GitManager{
		username: cfg.Username,
		token:    cfg.Token,
		author:   cfg.AuthorName,
		email:    cfg.AuthorEmail,
		logger:   logger.With().Str("component", "vcs").Logger(),
	}
}

func (m *GitManager) auth() *githttp.BasicAuth {
	if m.token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: m.username, Password: m.token}
}

// PrepareBranch clones the template branch, reuses or creates the
// deployment branch, injects configuration and pushes the result.
func (m *GitManager) PrepareBranch(ctx context.Context, req *PrepareRequest) (*Checkout, error) {
	logger := m.logger.With().
		Str("repo", req.RepoURL).
		Str("branch", req.Branch).
		Logger()

	repo, err := git.PlainCloneContext(ctx, req.Dir, false, &git.CloneOptions{
		URL:           req.RepoURL,
		ReferenceName: plumbing.NewBranchReferenceName(req.TemplateBranch),
		Auth:          m.auth(),
	})
	if err != nil {
		return nil, fmt.Errorf("clone template branch %s: %w", req.TemplateBranch, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	created, err := m.checkoutDeploymentBranch(ctx, repo, worktree, req.Branch)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Bool("created", created).
		Msg("Deployment branch checked out")

	if req.Inputs != nil {
		if err := InjectStackConfig(req.Dir, req.StackName, req.Inputs); err != nil {
			return nil, fmt.Errorf("inject stack config: %w", err)
		}

		if err := m.commitAll(worktree, fmt.Sprintf("Configure stack %s", req.StackName)); err != nil {
			return nil, err
		}

		if err := m.pushBranch(ctx, repo, req.Branch); err != nil {
			return nil, err
		}

		logger.Info().Str("stack", req.StackName).Msg("Stack configuration committed and pushed")
	}

	return &Checkout{
		Dir:     req.Dir,
		Branch:  req.Branch,
		Created: created,
	}, nil
}

// checkoutDeploymentBranch reuses the remote deployment branch when it
// exists, otherwise branches off the template HEAD. Returns whether the
// branch was created.
func (m *GitManager) checkoutDeploymentBranch(ctx context.Context, repo *git.Repository, worktree *git.Worktree, branch string) (bool, error) {
	branchRef := plumbing.NewBranchReferenceName(branch)

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)),
		},
		Auth: m.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		// A missing remote branch is the first-deployment path; anything
		// else is a real fetch failure.
		var noMatch git.NoMatchingRefSpecError
		if !errors.As(err, &noMatch) {
			return false, fmt.Errorf("fetch deployment branch %s: %w", branch, err)
		}
	} else {
		if remoteRef, refErr := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true); refErr == nil {
			if err := worktree.Checkout(&git.CheckoutOptions{
				Branch: branchRef,
				Hash:   remoteRef.Hash(),
				Create: true,
			}); err != nil {
				return false, fmt.Errorf("checkout existing branch %s: %w", branch, err)
			}
			return false, nil
		}
	}

	if err := worktree.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Create: true,
	}); err != nil {
		return false, fmt.Errorf("create branch %s: %w", branch, err)
	}

	return true, nil
}

// commitAll stages and commits every change; a clean tree is a no-op.
func (m *GitManager) commitAll(worktree *git.Worktree, message string) error {
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  m.author,
			Email: m.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}

	return nil
}

func (m *GitManager) pushBranch(ctx context.Context, repo *git.Repository, branch string) error {
	err := repo.PushContext(ctx, &git.PushOptions{
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)),
		},
		Auth: m.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push branch %s: %w", branch, err)
	}

	return nil
}

// InitAndPush creates a repository from a plain directory and pushes it as
// the initial commit of a freshly created hosted repository.
func (m *GitManager) InitAndPush(ctx context.Context, dir, repoURL, branch string) error {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if err := m.commitAll(worktree, "Initial commit"); err != nil {
		return err
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	}); err != nil {
		return fmt.Errorf("add remote: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("%s:refs/heads/%s", head.Name(), branch)),
		},
		Auth: m.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push initial commit: %w", err)
	}

	m.logger.Info().
		Str("repo", repoURL).
		Str("branch", branch).
		Msg("Template content pushed to new repository")

	return nil
}

// DeleteBranch force-deletes a remote branch without a local clone.
func (m *GitManager) DeleteBranch(ctx context.Context, repoURL, branch string) error {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})

	err := remote.PushContext(ctx, &git.PushOptions{
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf(":refs/heads/%s", branch)),
		},
		Auth:  m.auth(),
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("delete remote branch %s: %w", branch, err)
	}

	m.logger.Info().
		Str("repo", repoURL).
		Str("branch", branch).
		Msg("Remote branch deleted")

	return nil
}
