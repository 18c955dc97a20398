package template

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/stack-orchestrator/internal/vcs"
)

// Source says which strategy produced a working tree.
type Source string

const (
	SourceGitOps  Source = "gitops"
	SourceArchive Source = "archive"
)

// Materialization is the result of turning a template reference into a
// working directory the IaC engine can run.
type Materialization struct {
	WorkDir string
	Source  Source

	// Branch is set only for gitops materializations.
	Branch string

	// BranchCreated is true when the deployment branch was created this run.
	BranchCreated bool
}

// MaterializeRequest describes one materialization.
type MaterializeRequest struct {
	Template  *TemplateRef
	StackName string

	// Branch to reuse; empty means derive one from DeploymentName and
	// create it from the template branch.
	Branch         string
	DeploymentName string

	// Inputs to inject into the stack config. Nil on the destroy path.
	Inputs map[string]interface{}
}

// Materializer produces working trees with an explicit fallback policy:
// GitOps when the template has a repository, legacy archive extraction when
// it does not or when the VCS path fails.
type Materializer struct {
	branches  vcs.BranchManager
	extractor ArchiveExtractor
	logger    zerolog.Logger
}

// NewMaterializer creates a materializer
func NewMaterializer(branches vcs.BranchManager, extractor ArchiveExtractor, logger zerolog.Logger) *Materializer {
	return &Materializer{
		branches:  branches,
		extractor: extractor,
		logger:    logger.With().Str("component", "materializer").Logger(),
	}
}

// Materialize produces a working tree for the request under a fresh
// temporary directory. The caller owns the directory and must remove it on
// every exit path.
func (m *Materializer) Materialize(ctx context.Context, req *MaterializeRequest) (*Materialization, error) {
	workDir, err := os.MkdirTemp("", "stack-orchestrator-*")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	if req.Template.GitOpsEnabled() {
		result, gitErr := m.materializeGitOps(ctx, req, workDir)
		if gitErr == nil {
			return result, nil
		}

		// Fallback policy: a VCS failure degrades to archive extraction
		// instead of aborting the task.
		m.logger.Warn().
			Err(gitErr).
			Str("plugin", req.Template.PluginID).
			Str("stack", req.StackName).
			Msg("GitOps materialization failed, falling back to archive")

		if err := resetDir(workDir); err != nil {
			return nil, err
		}
	}

	return m.materializeArchive(ctx, req, workDir)
}

func (m *Materializer) materializeGitOps(ctx context.Context, req *MaterializeRequest, workDir string) (*Materialization, error) {
	branch := req.Branch
	if branch == "" {
		branch = vcs.SanitizeBranchName(req.DeploymentName)
	}

	checkout, err := m.branches.PrepareBranch(ctx, &vcs.PrepareRequest{
		RepoURL:        req.Template.GitRepoURL,
		TemplateBranch: req.Template.GitBranch,
		Branch:         branch,
		StackName:      req.StackName,
		Inputs:         req.Inputs,
		Dir:            workDir,
	})
	if err != nil {
		return nil, err
	}

	return &Materialization{
		WorkDir:       checkout.Dir,
		Source:        SourceGitOps,
		Branch:        checkout.Branch,
		BranchCreated: checkout.Created,
	}, nil
}

func (m *Materializer) materializeArchive(ctx context.Context, req *MaterializeRequest, workDir string) (*Materialization, error) {
	dir, err := m.extractor.ExtractArchive(ctx, req.Template.PluginID, req.Template.Version, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("archive materialization: %w", err)
	}

	// Inputs are written into the stack config here too so the engine
	// reads the same file layout on both strategies.
	if req.Inputs != nil {
		if err := vcs.InjectStackConfig(dir, req.StackName, req.Inputs); err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("inject stack config: %w", err)
		}
	}

	return &Materialization{
		WorkDir: dir,
		Source:  SourceArchive,
	}, nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset working directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate working directory: %w", err)
	}
	return nil
}
