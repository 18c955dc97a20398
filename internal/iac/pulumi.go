package iac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/common/workspace"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
)

// Default timeout for a single stack operation
const DefaultOperationTimeout = 30 * time.Minute

// PulumiEngine implements Engine on the Pulumi automation API.
type PulumiEngine struct {
	projectName      string
	backendURL       string
	operationTimeout time.Duration
	logger           zerolog.Logger
}

// Config holds engine configuration
type Config struct {
	ProjectName      string
	BackendURL       string
	OperationTimeout time.Duration
}

// NewPulumiEngine creates the engine adapter
func NewPulumiEngine(cfg Config, logger zerolog.Logger) (*PulumiEngine, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("pulumi backend URL is required")
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "stack-orchestrator"
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	log.Info().
		Str("backendURL", cfg.BackendURL).
		Dur("operationTimeout", cfg.OperationTimeout).
		Msg("Pulumi engine initialized")

	return &PulumiEngine{
		projectName:      cfg.ProjectName,
		backendURL:       cfg.BackendURL,
		operationTimeout: cfg.OperationTimeout,
		logger:           logger.With().Str("component", "iac-engine").Logger(),
	}, nil
}

// Apply creates or selects the named stack, installs the pinned provider
// plugins, applies configuration and runs up. A stack that does not exist
// yet is created; one that exists is updated in place.
func (e *PulumiEngine) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.operationTimeout)
	defer cancel()

	logger := e.logger.With().Str("stack", req.StackName).Logger()
	logger.Info().
		Str("plugin", req.PluginID).
		Str("runtime", req.Manifest.Runtime).
		Msg("Starting stack apply")

	stack, err := e.upsertStack(ctx, req.StackName, req.PluginID, req.WorkDir, req.Manifest, req.Credentials)
	if err != nil {
		return nil, fmt.Errorf("prepare stack: %w", err)
	}

	if err := e.installPlugins(ctx, stack, req.Manifest); err != nil {
		return nil, err
	}

	// Inline programs take their configuration through the workspace; the
	// local runtime already carries it in the committed stack file.
	if req.Manifest.Runtime == template.RuntimeInline {
		if err := e.setStackConfig(ctx, stack, req.Config); err != nil {
			return nil, err
		}
	}

	progress := &progressWriter{logger: logger}

	upResult, err := stack.Up(ctx, optup.ProgressStreams(progress))
	if err != nil {
		return nil, &EngineError{
			Op:        "up",
			StackName: req.StackName,
			Output:    progress.Tail(),
			Err:       err,
		}
	}

	outputs := make(map[string]interface{}, len(upResult.Outputs))
	for key, value := range upResult.Outputs {
		outputs[key] = value.Value
	}

	logger.Info().
		Int("outputs", len(outputs)).
		Msg("Stack apply completed")

	return &ApplyResult{
		Outputs: outputs,
		Summary: upResult.Summary.Kind,
	}, nil
}

// Destroy tears the named stack down. A stack that no longer exists is
// normalized to success so deletion stays idempotent.
func (e *PulumiEngine) Destroy(ctx context.Context, req *DestroyRequest) (*DestroyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.operationTimeout)
	defer cancel()

	logger := e.logger.With().Str("stack", req.StackName).Logger()
	logger.Info().Msg("Starting stack destroy")

	stack, err := e.selectStack(ctx, req.StackName, req.PluginID, req.WorkDir, req.Manifest, req.Credentials)
	if err != nil {
		if auto.IsSelectStack404Error(err) || isStackNotFound(err) {
			logger.Info().Msg("Stack not found, treating destroy as success")
			return &DestroyResult{StackNotFound: true}, nil
		}
		return nil, fmt.Errorf("select stack: %w", err)
	}

	progress := &progressWriter{logger: logger}

	destroyResult, err := stack.Destroy(ctx, optdestroy.ProgressStreams(progress))
	if err != nil {
		if isStackNotFound(err) {
			logger.Info().Msg("Stack already gone, treating destroy as success")
			return &DestroyResult{StackNotFound: true}, nil
		}
		return nil, &EngineError{
			Op:        "destroy",
			StackName: req.StackName,
			Output:    progress.Tail(),
			Err:       err,
		}
	}

	if err := stack.Workspace().RemoveStack(ctx, req.StackName); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove stack metadata (may already be removed)")
	}

	logger.Info().Msg("Stack destroy completed")

	return &DestroyResult{Summary: destroyResult.Summary.Kind}, nil
}

func (e *PulumiEngine) upsertStack(ctx context.Context, stackName, pluginID, workDir string, manifest template.Manifest, creds *credentials.Credentials) (auto.Stack, error) {
	opts := e.workspaceOptions(creds)

	if manifest.Runtime == template.RuntimeInline {
		program, err := LookupProgram(pluginID)
		if err != nil {
			return auto.Stack{}, err
		}
		return auto.UpsertStackInlineSource(ctx, stackName, e.projectName, program,
			append(opts, e.projectOption())...)
	}

	return auto.UpsertStackLocalSource(ctx, stackName, workDir, opts...)
}

func (e *PulumiEngine) selectStack(ctx context.Context, stackName, pluginID, workDir string, manifest template.Manifest, creds *credentials.Credentials) (auto.Stack, error) {
	opts := e.workspaceOptions(creds)

	if manifest.Runtime == template.RuntimeInline {
		program, err := LookupProgram(pluginID)
		if err != nil {
			return auto.Stack{}, err
		}
		return auto.SelectStackInlineSource(ctx, stackName, e.projectName, program,
			append(opts, e.projectOption())...)
	}

	return auto.SelectStackLocalSource(ctx, stackName, workDir, opts...)
}

func (e *PulumiEngine) workspaceOptions(creds *credentials.Credentials) []auto.LocalWorkspaceOption {
	return []auto.LocalWorkspaceOption{auto.EnvVars(workspaceEnv(creds))}
}

// workspaceEnv builds the environment scoped to one engine invocation. The
// concrete pointer matters here: nil credentials mean a provider-less
// blueprint and must contribute no cloud variables.
func workspaceEnv(creds *credentials.Credentials) map[string]string {
	env := map[string]string{
		// Local backends have no passphrase-protected secrets by default.
		"PULUMI_CONFIG_PASSPHRASE": "",
	}
	if creds != nil {
		for key, value := range creds.Env() {
			env[key] = value
		}
	}

	return env
}

func (e *PulumiEngine) projectOption() auto.LocalWorkspaceOption {
	return auto.Project(workspace.Project{
		Name:    tokens.PackageName(e.projectName),
		Runtime: workspace.NewProjectRuntimeInfo("go", nil),
		Backend: &workspace.ProjectBackend{
			URL: e.backendURL,
		},
	})
}

func (e *PulumiEngine) installPlugins(ctx context.Context, stack auto.Stack, manifest template.Manifest) error {
	for _, plugin := range manifest.ProviderPlugins {
		if err := stack.Workspace().InstallPlugin(ctx, plugin.Name, plugin.Version); err != nil {
			return fmt.Errorf("install provider plugin %s@%s: %w", plugin.Name, plugin.Version, err)
		}
	}
	return nil
}

func (e *PulumiEngine) setStackConfig(ctx context.Context, stack auto.Stack, config map[string]interface{}) error {
	for key, value := range config {
		if err := stack.SetConfig(ctx, key, auto.ConfigValue{Value: fmt.Sprintf("%v", value)}); err != nil {
			return fmt.Errorf("set config %s: %w", key, err)
		}
	}
	return nil
}

// isStackNotFound matches the engine's textual stack-missing signals that
// the typed 404 helper does not cover.
func isStackNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no stack named") ||
		strings.Contains(msg, "stack not found") ||
		strings.Contains(msg, "does not exist")
}
