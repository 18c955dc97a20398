package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/iac"
	"github.com/alvesdmateus/stack-orchestrator/internal/notify"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/scm"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
	"github.com/alvesdmateus/stack-orchestrator/internal/vcs"
)

// TaskQueue is the slice of the dispatcher the client and worker use.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *queue.Task) error
	Dequeue(ctx context.Context, kind queue.TaskKind, timeout time.Duration) (*queue.Task, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkComplete(ctx context.Context, jobID string) error
}

// Materializer produces IaC working trees from plugin templates.
type Materializer interface {
	Materialize(ctx context.Context, req *template.MaterializeRequest) (*template.Materialization, error)
}

// Engine is the worker-side dependency context: one instance per process,
// shared by every task handler. It embeds the submission client so the
// worker process can also enqueue work.
type Engine struct {
	*Client

	catalog      template.Catalog
	materializer Materializer
	iac          iac.Engine
	broker       credentials.Broker
	host         scm.RepoHost
	branches     vcs.BranchManager
	notifier     notify.Notifier
	repoOwner    string
	logger       zerolog.Logger
}

// NewEngine creates the orchestrator engine
func NewEngine(
	taskQueue TaskQueue,
	repo *state.Repository,
	catalog template.Catalog,
	materializer Materializer,
	iacEngine iac.Engine,
	broker credentials.Broker,
	host scm.RepoHost,
	branches vcs.BranchManager,
	notifier notify.Notifier,
	repoOwner string,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		Client:       NewClient(taskQueue, repo, logger),
		catalog:      catalog,
		materializer: materializer,
		iac:          iacEngine,
		broker:       broker,
		host:         host,
		branches:     branches,
		notifier:     notifier,
		repoOwner:    repoOwner,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

func toParamsMap(params interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}

	return m, nil
}

func decodeParams(blob string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("decode job inputs: %w", err)
	}
	return m, nil
}

// parseProvisionInfrastructureParams parses a provision task payload
func parseProvisionInfrastructureParams(task *queue.Task) (*queue.ProvisionInfrastructureParams, error) {
	var params queue.ProvisionInfrastructureParams
	if err := remarshal(task.Params, &params); err != nil {
		return nil, fmt.Errorf("parse provision infrastructure params: %w", err)
	}
	return &params, nil
}

// parseDestroyInfrastructureParams parses a destroy task payload
func parseDestroyInfrastructureParams(task *queue.Task) (*queue.DestroyInfrastructureParams, error) {
	var params queue.DestroyInfrastructureParams
	if err := remarshal(task.Params, &params); err != nil {
		return nil, fmt.Errorf("parse destroy infrastructure params: %w", err)
	}
	return &params, nil
}

// parseProvisionMicroserviceParams parses a microservice creation payload
func parseProvisionMicroserviceParams(task *queue.Task) (*queue.ProvisionMicroserviceParams, error) {
	var params queue.ProvisionMicroserviceParams
	if err := remarshal(task.Params, &params); err != nil {
		return nil, fmt.Errorf("parse provision microservice params: %w", err)
	}
	return &params, nil
}

// parseDestroyMicroserviceParams parses a microservice deletion payload
func parseDestroyMicroserviceParams(task *queue.Task) (*queue.DestroyMicroserviceParams, error) {
	var params queue.DestroyMicroserviceParams
	if err := remarshal(task.Params, &params); err != nil {
		return nil, fmt.Errorf("parse destroy microservice params: %w", err)
	}
	return &params, nil
}

func remarshal(in map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
