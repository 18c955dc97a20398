package iac

import (
	"context"
	"fmt"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
)

// Engine drives the IaC automation API: apply a named stack from a working
// tree or inline program, or destroy it.
type Engine interface {
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error)
	Destroy(ctx context.Context, req *DestroyRequest) (*DestroyResult, error)
}

// ApplyRequest describes one stack apply. Credentials are scoped to the
// engine workspace for this call only; process environment is never
// touched.
type ApplyRequest struct {
	StackName string
	PluginID  string
	WorkDir   string
	Config    map[string]interface{}
	Manifest  template.Manifest

	// Nil when the manifest declares no cloud provider.
	Credentials *credentials.Credentials
}

// ApplyResult carries the engine-reported outputs of a successful apply.
type ApplyResult struct {
	Outputs map[string]interface{}
	Summary string
}

// DestroyRequest describes one stack destroy. No configuration is injected;
// the working tree only supplies the program.
type DestroyRequest struct {
	StackName string
	PluginID  string
	WorkDir   string
	Manifest  template.Manifest

	Credentials *credentials.Credentials
}

// DestroyResult reports a completed destroy. StackNotFound marks the
// idempotent case: the stack was already gone and the destroy is a success.
type DestroyResult struct {
	StackNotFound bool
	Summary       string
}

// EngineError is a structured engine-level failure: the automation API
// returned a failing result rather than the adapter itself breaking. The
// raw output feeds the error classifier.
type EngineError struct {
	Op        string // "up" or "destroy"
	StackName string
	Output    string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("pulumi %s failed for stack %s: %v", e.Op, e.StackName, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// FailureText returns the text the classifier inspects: engine output when
// present, the wrapped error otherwise.
func (e *EngineError) FailureText() string {
	if e.Output != "" {
		return e.Output
	}
	return e.Err.Error()
}
