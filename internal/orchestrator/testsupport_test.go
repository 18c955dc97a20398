package orchestrator

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/iac"
	"github.com/alvesdmateus/stack-orchestrator/internal/notify"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/scm"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
	"github.com/alvesdmateus/stack-orchestrator/internal/vcs"
)

// fakeQueue is an in-memory TaskQueue.
type fakeQueue struct {
	tasks map[queue.TaskKind][]*queue.Task
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[queue.TaskKind][]*queue.Task)}
}

func (q *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	q.tasks[task.Kind] = append(q.tasks[task.Kind], task)
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context, kind queue.TaskKind, _ time.Duration) (*queue.Task, error) {
	pending := q.tasks[kind]
	if len(pending) == 0 {
		return nil, nil
	}
	task := pending[0]
	q.tasks[kind] = pending[1:]
	return task, nil
}

func (q *fakeQueue) MarkProcessing(context.Context, string) error { return nil }
func (q *fakeQueue) MarkComplete(context.Context, string) error   { return nil }

func (q *fakeQueue) depth(kind queue.TaskKind) int { return len(q.tasks[kind]) }

// fakeCatalog serves a single template for any plugin ID.
type fakeCatalog struct {
	template *template.TemplateRef
	err      error
}

func (c *fakeCatalog) GetTemplate(pluginID, version string) (*template.TemplateRef, error) {
	if c.err != nil {
		return nil, c.err
	}
	ref := *c.template
	ref.PluginID = pluginID
	ref.Version = version
	return &ref, nil
}

// fakeMaterializer hands out real temporary directories so handlers can
// clean them up the way they do in production.
type fakeMaterializer struct {
	source   template.Source
	branch   string
	err      error
	requests []*template.MaterializeRequest
}

func (m *fakeMaterializer) Materialize(_ context.Context, req *template.MaterializeRequest) (*template.Materialization, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}

	dir, err := os.MkdirTemp("", "orchestrator-test-*")
	if err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = vcs.SanitizeBranchName(req.DeploymentName)
	}

	source := m.source
	if source == "" {
		source = template.SourceGitOps
	}

	result := &template.Materialization{
		WorkDir: dir,
		Source:  source,
	}
	if source == template.SourceGitOps {
		result.Branch = branch
		result.BranchCreated = req.Branch == ""
	}
	if m.branch != "" {
		result.Branch = m.branch
	}
	return result, nil
}

// fakeIaC implements iac.Engine with canned results.
type fakeIaC struct {
	outputs       map[string]interface{}
	applyErr      error
	destroyErr    error
	stackNotFound bool

	applies  []*iac.ApplyRequest
	destroys []*iac.DestroyRequest
}

func (f *fakeIaC) Apply(_ context.Context, req *iac.ApplyRequest) (*iac.ApplyResult, error) {
	f.applies = append(f.applies, req)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &iac.ApplyResult{Outputs: f.outputs, Summary: "succeeded"}, nil
}

func (f *fakeIaC) Destroy(_ context.Context, req *iac.DestroyRequest) (*iac.DestroyResult, error) {
	f.destroys = append(f.destroys, req)
	if f.destroyErr != nil {
		return nil, f.destroyErr
	}
	return &iac.DestroyResult{StackNotFound: f.stackNotFound, Summary: "succeeded"}, nil
}

// fakeBroker returns fixed credentials, recording who asked.
type fakeBroker struct {
	err       error
	exchanges []string
}

func (b *fakeBroker) Exchange(_ context.Context, provider, userID string) (*credentials.Credentials, error) {
	b.exchanges = append(b.exchanges, fmt.Sprintf("%s:%s", provider, userID))
	if b.err != nil {
		return nil, b.err
	}
	if userID == "" {
		return nil, credentials.ErrNoIdentity
	}
	return &credentials.Credentials{Provider: provider, AccessToken: "short-lived"}, nil
}

// fakeHost records repository operations.
type fakeHost struct {
	createErr error
	deleteErr error
	created   []*scm.CreateRepositoryRequest
	deleted   []string
	webhooks  []string
}

func (h *fakeHost) CreateRepository(_ context.Context, req *scm.CreateRepositoryRequest) (*scm.Repository, error) {
	h.created = append(h.created, req)
	if h.createErr != nil {
		return nil, h.createErr
	}
	return &scm.Repository{
		Owner:    req.Owner,
		Name:     req.Name,
		CloneURL: fmt.Sprintf("https://git.example.com/%s/%s.git", req.Owner, req.Name),
		HTMLURL:  fmt.Sprintf("https://git.example.com/%s/%s", req.Owner, req.Name),
	}, nil
}

func (h *fakeHost) DeleteRepository(_ context.Context, owner, name string) error {
	h.deleted = append(h.deleted, owner+"/"+name)
	return h.deleteErr
}

func (h *fakeHost) CreateWebhook(_ context.Context, owner, name, targetURL string) error {
	h.webhooks = append(h.webhooks, targetURL)
	return nil
}

// fakeBranches records VCS operations.
type fakeBranches struct {
	initErr   error
	pushed    []string
	deleted   []string
}

func (b *fakeBranches) PrepareBranch(_ context.Context, req *vcs.PrepareRequest) (*vcs.Checkout, error) {
	return &vcs.Checkout{Dir: req.Dir, Branch: req.Branch}, nil
}

func (b *fakeBranches) InitAndPush(_ context.Context, dir, repoURL, branch string) error {
	b.pushed = append(b.pushed, repoURL)
	return b.initErr
}

func (b *fakeBranches) DeleteBranch(_ context.Context, repoURL, branch string) error {
	b.deleted = append(b.deleted, branch)
	return nil
}

// fixture wires an engine over in-memory fakes and a SQLite state store.
type fixture struct {
	repo     *state.Repository
	queue    *fakeQueue
	catalog  *fakeCatalog
	mat      *fakeMaterializer
	iac      *fakeIaC
	broker   *fakeBroker
	host     *fakeHost
	branches *fakeBranches
	engine   *Engine
	worker   *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, state.AutoMigrate(db))

	f := &fixture{
		repo:  state.NewRepository(db),
		queue: newFakeQueue(),
		catalog: &fakeCatalog{
			template: &template.TemplateRef{
				GitRepoURL: "https://git.example.com/platform/templates.git",
				GitBranch:  "main",
				Manifest: template.Manifest{
					CloudProvider:       "gcp",
					Runtime:             template.RuntimeInline,
					ResourceIdentityKey: "bucket_name",
				},
			},
		},
		mat:      &fakeMaterializer{},
		iac:      &fakeIaC{outputs: map[string]interface{}{"url": "gs://test-bucket"}},
		broker:   &fakeBroker{},
		host:     &fakeHost{},
		branches: &fakeBranches{},
	}

	nop := zerolog.Nop()
	f.engine = NewEngine(
		f.queue,
		f.repo,
		f.catalog,
		f.mat,
		f.iac,
		f.broker,
		f.host,
		f.branches,
		notify.NewLogNotifier(nop),
		"deployments",
		nop,
	)
	f.worker = NewWorker(f.engine, 1, nop)

	return f
}

// runOne dequeues a single task of the given kind and dispatches it.
func (f *fixture) runOne(t *testing.T, kind queue.TaskKind) error {
	t.Helper()

	task, err := f.queue.Dequeue(context.Background(), kind, 0)
	require.NoError(t, err)
	require.NotNil(t, task, "expected a queued %s task", kind)

	return f.worker.dispatch(context.Background(), task)
}
