package template

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/stack-orchestrator/internal/vcs"
)

// stubBranches is a BranchManager with a scriptable PrepareBranch.
type stubBranches struct {
	prepareErr error
	created    bool
}

func (s *stubBranches) PrepareBranch(_ context.Context, req *vcs.PrepareRequest) (*vcs.Checkout, error) {
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	return &vcs.Checkout{Dir: req.Dir, Branch: req.Branch, Created: s.created}, nil
}

func (s *stubBranches) InitAndPush(context.Context, string, string, string) error { return nil }
func (s *stubBranches) DeleteBranch(context.Context, string, string) error        { return nil }

// writePluginArchive creates a catalog tree with a plugin.zip holding one
// Pulumi program file.
func writePluginArchive(t *testing.T, root, pluginID, version string) {
	t.Helper()

	dir := filepath.Join(root, pluginID, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f, err := os.Create(filepath.Join(dir, "plugin.zip"))
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create("Pulumi.yaml")
	require.NoError(t, err)
	_, err = entry.Write([]byte("name: buckets\nruntime: yaml\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}

func newTestTemplate(repoURL string) *TemplateRef {
	return &TemplateRef{
		PluginID:   "gcp-bucket",
		Version:    "1.0.0",
		GitRepoURL: repoURL,
		GitBranch:  "main",
	}
}

func TestMaterializeGitOps(t *testing.T) {
	branches := &stubBranches{created: true}
	m := NewMaterializer(branches, nil, zerolog.Nop())

	result, err := m.Materialize(context.Background(), &MaterializeRequest{
		Template:       newTestTemplate("https://git.example.com/t.git"),
		StackName:      "analytics-ab12",
		DeploymentName: "analytics",
		Inputs:         map[string]interface{}{"bucket_name": "analytics"},
	})
	require.NoError(t, err)
	defer os.RemoveAll(result.WorkDir)

	assert.Equal(t, SourceGitOps, result.Source)
	assert.Equal(t, "deploy/analytics", result.Branch, "branch derived from the deployment name")
	assert.True(t, result.BranchCreated)
}

func TestMaterializeReusesExistingBranch(t *testing.T) {
	branches := &stubBranches{}
	m := NewMaterializer(branches, nil, zerolog.Nop())

	result, err := m.Materialize(context.Background(), &MaterializeRequest{
		Template:       newTestTemplate("https://git.example.com/t.git"),
		StackName:      "analytics-ab12",
		Branch:         "deploy/analytics",
		DeploymentName: "renamed-since",
	})
	require.NoError(t, err)
	defer os.RemoveAll(result.WorkDir)

	assert.Equal(t, "deploy/analytics", result.Branch, "existing branch wins over the derived name")
}

func TestMaterializeFallsBackToArchive(t *testing.T) {
	root := t.TempDir()
	writePluginArchive(t, root, "gcp-bucket", "1.0.0")
	catalog := NewFSCatalog(root)

	branches := &stubBranches{prepareErr: errors.New("couldn't find remote ref")}
	m := NewMaterializer(branches, NewZipExtractor(catalog), zerolog.Nop())

	result, err := m.Materialize(context.Background(), &MaterializeRequest{
		Template:       newTestTemplate("https://git.example.com/t.git"),
		StackName:      "analytics-ab12",
		DeploymentName: "analytics",
		Inputs:         map[string]interface{}{"bucket_name": "analytics"},
	})
	require.NoError(t, err)
	defer os.RemoveAll(result.WorkDir)

	assert.Equal(t, SourceArchive, result.Source)
	assert.Empty(t, result.Branch)

	// Program extracted and inputs injected on the fallback path too.
	_, err = os.Stat(filepath.Join(result.WorkDir, "Pulumi.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(result.WorkDir, "Pulumi.analytics-ab12.yaml"))
	assert.NoError(t, err)
}

func TestMaterializeArchiveOnlyTemplate(t *testing.T) {
	root := t.TempDir()
	writePluginArchive(t, root, "gcp-bucket", "1.0.0")
	catalog := NewFSCatalog(root)

	// No repo URL: gitops never attempted, no fallback warning.
	m := NewMaterializer(&stubBranches{prepareErr: errors.New("must not be called")}, NewZipExtractor(catalog), zerolog.Nop())

	result, err := m.Materialize(context.Background(), &MaterializeRequest{
		Template:       newTestTemplate(""),
		StackName:      "analytics-ab12",
		DeploymentName: "analytics",
	})
	require.NoError(t, err)
	defer os.RemoveAll(result.WorkDir)

	assert.Equal(t, SourceArchive, result.Source)
}

func TestMaterializeArchiveFailureSurfaces(t *testing.T) {
	catalog := NewFSCatalog(t.TempDir())
	m := NewMaterializer(&stubBranches{prepareErr: errors.New("clone failed")}, NewZipExtractor(catalog), zerolog.Nop())

	_, err := m.Materialize(context.Background(), &MaterializeRequest{
		Template:       newTestTemplate("https://git.example.com/t.git"),
		StackName:      "analytics-ab12",
		DeploymentName: "analytics",
	})
	assert.Error(t, err, "both strategies failing is a task failure")
}

func TestGetTemplate(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "gcp-bucket", "1.0.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := `git_repo_url: https://git.example.com/templates.git
git_branch: main
manifest:
  cloud_provider: gcp
  runtime: inline
  resource_identity_key: bucket_name
  provider_plugins:
    - name: gcp
      version: 7.38.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))

	catalog := NewFSCatalog(root)
	ref, err := catalog.GetTemplate("gcp-bucket", "1.0.0")
	require.NoError(t, err)

	assert.True(t, ref.GitOpsEnabled())
	assert.Equal(t, "gcp", ref.Manifest.CloudProvider)
	assert.Equal(t, RuntimeInline, ref.Manifest.Runtime)
	assert.Equal(t, "bucket_name", ref.Manifest.ResourceIdentityKey)
	require.Len(t, ref.Manifest.ProviderPlugins, 1)
	assert.Equal(t, "gcp", ref.Manifest.ProviderPlugins[0].Name)
}

func TestGetTemplateDefaultsToLocalRuntime(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "vm", "2.0.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte("manifest:\n  cloud_provider: aws\n"), 0o644))

	catalog := NewFSCatalog(root)
	ref, err := catalog.GetTemplate("vm", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, RuntimeLocal, ref.Manifest.Runtime)
	assert.False(t, ref.GitOpsEnabled())
}

func TestGetTemplateMissingManifest(t *testing.T) {
	catalog := NewFSCatalog(t.TempDir())
	_, err := catalog.GetTemplate("nope", "0.0.1")
	assert.Error(t, err)
}

func TestExtractArchiveRejectsEscapingEntries(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "evil", "1.0.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f, err := os.Create(filepath.Join(dir, "plugin.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	entry, err := zw.Create("../outside.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	extractor := NewZipExtractor(NewFSCatalog(root))
	_, err = extractor.ExtractArchive(context.Background(), "evil", "1.0.0", t.TempDir())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "escapes extraction root")
}
