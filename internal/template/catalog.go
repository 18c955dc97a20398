package template

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderPlugin pins one IaC provider plugin version for a blueprint.
type ProviderPlugin struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Manifest describes a plugin blueprint: which cloud it targets, how its
// program runs, and how its template is materialized.
type Manifest struct {
	// CloudProvider is empty for blueprints that need no cloud credentials.
	CloudProvider string `yaml:"cloud_provider"`

	// Runtime selects the IaC program source: "local" runs the materialized
	// working tree, "inline" runs a built-in program registered in the
	// engine.
	Runtime string `yaml:"runtime"`

	ProviderPlugins []ProviderPlugin `yaml:"provider_plugins"`

	// ResourceIdentityKey names the input that identifies the underlying
	// resource (e.g. bucket_name). On update it is forced back to the
	// stored value so a request can never rename the resource.
	ResourceIdentityKey string `yaml:"resource_identity_key"`

	// CIWebhookURL, when set, is registered on newly created microservice
	// repositories. Optional; empty means no webhook.
	CIWebhookURL string `yaml:"ci_webhook_url"`

	// TemplateSubdir is the subdirectory of the template repository that
	// seeds a microservice repository.
	TemplateSubdir string `yaml:"template_subdir"`
}

// Runtime values
const (
	RuntimeLocal  = "local"
	RuntimeInline = "inline"
)

// TemplateRef identifies a plugin template: either a GitOps branch or a
// legacy packaged archive.
type TemplateRef struct {
	PluginID string
	Version  string

	// GitOps template location; empty GitRepoURL means archive-only.
	GitRepoURL string `yaml:"git_repo_url"`
	GitBranch  string `yaml:"git_branch"`

	Manifest Manifest `yaml:"manifest"`
}

// GitOpsEnabled reports whether the template can be materialized from a
// branch.
func (t *TemplateRef) GitOpsEnabled() bool {
	return t.GitRepoURL != ""
}

// Catalog resolves plugin templates. The API layer owns plugin CRUD; the
// orchestrator only reads.
type Catalog interface {
	GetTemplate(pluginID, version string) (*TemplateRef, error)
}

// FSCatalog reads plugin manifests from a directory tree laid out as
// <root>/<plugin_id>/<version>/manifest.yaml with the packaged archive
// next to it.
type FSCatalog struct {
	root string
}

// NewFSCatalog creates a filesystem-backed plugin catalog
func NewFSCatalog(root string) *FSCatalog {
	return &FSCatalog{root: root}
}

// GetTemplate loads and parses the manifest for one plugin version
func (c *FSCatalog) GetTemplate(pluginID, version string) (*TemplateRef, error) {
	manifestPath := filepath.Join(c.root, pluginID, version, "manifest.yaml")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest %s@%s: %w", pluginID, version, err)
	}

	ref := &TemplateRef{
		PluginID: pluginID,
		Version:  version,
	}
	if err := yaml.Unmarshal(data, ref); err != nil {
		return nil, fmt.Errorf("parse plugin manifest %s@%s: %w", pluginID, version, err)
	}

	if ref.Manifest.Runtime == "" {
		ref.Manifest.Runtime = RuntimeLocal
	}

	return ref, nil
}

// ArchivePath returns the location of the packaged artifact for a plugin
// version.
func (c *FSCatalog) ArchivePath(pluginID, version string) string {
	return filepath.Join(c.root, pluginID, version, "plugin.zip")
}
