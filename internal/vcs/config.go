package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// pulumiProject is the subset of Pulumi.yaml this package needs.
type pulumiProject struct {
	Name string `yaml:"name"`
}

// stackConfigFile mirrors Pulumi.<stack>.yaml.
type stackConfigFile struct {
	Config map[string]interface{} `yaml:"config"`
}

// InjectStackConfig merges the given inputs into Pulumi.<stack>.yaml in the
// working tree, namespacing plain keys with the project name the way the
// IaC engine expects. Existing keys not present in inputs are preserved.
func InjectStackConfig(dir, stackName string, inputs map[string]interface{}) error {
	project, err := readProjectName(dir)
	if err != nil {
		return err
	}

	configPath := filepath.Join(dir, fmt.Sprintf("Pulumi.%s.yaml", stackName))

	stackCfg := stackConfigFile{Config: map[string]interface{}{}}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &stackCfg); err != nil {
			return fmt.Errorf("parse existing stack config: %w", err)
		}
		if stackCfg.Config == nil {
			stackCfg.Config = map[string]interface{}{}
		}
	}

	for key, value := range inputs {
		stackCfg.Config[NamespaceKey(project, key)] = value
	}

	rendered, err := yaml.Marshal(&stackCfg)
	if err != nil {
		return fmt.Errorf("render stack config: %w", err)
	}

	if err := os.WriteFile(configPath, rendered, 0o644); err != nil {
		return fmt.Errorf("write stack config: %w", err)
	}

	return nil
}

// NamespaceKey prefixes a bare config key with the project namespace.
// Keys already carrying a namespace (gcp:project) pass through unchanged.
func NamespaceKey(project, key string) string {
	if strings.Contains(key, ":") || project == "" {
		return key
	}
	return project + ":" + key
}

func readProjectName(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "Pulumi.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read Pulumi.yaml: %w", err)
	}

	var project pulumiProject
	if err := yaml.Unmarshal(data, &project); err != nil {
		return "", fmt.Errorf("parse Pulumi.yaml: %w", err)
	}

	return project.Name, nil
}
