package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// stackNameFor derives the stack name fixed at deployment creation. The ID
// suffix keeps stacks unique across deployments that share a display name.
func stackNameFor(name string, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s", sanitizeName(name), id.String()[:8])
}

// repoNameFor derives the hosted repository name for a microservice.
func repoNameFor(name string) string {
	return sanitizeName(name)
}

func sanitizeName(name string) string {
	var b strings.Builder
	lastDash := true

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	sanitized := strings.Trim(b.String(), "-")
	if sanitized == "" {
		sanitized = "deployment"
	}
	return sanitized
}

func encodeMap(m map[string]interface{}) (string, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// copySeedTree copies a template tree into a fresh directory, dropping any
// .git metadata so the copy can seed a new repository.
func copySeedTree(src string) (string, error) {
	dst, err := os.MkdirTemp("", "stack-orchestrator-seed-*")
	if err != nil {
		return "", fmt.Errorf("create seed directory: %w", err)
	}

	err = filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
	if err != nil {
		os.RemoveAll(dst)
		return "", fmt.Errorf("copy seed tree: %w", err)
	}

	return dst, nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
