package template

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ArchiveExtractor materializes a legacy packaged plugin artifact into a
// working directory.
type ArchiveExtractor interface {
	ExtractArchive(ctx context.Context, pluginID, version, dest string) (string, error)
}

// ZipExtractor extracts plugin.zip artifacts from the catalog directory.
type ZipExtractor struct {
	catalog *FSCatalog
}

// NewZipExtractor creates an extractor over the filesystem catalog
func NewZipExtractor(catalog *FSCatalog) *ZipExtractor {
	return &ZipExtractor{catalog: catalog}
}

// ExtractArchive unpacks the packaged plugin into dest and returns the
// extraction root.
func (e *ZipExtractor) ExtractArchive(ctx context.Context, pluginID, version, dest string) (string, error) {
	archivePath := e.catalog.ArchivePath(pluginID, version)

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open plugin archive %s@%s: %w", pluginID, version, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := extractFile(file, dest); err != nil {
			return "", fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}

	log.Debug().
		Str("pluginID", pluginID).
		Str("version", version).
		Str("dest", dest).
		Msg("Plugin archive extracted")

	return dest, nil
}

func extractFile(file *zip.File, dest string) error {
	// Reject entries escaping the extraction root
	cleaned := filepath.Clean(file.Name)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return fmt.Errorf("archive entry escapes extraction root: %s", file.Name)
	}

	target := filepath.Join(dest, cleaned)

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	return nil
}
