package receiver

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveFinalDir joins a frame's validated relative path onto outDir
// and, as defense in depth beyond protocol.ValidateRelativePath,
// confirms the resolved path has not escaped outDir.
func resolveFinalDir(outDir, relPath string) (dir string, name string, err error) {
	joined := filepath.Join(outDir, relPath)

	if err := validatePathInBaseDir(outDir, joined); err != nil {
		return "", "", err
	}

	return filepath.Dir(joined), filepath.Base(joined), nil
}

// validatePathInBaseDir verifies that resolvedPath, once made
// absolute, remains inside baseDir.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}
	return nil
}
