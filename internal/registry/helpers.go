package registry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ModuleID derives the stable module id from a definition path relative to root:
// separators become dots and the extension is stripped.
func ModuleID(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relative module path: %w", err)
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("module path %s is outside %s", path, root)
	}

	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	rel = filepath.ToSlash(rel)
	return strings.ReplaceAll(rel, "/", "."), nil
}

// StepDescription numbers a direct step the way definition files list them.
func StepDescription(testType string, n int, name string) string {
	return fmt.Sprintf("%s %d - %s", testType, n, name)
}
