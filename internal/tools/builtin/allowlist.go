// Package builtin implements the agent's built-in tool handlers — file,
// shell, search, git, and memory-note tools — registered against a
// tools.Registry and bounded by config.SecurityConfig.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AllowedPaths bounds file-tool access to a fixed set of root
// directories (config.Security.AllowedPaths), rejecting any resolved
// path that falls outside all of them.
type AllowedPaths struct {
	roots []string
}

// NewAllowedPaths builds an AllowedPaths from configured root
// directories. Roots are expected already expanded (~, env vars) by
// config.Config.
func NewAllowedPaths(roots []string) *AllowedPaths {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		if a, err := filepath.Abs(r); err == nil {
			abs = append(abs, filepath.Clean(a))
		}
	}
	return &AllowedPaths{roots: abs}
}

// Resolve cleans path to an absolute form and verifies it falls inside
// one of the allowed roots. Relative paths are resolved against the
// first configured root, matching the single-workspace convention most
// agent sessions run with.
func (a *AllowedPaths) Resolve(path string) (string, error) {
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else if len(a.roots) > 0 {
		abs = filepath.Clean(filepath.Join(a.roots[0], path))
	} else {
		var err error
		abs, err = filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
	}

	for _, root := range a.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %q escapes the allowed directories", path)
}
