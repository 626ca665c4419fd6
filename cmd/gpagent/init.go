package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/waddadaa/gpagent/internal/defaults"
)

// runInit initializes a gpagent working directory with default files.
// It creates the storage subdirectories and writes a commented example
// config. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing gpagent workspace in %s\n", dir)

	for _, sub := range []string{"storage", "data", "models"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to set your API keys and customize the agent, then run:")
	fmt.Fprintln(w, "  gpagent serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}
