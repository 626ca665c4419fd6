package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// FileTools implements file_read/file_write/file_edit/glob, bounded by
// an AllowedPaths allowlist rather than a single workspace root —
// generalizing the teacher's single-workspacePath FileTools to
// SPEC_FULL.md's multiple security.allowed_paths roots.
type FileTools struct {
	allowed  *AllowedPaths
	maxLines int
}

// NewFileTools creates a FileTools bounded to the given allowlist.
// maxLines caps file_read's returned line count when positive (0 means
// unbounded, subject only to the byte cap).
func NewFileTools(allowed *AllowedPaths, maxLines int) *FileTools {
	return &FileTools{allowed: allowed, maxLines: maxLines}
}

// Specs returns the file_read/file_write/file_edit/glob tool specs.
func (ft *FileTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "file_read",
			Description: "Read a file's contents, optionally limited to a line range.",
			Keywords:    []string{"read", "file", "content", "view", "cat"},
			Parameters: []llm.Parameter{
				{Name: "path", Type: llm.ParamString, Required: true, Description: "Path to the file."},
				{Name: "offset", Type: llm.ParamInteger, Description: "1-indexed line to start from."},
				{Name: "limit", Type: llm.ParamInteger, Description: "Maximum number of lines to return."},
			},
		},
		{
			Name:        "file_write",
			Description: "Write content to a file, creating parent directories and overwriting any existing file.",
			Keywords:    []string{"write", "create", "save", "file"},
			Parameters: []llm.Parameter{
				{Name: "path", Type: llm.ParamString, Required: true},
				{Name: "content", Type: llm.ParamString, Required: true},
			},
		},
		{
			Name:        "file_edit",
			Description: "Replace a unique occurrence of old_text with new_text in a file.",
			Keywords:    []string{"edit", "modify", "replace", "fix"},
			Parameters: []llm.Parameter{
				{Name: "path", Type: llm.ParamString, Required: true},
				{Name: "old_text", Type: llm.ParamString, Required: true},
				{Name: "new_text", Type: llm.ParamString, Required: true},
			},
		},
		{
			Name:        "glob",
			Description: "List files under a directory matching a glob pattern.",
			Keywords:    []string{"files", "list", "find", "pattern", "directory"},
			Parameters: []llm.Parameter{
				{Name: "pattern", Type: llm.ParamString, Required: true, Description: "Glob pattern, e.g. \"src/**/*.go\"."},
			},
		},
	}
}

// Register registers whichever of file_read/file_write/file_edit/glob
// enabled reports true for against reg.
func (ft *FileTools) Register(reg *tools.Registry, enabled func(name string) bool) error {
	handlers := map[string]tools.Handler{
		"file_read":  ft.readHandler,
		"file_write": ft.writeHandler,
		"file_edit":  ft.editHandler,
		"glob":       ft.globHandler,
	}
	for _, spec := range ft.Specs() {
		if !enabled(spec.Name) {
			continue
		}
		if err := reg.Register(spec, handlers[spec.Name], "builtin"); err != nil {
			return err
		}
	}
	return nil
}

func (ft *FileTools) readHandler(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("file_read: path is required")
	}
	offset := intArg(args, "offset")
	limit := intArg(args, "limit")
	if ft.maxLines > 0 && (limit == 0 || limit > ft.maxLines) {
		limit = ft.maxLines
	}
	return ft.Read(ctx, path, offset, limit)
}

func (ft *FileTools) writeHandler(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return "", fmt.Errorf("file_write: path is required")
	}
	if err := ft.Write(ctx, path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (ft *FileTools) editHandler(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" || oldText == "" {
		return "", fmt.Errorf("file_edit: path and old_text are required")
	}
	if err := ft.Edit(ctx, path, oldText, newText); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", path), nil
}

func (ft *FileTools) globHandler(ctx context.Context, args map[string]any) (string, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("glob: pattern is required")
	}
	matches, err := ft.Glob(ctx, pattern)
	if err != nil {
		return "", err
	}
	return strings.Join(matches, "\n"), nil
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

// Read reads a file's contents, applying a 1-indexed line offset/limit
// and a 50KB truncation cap.
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := ft.allowed.Resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)

	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")

		startLine := 0
		if offset > 0 {
			startLine = offset - 1
		}
		if startLine >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}

		endLine := len(lines)
		if limit > 0 && startLine+limit < endLine {
			endLine = startLine + limit
		}

		content = strings.Join(lines[startLine:endLine], "\n")

		if startLine > 0 || endLine < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", startLine+1, endLine, len(lines), content)
		}
	}

	const maxBytes = 50 * 1024
	if len(content) > maxBytes {
		content = content[:maxBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

// Write writes content to path, creating parent directories as needed.
func (ft *FileTools) Write(ctx context.Context, path, content string) error {
	absPath, err := ft.allowed.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Edit performs a surgical text replacement; oldText must occur exactly
// once in the file.
func (ft *FileTools) Edit(ctx context.Context, path, oldText, newText string) error {
	absPath, err := ft.allowed.Resolve(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		if len(oldText) > 100 {
			return fmt.Errorf("old text not found in file (first 100 chars: %q...)", oldText[:100])
		}
		return fmt.Errorf("old text not found in file: %q", oldText)
	case count > 1:
		return fmt.Errorf("old text appears %d times in file; must be unique for safe editing", count)
	}

	newContent := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(absPath, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Glob lists files under an allowed root matching pattern.
func (ft *FileTools) Glob(ctx context.Context, pattern string) ([]string, error) {
	var root string
	if len(ft.allowed.roots) > 0 {
		root = ft.allowed.roots[0]
	}
	full := pattern
	if !filepath.IsAbs(pattern) && root != "" {
		full = filepath.Join(root, pattern)
	}

	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, err := ft.allowed.Resolve(m); err == nil {
			out = append(out, m)
		}
	}
	return out, nil
}
