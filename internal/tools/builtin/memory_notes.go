package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// noteFiles maps a logical note name to its filename on disk.
var noteFiles = map[string]string{
	"user":    "user_memory.md",
	"project": "project_memory.md",
}

// MemoryNotes implements memory_note_read/memory_note_write over
// user_memory.md/project_memory.md under a single directory, validating
// written content as Markdown via goldmark before it is persisted.
type MemoryNotes struct {
	dir string
}

// NewMemoryNotes creates a MemoryNotes rooted at dir.
func NewMemoryNotes(dir string) *MemoryNotes {
	return &MemoryNotes{dir: dir}
}

// Specs returns the memory_note_read/memory_note_write tool specs.
func (m *MemoryNotes) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "memory_note_read",
			Description: "Read the user or project memory note.",
			Keywords:    []string{"memory", "note", "read"},
			Parameters: []llm.Parameter{
				{Name: "note", Type: llm.ParamString, Required: true, Enum: []string{"user", "project"}},
			},
		},
		{
			Name:        "memory_note_write",
			Description: "Overwrite the user or project memory note with new Markdown content.",
			Keywords:    []string{"memory", "note", "write", "update"},
			Parameters: []llm.Parameter{
				{Name: "note", Type: llm.ParamString, Required: true, Enum: []string{"user", "project"}},
				{Name: "content", Type: llm.ParamString, Required: true},
			},
		},
	}
}

// Register registers memory_note_read/memory_note_write against reg.
func (m *MemoryNotes) Register(reg *tools.Registry) error {
	handlers := map[string]tools.Handler{
		"memory_note_read":  m.readHandler,
		"memory_note_write": m.writeHandler,
	}
	for _, spec := range m.Specs() {
		if err := reg.Register(spec, handlers[spec.Name], "builtin"); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the current content of the named note ("user" or
// "project"), or "" if it has never been written. Exported so the
// Orchestrator can pull the same Markdown into the context window's
// User/Project Memory layers without going through the tool-call path.
func (m *MemoryNotes) Read(note string) (string, error) {
	filename, ok := noteFiles[note]
	if !ok {
		return "", fmt.Errorf("memory_note_read: note must be %q or %q", "user", "project")
	}

	data, err := os.ReadFile(filepath.Join(m.dir, filename))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memory_note_read: %w", err)
	}
	return string(data), nil
}

func (m *MemoryNotes) readHandler(ctx context.Context, args map[string]any) (string, error) {
	note, _ := args["note"].(string)
	return m.Read(note)
}

func (m *MemoryNotes) writeHandler(ctx context.Context, args map[string]any) (string, error) {
	note, _ := args["note"].(string)
	content, _ := args["content"].(string)
	filename, ok := noteFiles[note]
	if !ok {
		return "", fmt.Errorf("memory_note_write: note must be %q or %q", "user", "project")
	}

	var discard bytes.Buffer
	if err := goldmark.Convert([]byte(content), &discard); err != nil {
		return "", fmt.Errorf("memory_note_write: content is not valid Markdown: %w", err)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("memory_note_write: %w", err)
	}
	path := filepath.Join(m.dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("memory_note_write: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), filename), nil
}
