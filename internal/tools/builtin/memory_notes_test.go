package builtin

import (
	"context"
	"testing"
)

func TestMemoryNotesWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	m := NewMemoryNotes(dir)
	ctx := context.Background()

	_, err := m.writeHandler(ctx, map[string]any{"note": "user", "content": "# Preferences\n\nLikes terse replies."})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	content, err := m.readHandler(ctx, map[string]any{"note": "user"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "# Preferences\n\nLikes terse replies." {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestMemoryNotesReadMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	m := NewMemoryNotes(dir)
	content, err := m.readHandler(context.Background(), map[string]any{"note": "project"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty content for a missing note, got %q", content)
	}
}

func TestMemoryNotesRejectsUnknownNote(t *testing.T) {
	dir := t.TempDir()
	m := NewMemoryNotes(dir)
	if _, err := m.readHandler(context.Background(), map[string]any{"note": "team"}); err == nil {
		t.Fatal("expected an error for an unknown note name")
	}
}
