package builtin

import (
	"path/filepath"
	"testing"
)

func TestAllowedPathsResolvesWithinRoot(t *testing.T) {
	dir := t.TempDir()
	a := NewAllowedPaths([]string{dir})

	resolved, err := a.Resolve("notes/todo.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "notes/todo.md")
	if resolved != want {
		t.Fatalf("got %q, want %q", resolved, want)
	}
}

func TestAllowedPathsRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	a := NewAllowedPaths([]string{dir})

	if _, err := a.Resolve(filepath.Join(dir, "../outside.txt")); err == nil {
		t.Fatal("expected an error escaping the allowed root")
	}
}

func TestAllowedPathsAbsolutePathOutsideRootsRejected(t *testing.T) {
	a := NewAllowedPaths([]string{t.TempDir()})
	if _, err := a.Resolve("/etc/passwd"); err == nil {
		t.Fatal("expected an error for an absolute path outside any root")
	}
}
