package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGrepFindsMatchingLines(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc Foo() {}\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\nfunc Bar() {}\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	g := NewGrep(NewAllowedPaths([]string{dir}))
	out, err := g.handler(context.Background(), map[string]any{"pattern": "func Foo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "a.go") || strings.Contains(out, "b.go") {
		t.Fatalf("unexpected match set: %q", out)
	}
}

func TestGrepNoMatches(t *testing.T) {
	dir := t.TempDir()
	g := NewGrep(NewAllowedPaths([]string{dir}))
	out, err := g.handler(context.Background(), map[string]any{"pattern": "nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "(no matches)" {
		t.Fatalf("expected no-match marker, got %q", out)
	}
}

func TestGrepInvalidPatternFails(t *testing.T) {
	dir := t.TempDir()
	g := NewGrep(NewAllowedPaths([]string{dir}))
	if _, err := g.handler(context.Background(), map[string]any{"pattern": "["}); err == nil {
		t.Fatal("expected an error for an invalid regex")
	}
}
