package builtin

import (
	"context"
	"testing"

	"github.com/waddadaa/gpagent/internal/tools"
)

func newTestFileTools(t *testing.T) (*FileTools, string) {
	t.Helper()
	dir := t.TempDir()
	return NewFileTools(NewAllowedPaths([]string{dir}), 0), dir
}

func TestFileToolsWriteThenRead(t *testing.T) {
	ft, _ := newTestFileTools(t)
	ctx := context.Background()

	if err := ft.Write(ctx, "note.txt", "hello world"); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := ft.Read(ctx, "note.txt", 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "hello world" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestFileToolsReadRejectsEscape(t *testing.T) {
	ft, _ := newTestFileTools(t)
	if _, err := ft.Read(context.Background(), "../../etc/passwd", 0, 0); err == nil {
		t.Fatal("expected an error escaping the allowed root")
	}
}

func TestFileToolsReadOffsetLimit(t *testing.T) {
	ft, _ := newTestFileTools(t)
	ctx := context.Background()
	_ = ft.Write(ctx, "lines.txt", "a\nb\nc\nd\ne")

	content, err := ft.Read(ctx, "lines.txt", 2, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content != "[Lines 2-3 of 5]\nb\nc" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestFileToolsEditRequiresUniqueMatch(t *testing.T) {
	ft, _ := newTestFileTools(t)
	ctx := context.Background()
	_ = ft.Write(ctx, "dup.txt", "foo foo")

	if err := ft.Edit(ctx, "dup.txt", "foo", "bar"); err == nil {
		t.Fatal("expected an error for a non-unique match")
	}
}

func TestFileToolsEditReplacesUniqueMatch(t *testing.T) {
	ft, _ := newTestFileTools(t)
	ctx := context.Background()
	_ = ft.Write(ctx, "single.txt", "hello world")

	if err := ft.Edit(ctx, "single.txt", "world", "there"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	content, _ := ft.Read(ctx, "single.txt", 0, 0)
	if content != "hello there" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestFileToolsGlobMatchesPattern(t *testing.T) {
	ft, _ := newTestFileTools(t)
	ctx := context.Background()
	_ = ft.Write(ctx, "a.go", "package a")
	_ = ft.Write(ctx, "b.go", "package b")
	_ = ft.Write(ctx, "c.txt", "not go")

	matches, err := ft.Glob(ctx, "*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
}

func TestFileToolsRegisterRespectsEnabled(t *testing.T) {
	ft, _ := newTestFileTools(t)
	reg := tools.NewRegistry()

	err := ft.Register(reg, func(name string) bool { return name != "file_write" })
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := reg.GetSpec("file_read"); !ok {
		t.Fatal("expected file_read to be registered")
	}
	if _, ok := reg.GetSpec("file_write"); ok {
		t.Fatal("expected file_write to be skipped")
	}
}
