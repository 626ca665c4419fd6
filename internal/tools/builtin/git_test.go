package builtin

import (
	"context"
	"os/exec"
	"testing"

	"github.com/waddadaa/gpagent/internal/tools"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git not usable in this environment: %v: %s", err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	return dir
}

func TestGitToolsStatusHandler(t *testing.T) {
	dir := initTestRepo(t)
	g := NewGitTools(dir, "")
	out, err := g.statusHandler(context.Background(), nil)
	if err != nil {
		t.Fatalf("statusHandler: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty status output")
	}
}

func TestGitToolsDiffHandlerNoChanges(t *testing.T) {
	dir := initTestRepo(t)
	g := NewGitTools(dir, "")
	out, err := g.diffHandler(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("diffHandler: %v", err)
	}
	if out != "(no changes)" {
		t.Errorf("diff = %q, want (no changes)", out)
	}
}

func TestGitToolsOpenPRRequiresFields(t *testing.T) {
	g := NewGitTools("", "")
	_, err := g.openPRHandler(context.Background(), map[string]any{"repo": "owner/name"})
	if err == nil {
		t.Fatal("expected error for missing title/head/base")
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("anthropic/gpagent")
	if err != nil {
		t.Fatalf("splitRepo: %v", err)
	}
	if owner != "anthropic" || name != "gpagent" {
		t.Errorf("got %q/%q, want anthropic/gpagent", owner, name)
	}

	if _, _, err := splitRepo("not-a-repo-spec"); err == nil {
		t.Error("expected error for repo without a slash")
	}
	if _, _, err := splitRepo("/name"); err == nil {
		t.Error("expected error for empty owner")
	}
}

func TestGitToolsRegister(t *testing.T) {
	reg := tools.NewRegistry()
	g := NewGitTools(t.TempDir(), "")
	if err := g.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"git_status", "git_diff", "open_pr"} {
		if _, ok := reg.GetSpec(name); !ok {
			t.Errorf("expected %s to be registered", name)
		}
	}
}
