package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(nil, &stdout, &stderr, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "Usage: gpagent") {
		t.Errorf("expected usage text, got %q", stdout.String())
	}
}

func TestRunHelpFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(nil, &stdout, &stderr, []string{"--help"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "Commands:") {
		t.Error("expected help text to list commands")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(nil, &stdout, &stderr, []string{"frobnicate"})
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error %q does not name the bad command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(nil, &stdout, &stderr, []string{"-bogus"})
	if err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestRunAskWithNoQuestion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(nil, &stdout, &stderr, []string{"ask"})
	if err == nil {
		t.Fatal("expected an error when ask is given no question")
	}
}

func TestRunVersionText(t *testing.T) {
	var buf bytes.Buffer
	if err := runVersion(&buf, "text"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}
	out := buf.String()
	for _, field := range []string{"version:", "git_commit:", "go_version:"} {
		if !strings.Contains(out, field) {
			t.Errorf("text output missing field %q:\n%s", field, out)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := runVersion(&buf, "json"); err != nil {
		t.Fatalf("runVersion: %v", err)
	}
	if !strings.Contains(buf.String(), `"version"`) {
		t.Errorf("expected JSON output with a version field, got %q", buf.String())
	}
}

func TestRunUnknownOutputFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(nil, &stdout, &stderr, []string{"-o", "xml", "version"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized output format")
	}
}

func TestLoadConfigMissingExplicitPathErrors(t *testing.T) {
	cfg, path, err := loadConfig("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Fatalf("expected an error for a missing explicit config path")
	}
	_ = cfg
	_ = path
}

func TestLoadConfigNoExplicitPathUsesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, path, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty (no config file found)", path)
	}
	if cfg.LLM.PrimaryProvider == "" {
		t.Error("expected a default config with a primary provider set")
	}
}
