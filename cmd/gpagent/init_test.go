package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInit_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	for _, sub := range []string{"storage", "data", "models"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Errorf("expected directory %s: %v", sub, err)
		} else if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if !strings.Contains(string(data), "primary_provider: anthropic") {
		t.Error("config.yaml does not look like the embedded example config")
	}

	if !strings.Contains(buf.String(), "config.yaml") {
		t.Error("runInit output does not mention config.yaml")
	}
}

func TestRunInit_DoesNotOverwriteExistingConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	sentinel := []byte("# user-customized config\n")
	if err := os.WriteFile(cfgPath, sentinel, 0o644); err != nil {
		t.Fatalf("seed config.yaml: %v", err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	if string(data) != string(sentinel) {
		t.Error("runInit overwrote an existing config.yaml")
	}
}

func TestWriteIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	if err := writeIfMissing(path, []byte("first")); err != nil {
		t.Fatalf("writeIfMissing: %v", err)
	}
	if err := writeIfMissing(path, []byte("second")); err != nil {
		t.Fatalf("writeIfMissing: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("content = %q, want %q (should not overwrite)", data, "first")
	}
}
