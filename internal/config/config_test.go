package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("llm:\n  primary_provider: anthropic\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("llm:\n  primary_provider: anthropic\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(
		"llm:\n  primary_provider: anthropic\napi_keys:\n  anthropic: ${GPAGENT_TEST_TOKEN}\n"), 0600)
	os.Setenv("GPAGENT_TEST_TOKEN", "secret123")
	defer os.Unsetenv("GPAGENT_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.APIKeys.Anthropic != "secret123" {
		t.Errorf("api_keys.anthropic = %q, want %q", cfg.APIKeys.Anthropic, "secret123")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(
		"llm:\n  primary_provider: anthropic\napi_keys:\n  anthropic: sk-ant-test-key\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.APIKeys.Anthropic != "sk-ant-test-key" {
		t.Errorf("api_keys.anthropic = %q, want %q", cfg.APIKeys.Anthropic, "sk-ant-test-key")
	}
}

func TestLoad_MergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(
		"llm:\n  primary_provider: anthropic\n  primary_model: claude-opus-4-5-20251101\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Concurrency.MaxParallelTools == 0 {
		t.Error("expected default concurrency settings to survive a partial config file")
	}
	if len(cfg.Tools.Builtin) == 0 {
		t.Error("expected default builtin tool set to survive a partial config file")
	}
}

func TestValidate_RequiresPrimaryProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.PrimaryProvider = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing llm.primary_provider")
	}
}

func TestValidate_CompactionThresholdBound(t *testing.T) {
	cfg := Default()
	cfg.Context.CompactionThreshold = cfg.Context.MaxTokens + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for compaction_threshold exceeding max_tokens")
	}
}

func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should pass Validate(), got: %v", err)
	}
}

func TestLoadOrDefault_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault error: %v", err)
	}
	if cfg.LLM.PrimaryProvider != Default().LLM.PrimaryProvider {
		t.Errorf("expected default LLM config, got %+v", cfg.LLM)
	}
}

func TestPathResolver_ResolvesNamedPrefix(t *testing.T) {
	cfg := Default()
	cfg.Security.AllowedPaths = []string{"/home/user/workspace"}
	r := cfg.PathResolver()
	resolved, err := r.Resolve("workspace:notes.md")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved != "/home/user/workspace/notes.md" {
		t.Errorf("Resolve = %q, want %q", resolved, "/home/user/workspace/notes.md")
	}
}
