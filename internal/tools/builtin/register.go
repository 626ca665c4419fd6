package builtin

import (
	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/fetch"
	"github.com/waddadaa/gpagent/internal/search"
	"github.com/waddadaa/gpagent/internal/tools"
)

// Deps carries the constructed dependencies builtin handlers need beyond
// configuration — each already owns its own runtime state, matching
// tools.Handler's "bound at construction time" convention.
type Deps struct {
	Fetcher       *fetch.Fetcher
	SearchManager *search.Manager
	GitHubToken   string
	NotesDir      string
}

// RegisterAll registers every builtin tool enabled by cfg against reg.
// A tool absent from cfg.Tools.Builtin registers enabled by default;
// a tool present with Enabled=false is skipped entirely.
func RegisterAll(reg *tools.Registry, cfg *config.Config, deps Deps) error {
	enabled := func(name string) bool {
		tc, ok := cfg.Tools.Builtin[name]
		return !ok || tc.Enabled
	}

	allowed := NewAllowedPaths(cfg.Security.AllowedPaths)

	maxLines := 0
	if tc, ok := cfg.Tools.Builtin["file_read"]; ok {
		maxLines = tc.MaxLines
	}

	registerIf := func(name string, fn func() error) error {
		if !enabled(name) {
			return nil
		}
		return fn()
	}

	fileTools := NewFileTools(allowed, maxLines)
	if err := fileTools.Register(reg, enabled); err != nil {
		return err
	}

	if err := registerIf("bash", func() error {
		shell := NewShellExec(cfg.Security.BashSandbox, "", cfg.Security.BlockedCommands)
		return shell.Register(reg)
	}); err != nil {
		return err
	}

	if err := registerIf("grep", func() error {
		return NewGrep(allowed).Register(reg)
	}); err != nil {
		return err
	}

	if deps.Fetcher != nil {
		if err := registerIf("web_fetch", func() error {
			return RegisterWebFetch(reg, deps.Fetcher)
		}); err != nil {
			return err
		}
	}

	if deps.SearchManager != nil {
		if err := registerIf("web_search", func() error {
			return RegisterWebSearch(reg, deps.SearchManager)
		}); err != nil {
			return err
		}
	}

	var gitRoot string
	if len(cfg.Security.AllowedPaths) > 0 {
		gitRoot = cfg.Security.AllowedPaths[0]
	}
	if err := registerIf("git_status", func() error {
		return NewGitTools(gitRoot, deps.GitHubToken).Register(reg)
	}); err != nil {
		return err
	}

	if deps.NotesDir != "" {
		if err := registerIf("memory_note_read", func() error {
			return NewMemoryNotes(deps.NotesDir).Register(reg)
		}); err != nil {
			return err
		}
	}

	if err := registerIf("ask_user", func() error {
		return RegisterAskUser(reg)
	}); err != nil {
		return err
	}

	return nil
}
