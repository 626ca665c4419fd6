package builtin

import (
	"github.com/waddadaa/gpagent/internal/fetch"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/search"
	"github.com/waddadaa/gpagent/internal/tools"
)

// RegisterWebFetch registers web_fetch against reg, reusing the
// existing generic Fetcher and its ToolHandler — no adaptation needed,
// the handler signature already matches tools.Handler exactly.
func RegisterWebFetch(reg *tools.Registry, f *fetch.Fetcher) error {
	spec := llm.ToolSpec{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its readable text content.",
		Keywords:    []string{"fetch", "url", "website", "page", "download", "http"},
		Parameters: []llm.Parameter{
			{Name: "url", Type: llm.ParamString, Required: true},
			{Name: "max_chars", Type: llm.ParamInteger, Description: "Maximum characters to return. Default: 50000."},
		},
	}
	return reg.Register(spec, fetch.ToolHandler(f), "builtin")
}

// RegisterWebSearch registers web_search against reg, reusing the
// existing generic search Manager and its ToolHandler.
func RegisterWebSearch(reg *tools.Registry, mgr *search.Manager) error {
	spec := llm.ToolSpec{
		Name:        "web_search",
		Description: "Search the web and return a list of results.",
		Keywords:    []string{"search", "web", "internet", "find", "lookup"},
		Parameters: []llm.Parameter{
			{Name: "query", Type: llm.ParamString, Required: true},
			{Name: "count", Type: llm.ParamInteger, Description: "Maximum number of results to return (1-10). Default: 5."},
			{Name: "language", Type: llm.ParamString, Description: "ISO 639-1 language code for results."},
			{Name: "provider", Type: llm.ParamString, Description: "Search provider to use. Omit for default."},
		},
	}
	return reg.Register(spec, search.ToolHandler(mgr), "builtin")
}
