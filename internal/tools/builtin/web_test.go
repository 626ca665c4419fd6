package builtin

import (
	"testing"

	"github.com/waddadaa/gpagent/internal/fetch"
	"github.com/waddadaa/gpagent/internal/search"
	"github.com/waddadaa/gpagent/internal/tools"
)

func TestRegisterWebFetch(t *testing.T) {
	reg := tools.NewRegistry()
	if err := RegisterWebFetch(reg, fetch.New()); err != nil {
		t.Fatalf("RegisterWebFetch: %v", err)
	}
	spec, ok := reg.GetSpec("web_fetch")
	if !ok {
		t.Fatal("expected web_fetch to be registered")
	}
	if spec.Description == "" {
		t.Error("expected a description")
	}
}

func TestRegisterWebSearch(t *testing.T) {
	reg := tools.NewRegistry()
	mgr := search.NewManager("searxng")
	if err := RegisterWebSearch(reg, mgr); err != nil {
		t.Fatalf("RegisterWebSearch: %v", err)
	}
	if _, ok := reg.GetSpec("web_search"); !ok {
		t.Fatal("expected web_search to be registered")
	}
}
