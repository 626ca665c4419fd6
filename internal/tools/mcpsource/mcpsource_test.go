package mcpsource

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/waddadaa/gpagent/internal/llm"
)

func TestConvertSpecMapsRequiredAndTypes(t *testing.T) {
	tool := mcp.Tool{
		Name:        "search_issues",
		Description: "Search issues in a tracker",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string", "description": "search text"},
				"limit": map[string]any{"type": "integer"},
			},
			Required: []string{"query"},
		},
	}

	spec := convertSpec("tracker", tool)
	if spec.Name != "tracker__search_issues" {
		t.Fatalf("unexpected name: %s", spec.Name)
	}
	if len(spec.Parameters) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(spec.Parameters))
	}

	byName := make(map[string]llm.Parameter, len(spec.Parameters))
	for _, p := range spec.Parameters {
		byName[p.Name] = p
	}

	if !byName["query"].Required || byName["query"].Type != llm.ParamString {
		t.Fatalf("unexpected query param: %+v", byName["query"])
	}
	if byName["limit"].Required || byName["limit"].Type != llm.ParamInteger {
		t.Fatalf("unexpected limit param: %+v", byName["limit"])
	}
}

func TestJSONSchemaTypeMapsKnownKinds(t *testing.T) {
	cases := map[string]llm.ParamType{
		"integer": llm.ParamInteger,
		"number":  llm.ParamNumber,
		"boolean": llm.ParamBoolean,
		"array":   llm.ParamArray,
		"object":  llm.ParamObject,
		"unknown": llm.ParamString,
	}
	for in, want := range cases {
		if got := jsonSchemaType(in); got != want {
			t.Errorf("jsonSchemaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentTextJoinsTextBlocksOnly(t *testing.T) {
	blocks := []mcp.Content{
		mcp.TextContent{Type: "text", Text: "first"},
		mcp.TextContent{Type: "text", Text: "second"},
	}
	if got := contentText(blocks); got != "first\nsecond" {
		t.Fatalf("unexpected joined text: %q", got)
	}
}

func TestContentTextEmptyForNoBlocks(t *testing.T) {
	if got := contentText(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
