package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// Grep implements the grep tool: a regex search over files under an
// allowed root, returning matching lines with file:line prefixes.
type Grep struct {
	allowed *AllowedPaths
}

// NewGrep creates a Grep bounded to the given allowlist.
func NewGrep(allowed *AllowedPaths) *Grep {
	return &Grep{allowed: allowed}
}

// Spec returns the grep tool spec.
func (g *Grep) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "grep",
		Description: "Search for a regular expression across files under a directory.",
		Keywords:    []string{"search", "find", "grep", "pattern", "code"},
		Parameters: []llm.Parameter{
			{Name: "pattern", Type: llm.ParamString, Required: true},
			{Name: "path", Type: llm.ParamString, Description: "Directory to search. Defaults to the workspace root."},
			{Name: "max_results", Type: llm.ParamInteger, Description: "Maximum number of matching lines to return. Default: 200."},
		},
	}
}

// Register registers the grep tool against reg.
func (g *Grep) Register(reg *tools.Registry) error {
	return reg.Register(g.Spec(), g.handler, "builtin")
}

func (g *Grep) handler(ctx context.Context, args map[string]any) (string, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("grep: pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("grep: invalid pattern: %w", err)
	}

	path, _ := args["path"].(string)
	if path == "" && len(g.allowed.roots) > 0 {
		path = g.allowed.roots[0]
	}
	root, err := g.allowed.Resolve(path)
	if err != nil {
		return "", err
	}

	maxResults := 200
	if mr := intArg(args, "max_results"); mr > 0 {
		maxResults = mr
	}

	var matches []string
	walkErr := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || len(matches) >= maxResults {
			return nil
		}
		if _, err := g.allowed.Resolve(p); err != nil {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() && len(matches) < maxResults {
			lineNum++
			if re.MatchString(scanner.Text()) {
				rel, _ := filepath.Rel(root, p)
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNum, scanner.Text()))
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("grep: %w", walkErr)
	}

	if len(matches) == 0 {
		return "(no matches)", nil
	}
	return strings.Join(matches, "\n"), nil
}
