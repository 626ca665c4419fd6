package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// GitTools implements git_status/git_diff (shelling to the local git
// binary) and open_pr (via the go-github SDK), scoped to a single
// working directory.
type GitTools struct {
	workingDir string
	github     *gogithub.Client
}

// NewGitTools creates a GitTools bound to workingDir. githubToken may be
// empty if open_pr will never be called — PR creation fails clearly
// in that case rather than at construction time.
func NewGitTools(workingDir, githubToken string) *GitTools {
	client := gogithub.NewClient(nil)
	if githubToken != "" {
		client = client.WithAuthToken(githubToken)
	}
	return &GitTools{workingDir: workingDir, github: client}
}

// Specs returns the git_status/git_diff/open_pr tool specs.
func (g *GitTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "git_status",
			Description: "Show the working tree status of the current git repository.",
			Keywords:    []string{"git", "status", "changes"},
		},
		{
			Name:        "git_diff",
			Description: "Show the unstaged diff, or the diff for a specific path.",
			Keywords:    []string{"git", "diff", "changes"},
			Parameters: []llm.Parameter{
				{Name: "path", Type: llm.ParamString, Description: "Limit the diff to this path."},
				{Name: "staged", Type: llm.ParamBoolean, Description: "Show the staged diff instead."},
			},
		},
		{
			Name:        "open_pr",
			Description: "Open a pull request on GitHub.",
			Keywords:    []string{"pr", "pull request", "github", "open"},
			Parameters: []llm.Parameter{
				{Name: "repo", Type: llm.ParamString, Required: true, Description: "owner/repo"},
				{Name: "title", Type: llm.ParamString, Required: true},
				{Name: "head", Type: llm.ParamString, Required: true, Description: "Branch containing the changes."},
				{Name: "base", Type: llm.ParamString, Required: true, Description: "Branch to merge into."},
				{Name: "body", Type: llm.ParamString},
			},
		},
	}
}

// Register registers git_status/git_diff/open_pr against reg.
func (g *GitTools) Register(reg *tools.Registry) error {
	handlers := map[string]tools.Handler{
		"git_status": g.statusHandler,
		"git_diff":   g.diffHandler,
		"open_pr":    g.openPRHandler,
	}
	for _, spec := range g.Specs() {
		if err := reg.Register(spec, handlers[spec.Name], "builtin"); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitTools) statusHandler(ctx context.Context, args map[string]any) (string, error) {
	return g.runGit(ctx, "status", "--short", "--branch")
}

func (g *GitTools) diffHandler(ctx context.Context, args map[string]any) (string, error) {
	gitArgs := []string{"diff"}
	if staged, _ := args["staged"].(bool); staged {
		gitArgs = append(gitArgs, "--staged")
	}
	if path, _ := args["path"].(string); path != "" {
		gitArgs = append(gitArgs, "--", path)
	}
	return g.runGit(ctx, gitArgs...)
}

func (g *GitTools) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if g.workingDir != "" {
		cmd.Dir = g.workingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	out := stdout.String()
	if out == "" {
		out = "(no changes)"
	}
	return out, nil
}

func (g *GitTools) openPRHandler(ctx context.Context, args map[string]any) (string, error) {
	repo, _ := args["repo"].(string)
	title, _ := args["title"].(string)
	head, _ := args["head"].(string)
	base, _ := args["base"].(string)
	body, _ := args["body"].(string)
	if repo == "" || title == "" || head == "" || base == "" {
		return "", fmt.Errorf("open_pr: repo, title, head, and base are required")
	}

	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	pr, _, err := g.github.PullRequests.Create(ctx, owner, name, &gogithub.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
	})
	if err != nil {
		return "", fmt.Errorf("open_pr: %w", err)
	}
	return pr.GetHTMLURL(), nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}
