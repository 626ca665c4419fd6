package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// ShellExec implements the bash tool, gated by a sandbox flag
// (config.Security.BashSandbox) and a list of blocked command
// substrings (config.Security.BlockedCommands).
type ShellExec struct {
	enabled         bool
	workingDir      string
	blockedCommands []string
	defaultTimeout  time.Duration
	maxOutputBytes  int
}

// NewShellExec creates a ShellExec. enabled mirrors
// config.Security.BashSandbox; blockedCommands mirrors
// config.Security.BlockedCommands.
func NewShellExec(enabled bool, workingDir string, blockedCommands []string) *ShellExec {
	return &ShellExec{
		enabled:         enabled,
		workingDir:      workingDir,
		blockedCommands: blockedCommands,
		defaultTimeout:  30 * time.Second,
		maxOutputBytes:  100 * 1024,
	}
}

// Spec returns the bash tool spec.
func (s *ShellExec) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:                 "bash",
		Description:          "Run a shell command and return its stdout/stderr/exit code.",
		Keywords:             []string{"run", "execute", "command", "shell", "script"},
		RequiresConfirmation: true,
		Parameters: []llm.Parameter{
			{Name: "command", Type: llm.ParamString, Required: true},
			{Name: "timeout_sec", Type: llm.ParamInteger, Description: "Timeout in seconds (max 300)."},
		},
	}
}

// Register registers the bash tool against reg.
func (s *ShellExec) Register(reg *tools.Registry) error {
	return reg.Register(s.Spec(), s.handler, "builtin")
}

func (s *ShellExec) handler(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return "", fmt.Errorf("bash: command is required")
	}

	result, err := s.exec(ctx, command, intArg(args, "timeout_sec"))
	if err != nil {
		return "", err
	}
	if result.timedOut {
		return "", fmt.Errorf("command timed out")
	}

	out := fmt.Sprintf("exit_code=%d\nstdout:\n%s", result.exitCode, result.stdout)
	if result.stderr != "" {
		out += fmt.Sprintf("\nstderr:\n%s", result.stderr)
	}
	return out, nil
}

type execResult struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
}

func (s *ShellExec) exec(ctx context.Context, command string, timeoutSec int) (*execResult, error) {
	if !s.enabled {
		return nil, fmt.Errorf("shell execution is disabled")
	}

	cmdLower := strings.ToLower(command)
	for _, blocked := range s.blockedCommands {
		if strings.Contains(cmdLower, strings.ToLower(blocked)) {
			return nil, fmt.Errorf("command blocked by security policy: matches blocked pattern %q", blocked)
		}
	}

	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &execResult{
		stdout: truncateOutput(stdout.String(), s.maxOutputBytes),
		stderr: truncateOutput(stderr.String(), s.maxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.timedOut = true
		result.exitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.exitCode = exitErr.ExitCode()
		} else {
			result.exitCode = -1
		}
	}

	return result, nil
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
