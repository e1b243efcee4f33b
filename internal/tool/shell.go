package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"klix/internal/config"
	"klix/internal/domain"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
)

// RunCommandTool executes a shell command in the project directory.
type RunCommandTool struct {
	cfg *config.Config
}

func NewRunCommandTool(cfg *config.Config) *RunCommandTool {
	return &RunCommandTool{cfg: cfg}
}

func (t *RunCommandTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "run_command",
		Description: "Execute a shell command in the project directory. Returns stdout, stderr and the exit code.",
		Parameters: []domain.ToolParameter{
			{Name: "command", Type: "string", Description: "The shell command to execute (e.g. 'go test ./...', 'git status')", Required: true},
			{Name: "working_dir", Type: "string", Description: "Directory to run in, relative to the project root (default project root)"},
			{Name: "timeout_seconds", Type: "integer", Description: "Seconds before the command is killed (default 30)"},
		},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(argsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("missing argument: command")
	}

	cfgTimeout := t.cfg.Shell.TimeoutSeconds
	if cfgTimeout <= 0 {
		cfgTimeout = defaultShellTimeout
	}
	timeoutSec := argsInt(args, "timeout_seconds", cfgTimeout)
	if timeoutSec <= 0 {
		timeoutSec = cfgTimeout
	}
	maxBytes := t.cfg.Shell.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}

	dir := t.cfg.ProjectRoot
	if wd := argsString(args, "working_dir"); wd != "" {
		resolved, err := resolvePath(t.cfg.ProjectRoot, wd)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("working directory %s does not exist", wd)
		}
		dir = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	// sh -c keeps pipes, redirects and quoting working.
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %d seconds", timeoutSec), nil
	}

	exitCode := 0
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return "", fmt.Errorf("run command: %w", runErr)
		}
	}

	outStr := capOutput(stdout.String(), maxBytes)
	errStr := capOutput(stderr.String(), maxBytes)
	if outStr == "" && errStr == "" && exitCode == 0 {
		return "Command executed successfully (no output).", nil
	}

	var b strings.Builder
	if outStr != "" {
		fmt.Fprintf(&b, "STDOUT:\n%s\n\n", strings.TrimRight(outStr, "\n"))
	}
	if errStr != "" {
		fmt.Fprintf(&b, "STDERR:\n%s\n\n", strings.TrimRight(errStr, "\n"))
	}
	fmt.Fprintf(&b, "Exit code: %d", exitCode)
	return b.String(), nil
}

func capOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (output truncated)"
}

var _ domain.Tool = (*RunCommandTool)(nil)
