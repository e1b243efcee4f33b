package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"klix/internal/config"
)

func shellConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ProjectRoot: t.TempDir(),
		Shell:       config.ShellConfig{TimeoutSeconds: 10, MaxOutputBytes: 4096},
	}
}

func TestRunCommandStdout(t *testing.T) {
	out, err := NewRunCommandTool(shellConfig(t)).Execute(context.Background(), map[string]any{
		"command": "echo hello",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "STDOUT:\nhello") {
		t.Errorf("stdout section missing:\n%s", out)
	}
	if !strings.Contains(out, "Exit code: 0") {
		t.Errorf("exit code missing:\n%s", out)
	}
}

func TestRunCommandNonZeroExit(t *testing.T) {
	out, err := NewRunCommandTool(shellConfig(t)).Execute(context.Background(), map[string]any{
		"command": "echo oops >&2; exit 3",
	})
	if err != nil {
		t.Fatalf("non-zero exit should not be a Go error: %v", err)
	}
	if !strings.Contains(out, "STDERR:\noops") {
		t.Errorf("stderr section missing:\n%s", out)
	}
	if !strings.Contains(out, "Exit code: 3") {
		t.Errorf("exit code missing:\n%s", out)
	}
}

func TestRunCommandNoOutput(t *testing.T) {
	out, err := NewRunCommandTool(shellConfig(t)).Execute(context.Background(), map[string]any{
		"command": "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Command executed successfully (no output)." {
		t.Errorf("unexpected silent-success text: %q", out)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	cfg := shellConfig(t)
	cfg.Shell.TimeoutSeconds = 1

	out, err := NewRunCommandTool(cfg).Execute(context.Background(), map[string]any{
		"command": "sleep 5",
	})
	if err != nil {
		t.Fatalf("timeout should surface as text: %v", err)
	}
	if !strings.Contains(out, "timed out") {
		t.Errorf("timeout text missing: %q", out)
	}
}

func TestRunCommandRunsInProjectRoot(t *testing.T) {
	cfg := shellConfig(t)
	out, err := NewRunCommandTool(cfg).Execute(context.Background(), map[string]any{
		"command": "pwd",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, cfg.ProjectRoot) {
		t.Errorf("command should run in the project root, got:\n%s", out)
	}
}

func TestRunCommandWorkingDir(t *testing.T) {
	cfg := shellConfig(t)
	if err := os.Mkdir(filepath.Join(cfg.ProjectRoot, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	rc := NewRunCommandTool(cfg)
	out, err := rc.Execute(context.Background(), map[string]any{
		"command":     "pwd",
		"working_dir": "sub",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join(cfg.ProjectRoot, "sub")) {
		t.Errorf("command should run in the requested directory:\n%s", out)
	}

	if _, err := rc.Execute(context.Background(), map[string]any{
		"command":     "pwd",
		"working_dir": "nope",
	}); err == nil {
		t.Error("missing working directory should error")
	}
}

func TestRunCommandTimeoutArgument(t *testing.T) {
	out, err := NewRunCommandTool(shellConfig(t)).Execute(context.Background(), map[string]any{
		"command":         "sleep 5",
		"timeout_seconds": float64(1),
	})
	if err != nil {
		t.Fatalf("timeout should surface as text: %v", err)
	}
	if !strings.Contains(out, "timed out after 1 seconds") {
		t.Errorf("per-call timeout not honored: %q", out)
	}
}

func TestRunCommandMissingArgument(t *testing.T) {
	if _, err := NewRunCommandTool(shellConfig(t)).Execute(context.Background(), nil); err == nil {
		t.Error("empty command should error")
	}
}
