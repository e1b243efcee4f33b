package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"klix/internal/config"
	"klix/internal/domain"
)

// resolvePath resolves a path relative to the project root and rejects
// traversal outside it.
func resolvePath(root, path string) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if root != "" {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolve project root: %w", err)
		}
		if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the project directory", path)
		}
	}
	return resolved, nil
}

func formatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

// --- ListTool ---

// ListTool lists a directory inside the project.
type ListTool struct {
	cfg *config.Config
}

func NewListTool(cfg *config.Config) *ListTool { return &ListTool{cfg: cfg} }

func (t *ListTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "list",
		Description: "List files and directories at a path inside the project. Use '.' or omit for the project root.",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the project root"},
			{Name: "show_hidden", Type: "boolean", Description: "Include dotfiles in the listing (default false)"},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := argsString(args, "path")
	if path == "" {
		path = "."
	}
	showHidden := argsBool(args, "show_hidden", false)
	resolved, err := resolvePath(t.cfg.ProjectRoot, path)
	if err != nil {
		return "", err
	}
	all, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list directory: %w", err)
	}

	entries := all[:0]
	for _, e := range all {
		if !showHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n", path)
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "📁 %s/\n", e.Name())
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = " (" + formatSize(info.Size()) + ")"
		}
		fmt.Fprintf(&b, "📄 %s%s\n", e.Name(), size)
	}
	if len(entries) == 0 {
		b.WriteString("(empty)\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// --- ReadTool ---

// ReadTool reads a file with line numbers, optionally a line range.
type ReadTool struct {
	cfg *config.Config
}

func NewReadTool(cfg *config.Config) *ReadTool { return &ReadTool{cfg: cfg} }

func (t *ReadTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "read",
		Description: "Read a file from the project. Returns numbered lines. Optionally pass start_line and end_line (1-based, inclusive) to read a slice.",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the project root", Required: true},
			{Name: "start_line", Type: "integer", Description: "First line to read (1-based)"},
			{Name: "end_line", Type: "integer", Description: "Last line to read (inclusive)"},
		},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := argsString(args, "path")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.ProjectRoot, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", fmt.Errorf("%s is a binary file and cannot be displayed as text", path)
	}

	lines := strings.Split(string(data), "\n")
	start := argsInt(args, "start_line", 1)
	end := argsInt(args, "end_line", len(lines))
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("invalid line range: %d-%d (file has %d lines)", start, end, len(lines))
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i, lines[i-1])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// --- WriteTool ---

// WriteTool creates or overwrites a file.
type WriteTool struct {
	cfg *config.Config
}

func NewWriteTool(cfg *config.Config) *WriteTool { return &WriteTool{cfg: cfg} }

func (t *WriteTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "write",
		Description: "Write content to a file, creating it (and parent directories) if needed, overwriting if it exists.",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the project root", Required: true},
			{Name: "content", Type: "string", Description: "Full content to write", Required: true},
			{Name: "create_parents", Type: "boolean", Description: "Create missing parent directories (default true)"},
		},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := argsString(args, "path")
	content := argsString(args, "content")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.ProjectRoot, path)
	if err != nil {
		return "", err
	}
	_, statErr := os.Stat(resolved)
	existed := statErr == nil

	parent := filepath.Dir(resolved)
	if argsBool(args, "create_parents", true) {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("create directory: %w", err)
		}
	} else if _, err := os.Stat(parent); err != nil {
		return "", fmt.Errorf("parent directory %s does not exist", filepath.Dir(path))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	verb := "Created"
	if existed {
		verb = "Updated"
	}
	lines := strings.Count(content, "\n") + 1
	if content == "" {
		lines = 0
	}
	return fmt.Sprintf("%s %s (%d lines, %d bytes)", verb, path, lines, len(content)), nil
}

// --- AppendTool ---

// AppendTool appends content to a file, creating it if missing.
type AppendTool struct {
	cfg *config.Config
}

func NewAppendTool(cfg *config.Config) *AppendTool { return &AppendTool{cfg: cfg} }

func (t *AppendTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "append",
		Description: "Append content to the end of a file, creating the file if it does not exist.",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the project root", Required: true},
			{Name: "content", Type: "string", Description: "Content to append", Required: true},
		},
	}
}

func (t *AppendTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := argsString(args, "path")
	content := argsString(args, "content")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.ProjectRoot, path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("append: %w", err)
	}
	return fmt.Sprintf("Appended %d bytes to %s", len(content), path), nil
}

// --- DeleteTool ---

// DeleteTool removes a single file.
type DeleteTool struct {
	cfg *config.Config
}

func NewDeleteTool(cfg *config.Config) *DeleteTool { return &DeleteTool{cfg: cfg} }

func (t *DeleteTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "delete",
		Description: "Delete a file from the project. Directories are refused.",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Description: "File path relative to the project root", Required: true},
		},
	}
}

func (t *DeleteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := argsString(args, "path")
	if path == "" {
		return "", fmt.Errorf("missing argument: path")
	}
	resolved, err := resolvePath(t.cfg.ProjectRoot, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory; only files can be deleted", path)
	}
	if err := os.Remove(resolved); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	return fmt.Sprintf("Deleted %s", path), nil
}

var (
	_ domain.Tool = (*ListTool)(nil)
	_ domain.Tool = (*ReadTool)(nil)
	_ domain.Tool = (*WriteTool)(nil)
	_ domain.Tool = (*AppendTool)(nil)
	_ domain.Tool = (*DeleteTool)(nil)
)
