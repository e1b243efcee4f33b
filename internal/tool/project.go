package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"klix/internal/config"
	"klix/internal/domain"
)

const defaultTreeDepth = 3

// skipDirs are directories omitted from the project tree.
var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	".git":         true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	".cache":       true,
	".idea":        true,
	".vscode":      true,
	"vendor":       true,
}

// ProjectStructureTool renders the project directory tree.
type ProjectStructureTool struct {
	cfg *config.Config
}

func NewProjectStructureTool(cfg *config.Config) *ProjectStructureTool {
	return &ProjectStructureTool{cfg: cfg}
}

func (t *ProjectStructureTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "project_structure",
		Description: "Show the project directory tree. Dependency and build directories are skipped.",
		Parameters: []domain.ToolParameter{
			{Name: "max_depth", Type: "integer", Description: "Maximum directory depth (default 3)"},
			{Name: "include_hidden", Type: "boolean", Description: "Include hidden directories (default false)"},
		},
	}
}

func (t *ProjectStructureTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	root := t.cfg.ProjectRoot
	if root == "" {
		root = "."
	}
	maxDepth := argsInt(args, "max_depth", defaultTreeDepth)
	if maxDepth < 1 {
		maxDepth = 1
	}
	includeHidden := argsBool(args, "include_hidden", false)

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📂 %s\n", filepath.Base(abs))
	if err := writeTree(&b, abs, "", 1, maxDepth, includeHidden); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeTree(b *strings.Builder, dir, prefix string, depth, maxDepth int, includeHidden bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}

	var kept []os.DirEntry
	for _, e := range entries {
		if e.IsDir() && skipDirs[e.Name()] {
			continue
		}
		if !includeHidden && e.IsDir() && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].IsDir() != kept[j].IsDir() {
			return kept[i].IsDir()
		}
		return kept[i].Name() < kept[j].Name()
	})

	for i, e := range kept {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(kept)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		if e.IsDir() {
			fmt.Fprintf(b, "%s%s📁 %s/\n", prefix, connector, e.Name())
			if depth < maxDepth {
				if err := writeTree(b, filepath.Join(dir, e.Name()), childPrefix, depth+1, maxDepth, includeHidden); err != nil {
					return err
				}
			}
			continue
		}
		fmt.Fprintf(b, "%s%s📄 %s\n", prefix, connector, e.Name())
	}
	return nil
}

var _ domain.Tool = (*ProjectStructureTool)(nil)
