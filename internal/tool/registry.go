// Package tool provides the tool registry and the built-in tool set.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"klix/internal/domain"
	"klix/internal/metrics"
)

// maxResultChars caps tool output forwarded back to the model.
const maxResultChars = 10000

// Registry holds all available tools and executes them by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *Registry) Register(t domain.Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Debug("replacing tool", "name", name)
	}
	r.tools[name] = t
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tool definitions sorted by name, for inclusion in
// provider requests.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool and always returns text for the model. Unknown tools
// and execution failures become error text rather than Go errors, so a bad
// call never aborts the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	t := r.Get(name)
	if t == nil {
		return fmt.Sprintf("Error: tool '%s' not found", name)
	}
	metrics.ToolExecutions.Inc()
	start := time.Now()
	result, err := t.Execute(ctx, args)
	metrics.ToolLatency.ObserveSince(start)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "err", err)
		return fmt.Sprintf("Error executing '%s': %v", name, err)
	}
	return truncateResult(result)
}

// ExecuteCall runs a model-issued tool call, decoding raw argument blobs
// when the backend passed arguments as an undecoded string.
func (r *Registry) ExecuteCall(ctx context.Context, call domain.ToolCall) string {
	args := call.Arguments
	if args == nil && call.RawArguments != "" {
		decoded, err := DecodeArguments(call.RawArguments)
		if err != nil {
			return fmt.Sprintf("Error: invalid arguments for '%s': %v", call.Name, err)
		}
		args = decoded
	}
	if args == nil {
		args = make(map[string]any)
	}
	return r.Execute(ctx, call.Name, args)
}

// DecodeArguments parses a JSON argument blob into a map.
func DecodeArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return args, nil
}

func truncateResult(s string) string {
	if len(s) <= maxResultChars {
		return s
	}
	return fmt.Sprintf("%s\n... (truncated, %d total characters)", s[:maxResultChars], len(s))
}

// argsString extracts a string argument, converting non-strings via JSON.
func argsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// argsBool extracts a boolean argument, accepting the string forms some
// models emit.
func argsBool(args map[string]any, key string, def bool) bool {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// argsInt extracts an integer argument. JSON numbers arrive as float64.
func argsInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
