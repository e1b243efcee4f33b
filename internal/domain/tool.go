package domain

import "context"

// ToolParameter describes one argument of a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string | integer | boolean | number
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolDefinition is the provider-agnostic schema for one invocable tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// JSONSchema renders the parameter list in the JSON-Schema-like shape every
// provider variant consumes: an object with per-parameter properties and a
// required list collected from parameters flagged required.
func (d ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tool is the interface for agent capabilities (file ops, shell, search).
// Execute may return an error; the registry converts every failure into a
// textual result, so errors never propagate past the registry boundary.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args map[string]any) (string, error)
}
