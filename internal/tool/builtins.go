package tool

import "klix/internal/config"

// RegisterBuiltins installs the default tool set. Tools read the project
// root from the shared config at execute time, so a root change applies
// without re-registration.
func RegisterBuiltins(r *Registry, cfg *config.Config) {
	r.Register(NewListTool(cfg))
	r.Register(NewReadTool(cfg))
	r.Register(NewWriteTool(cfg))
	r.Register(NewAppendTool(cfg))
	r.Register(NewDeleteTool(cfg))
	r.Register(NewRunCommandTool(cfg))
	r.Register(NewWebSearchTool())
	r.Register(NewTavilySearchTool(cfg))
	r.Register(NewProjectStructureTool(cfg))
}
