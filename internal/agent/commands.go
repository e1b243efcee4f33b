package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"klix/internal/config"
	"klix/internal/domain"
)

// CommandResult reports how a dispatcher call ended.
type CommandResult struct {
	Handled bool
	Quit    bool
}

// ProviderFactory builds a provider from the current configuration,
// used when /model switches the backend mid-session.
type ProviderFactory func(cfg *config.Config, logger *slog.Logger) (domain.Provider, error)

// Dispatcher routes slash commands. Input starting with "/" is a command;
// everything else passes through to the agent.
type Dispatcher struct {
	agent    *Agent
	cfg      *config.Config
	factory  ProviderFactory
	renderer Renderer
	logger   *slog.Logger
}

type DispatcherConfig struct {
	Agent    *Agent
	AppCfg   *config.Config
	Factory  ProviderFactory
	Renderer Renderer
	Logger   *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = noopRenderer{}
	}
	return &Dispatcher{
		agent:    cfg.Agent,
		cfg:      cfg.AppCfg,
		factory:  cfg.Factory,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}
}

// IsCommand reports whether input should be dispatched instead of sent to
// the model.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Handle parses and runs one command. The command name is case-insensitive;
// everything after the first space is a single argument string.
func (d *Dispatcher) Handle(ctx context.Context, input string) (result CommandResult) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return CommandResult{}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", "input", input, "panic", r)
			d.renderer.Error(fmt.Sprintf("command failed: %v", r))
			result = CommandResult{Handled: true}
		}
	}()

	parts := strings.SplitN(input[1:], " ", 2)
	name := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch name {
	case "quit", "exit":
		return CommandResult{Handled: true, Quit: true}
	case "help":
		d.renderer.Info(helpText)
	case "clear":
		d.agent.Window().Clear()
		d.renderer.Success("Conversation cleared.")
	case "tools":
		d.cmdTools()
	case "config":
		d.cmdConfig(arg)
	case "status":
		d.cmdStatus()
	case "model":
		d.cmdModel(arg)
	case "memory":
		d.cmdMemory(ctx, arg)
	case "remember":
		d.cmdRemember(ctx, arg)
	case "forget":
		d.cmdForget(ctx, arg)
	case "init":
		d.cmdInit(ctx, arg)
	default:
		d.renderer.Error(fmt.Sprintf("Unknown command: /%s (try /help)", name))
	}
	return CommandResult{Handled: true}
}

const helpText = `Commands:
  /help              Show this help
  /init [path]       Set the project root and load its context
  /tools             List available tools
  /model [name]      Show or switch the provider/model
  /config [k=v]      Show configuration, or set provider/model
  /status            Show session status
  /clear             Clear the conversation
  /memory [search q] List stored memories, or search them
  /remember <text>   Store a memory
  /forget <id|all>   Delete one memory or all of them
  /quit, /exit       Leave`

func (d *Dispatcher) cmdTools() {
	defs := d.agent.Registry().Definitions()
	var b strings.Builder
	fmt.Fprintf(&b, "Available tools (%d):\n", len(defs))
	for _, def := range defs {
		fmt.Fprintf(&b, "  %-18s %s\n", def.Name, def.Description)
	}
	d.renderer.Info(strings.TrimRight(b.String(), "\n"))
}

// cmdConfig shows the configuration, or applies a provider/model change
// given as key=value.
func (d *Dispatcher) cmdConfig(arg string) {
	if arg != "" {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			d.renderer.Error("Usage: /config [key=value] (keys: provider, model)")
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "provider":
			if err := d.cfg.SwitchProvider(val); err != nil {
				d.renderer.Error(err.Error())
				return
			}
		case "model":
			d.cfg.SwitchModel(val)
		default:
			d.renderer.Error(fmt.Sprintf("Unknown config key %q (keys: provider, model)", key))
			return
		}
		d.rebuildProvider()
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Provider:     %s\n", d.cfg.Provider)
	fmt.Fprintf(&b, "Model:        %s\n", d.cfg.CurrentModel())
	fmt.Fprintf(&b, "User:         %s (%s)\n", d.cfg.User.Name, d.cfg.User.Org)
	fmt.Fprintf(&b, "Project root: %s\n", d.cfg.ProjectRoot)
	fmt.Fprintf(&b, "Memory:       enabled=%v db=%s user=%s\n",
		d.cfg.Memory.Enabled, d.cfg.Memory.DBPath, d.cfg.Memory.UserID)
	fmt.Fprintf(&b, "Window:       max=%d size=%d",
		d.cfg.Window.MaxMessages, d.cfg.Window.WindowSize)
	d.renderer.Info(b.String())
}

func (d *Dispatcher) cmdStatus() {
	usage, turns := d.agent.Window().UsageTotals()
	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s (%s)\n", d.agent.Provider().Name(), d.agent.Provider().Model())
	fmt.Fprintf(&b, "Messages in window: %d\n", d.agent.Window().Len())
	fmt.Fprintf(&b, "Turns: %d, tokens: %d prompt / %d completion / %d total\n",
		turns, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	memState := "disabled"
	if d.agent.Memory() != nil && d.agent.Memory().Enabled() {
		memState = "enabled"
	}
	fmt.Fprintf(&b, "Memory: %s", memState)
	d.renderer.Info(b.String())
}

// cmdModel shows or switches the model. A bare provider name switches the
// backend; a gemini-prefixed model routes to the cloud provider; anything
// else becomes the model of the current provider.
func (d *Dispatcher) cmdModel(arg string) {
	if arg == "" {
		d.renderer.Info(fmt.Sprintf("Current: %s (%s)", d.agent.Provider().Name(), d.agent.Provider().Model()))
		return
	}

	switch strings.ToLower(arg) {
	case config.ProviderGemini, config.ProviderOllama:
		if err := d.cfg.SwitchProvider(arg); err != nil {
			d.renderer.Error(err.Error())
			return
		}
	default:
		if strings.HasPrefix(arg, "gemini") {
			d.cfg.Provider = config.ProviderGemini
			d.cfg.Gemini.Model = arg
		} else {
			d.cfg.SwitchModel(arg)
		}
	}

	d.rebuildProvider()
}

// rebuildProvider constructs the provider for the current configuration and
// swaps it into the agent.
func (d *Dispatcher) rebuildProvider() {
	p, err := d.factory(d.cfg, d.logger)
	if err != nil {
		d.renderer.Error(fmt.Sprintf("switch failed: %v", err))
		return
	}
	d.agent.SetProvider(p)
	d.renderer.Success(fmt.Sprintf("Switched to %s (%s)", p.Name(), p.Model()))
}

func (d *Dispatcher) cmdMemory(ctx context.Context, arg string) {
	mem := d.agent.Memory()
	if mem == nil || !mem.Enabled() {
		d.renderer.Info("Memory is disabled.")
		return
	}

	if q, ok := strings.CutPrefix(strings.TrimSpace(arg), "search "); ok {
		q = strings.TrimSpace(q)
		mems := mem.Search(ctx, q)
		if len(mems) == 0 {
			d.renderer.Info(fmt.Sprintf("No memories matching %q.", q))
			return
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Memories matching %q:\n", q)
		for _, m := range mems {
			id := m.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(&b, "  [%s] %s %s\n", id, memTypeMarker(m.Type), m.Content)
		}
		d.renderer.Info(strings.TrimRight(b.String(), "\n"))
		return
	}

	mems := mem.GetAll(ctx, 20)
	if len(mems) == 0 {
		d.renderer.Info("No memories stored yet.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memories for %s:\n", mem.UserID())
	for _, m := range mems {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "  [%s] %s %s\n", id, memTypeMarker(m.Type), m.Content)
	}

	stats := mem.Stats(ctx)
	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, string(t))
	}
	sort.Strings(types)
	var counts []string
	for _, t := range types {
		counts = append(counts, fmt.Sprintf("%s=%d", t, stats[domain.MemoryType(t)]))
	}
	fmt.Fprintf(&b, "Total: %s", strings.Join(counts, " "))
	d.renderer.Info(b.String())
}

func memTypeMarker(t domain.MemoryType) string {
	switch t {
	case domain.MemoryEpisodic:
		return "📅"
	case domain.MemoryProcedural:
		return "⚙️"
	default:
		return "💡"
	}
}

func (d *Dispatcher) cmdRemember(ctx context.Context, arg string) {
	if arg == "" {
		d.renderer.Error("Usage: /remember <text>")
		return
	}
	mem := d.agent.Memory()
	if mem == nil || !mem.Enabled() {
		d.renderer.Error("Memory is disabled.")
		return
	}
	if id := mem.AddText(ctx, arg); id != "" {
		d.renderer.Success("Remembered.")
		return
	}
	d.renderer.Error("Could not store the memory.")
}

// cmdForget deletes one memory by id prefix, or everything after an
// explicit confirmation.
func (d *Dispatcher) cmdForget(ctx context.Context, arg string) {
	mem := d.agent.Memory()
	if mem == nil || !mem.Enabled() {
		d.renderer.Error("Memory is disabled.")
		return
	}
	switch strings.ToLower(arg) {
	case "":
		d.renderer.Error("Usage: /forget <id|all>")
		return
	case "all":
		d.renderer.Info("This deletes ALL memories. Type '/forget all confirm' to proceed.")
		return
	case "all confirm":
		if mem.DeleteAll(ctx) {
			d.renderer.Success("All memories deleted.")
		} else {
			d.renderer.Error("Could not delete memories.")
		}
		return
	}

	for _, m := range mem.GetAll(ctx, 100) {
		if strings.HasPrefix(m.ID, arg) {
			if mem.Delete(ctx, m.ID) {
				d.renderer.Success(fmt.Sprintf("Forgot: %s", m.Content))
			} else {
				d.renderer.Error("Could not delete the memory.")
			}
			return
		}
	}
	d.renderer.Error(fmt.Sprintf("No memory found with id prefix %q", arg))
}

// cmdInit points the session at a project directory, then surveys it and
// loads a generated summary as a retained system message, so later turns
// know the codebase. Without an argument the current project root is kept.
func (d *Dispatcher) cmdInit(ctx context.Context, arg string) {
	if arg != "" {
		info, err := os.Stat(arg)
		if err != nil {
			d.renderer.Error(fmt.Sprintf("Cannot access %s: %v", arg, err))
			return
		}
		if !info.IsDir() {
			d.renderer.Error(fmt.Sprintf("%s is not a directory", arg))
			return
		}
		d.cfg.ProjectRoot = arg
	}
	if d.cfg.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			d.cfg.ProjectRoot = wd
		}
	}

	tree := d.agent.Registry().Execute(ctx, "project_structure", nil)

	d.renderer.StartThinking()
	summary, err := d.agent.Provider().Generate(ctx, fmt.Sprintf(
		"Summarize this project for a coding assistant in at most 10 lines: main language, layout, likely entry points.\n\n%s", tree))
	d.renderer.StopThinking()
	if err != nil {
		d.renderer.Error(fmt.Sprintf("Project analysis failed: %v", err))
		return
	}

	d.agent.AppendSystem("Project context:\n" + tree + "\n\n" + summary)
	d.renderer.Success("Project context loaded.")
}
