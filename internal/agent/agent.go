package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"klix/internal/config"
	"klix/internal/domain"
	"klix/internal/memory"
	"klix/internal/metrics"
	"klix/internal/tool"
)

// Renderer is the output surface the agent talks to. The terminal channel
// implements it; the REST channel uses Exchange and needs none.
type Renderer interface {
	Message(content string)
	ToolCall(name string, args map[string]any)
	Info(msg string)
	Success(msg string)
	Error(msg string)
	StartThinking()
	StopThinking()
}

// Agent drives one conversation: window management, model calls, tool
// execution and post-turn memory extraction.
type Agent struct {
	mu       sync.Mutex
	provider domain.Provider
	registry *tool.Registry
	memory   *memory.Service
	window   *Window
	renderer Renderer
	cfg      *config.Config
	logger   *slog.Logger
}

type Config struct {
	Provider domain.Provider
	Registry *tool.Registry
	Memory   *memory.Service
	Window   *Window
	Renderer Renderer
	AppCfg   *config.Config
	Logger   *slog.Logger
}

func New(cfg Config) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Window == nil {
		max, win := defaultMaxMessages, defaultWindowSize
		if cfg.AppCfg != nil {
			max, win = cfg.AppCfg.Window.MaxMessages, cfg.AppCfg.Window.WindowSize
		}
		cfg.Window = NewWindow(max, win)
	}
	a := &Agent{
		provider: cfg.Provider,
		registry: cfg.Registry,
		memory:   cfg.Memory,
		window:   cfg.Window,
		renderer: cfg.Renderer,
		cfg:      cfg.AppCfg,
		logger:   cfg.Logger,
	}
	if a.renderer == nil {
		a.renderer = noopRenderer{}
	}
	a.window.Add(domain.Message{Role: domain.RoleSystem, Content: cfg.Provider.DefaultSystemPrompt()})
	return a
}

func (a *Agent) Window() *Window          { return a.window }
func (a *Agent) Memory() *memory.Service  { return a.memory }
func (a *Agent) Registry() *tool.Registry { return a.registry }

func (a *Agent) Provider() domain.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider
}

// SetProvider swaps the backend mid-session. History carries over.
func (a *Agent) SetProvider(p domain.Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = p
}

// AppendSystem adds a retained system message, used by /init to load
// project context into the conversation.
func (a *Agent) AppendSystem(content string) {
	a.window.Add(domain.Message{Role: domain.RoleSystem, Content: content})
}

// Turn runs one full user turn: memory lookup, model call, tool execution,
// one follow-up call, and memory extraction. The user message stays in the
// window even when the model call fails, so a retry has context.
func (a *Agent) Turn(ctx context.Context, input string) error {
	metrics.TurnsTotal.Inc()

	memCtx := ""
	if a.memory != nil {
		memCtx = a.memory.MemoryContext(ctx, input)
	}

	a.window.Add(domain.Message{Role: domain.RoleUser, Content: input})

	resp, err := a.callModel(ctx, memCtx)
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	a.window.Add(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	a.window.RecordUsage(resp.Usage)
	if resp.Content != "" {
		a.renderer.Message(resp.Content)
	}

	final := resp.Content
	if resp.HasToolCalls() {
		final, err = a.runTools(ctx, resp.ToolCalls, memCtx)
		if err != nil {
			a.renderer.Error(err.Error())
			return err
		}
	}

	if final == "" && !resp.HasToolCalls() {
		a.renderer.Info("(no response)")
	}

	if a.memory != nil && a.cfg != nil && a.cfg.Memory.AutoExtract {
		if n := a.memory.ExtractAndStore(ctx, a.Provider(), input, final); n > 0 {
			a.logger.Debug("stored memories", "count", n)
		}
	}
	return nil
}

// runTools executes the model's tool calls in order, then makes exactly one
// follow-up call. Tool calls in the follow-up are rendered but not executed.
func (a *Agent) runTools(ctx context.Context, calls []domain.ToolCall, memCtx string) (string, error) {
	for _, call := range calls {
		a.renderer.ToolCall(call.Name, call.Arguments)
		result := a.registry.ExecuteCall(ctx, call)
		a.window.Add(domain.Message{
			Role:       domain.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}

	resp, err := a.callModel(ctx, memCtx)
	if err != nil {
		return "", err
	}

	a.window.Add(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	a.window.RecordUsage(resp.Usage)

	if resp.Content != "" {
		a.renderer.Message(resp.Content)
	}
	for _, call := range resp.ToolCalls {
		a.renderer.Info(fmt.Sprintf("(deferred tool request: %s)", call.Name))
	}
	return resp.Content, nil
}

// withMemoryContext folds recalled memories into the last system message of
// an outbound request, so providers that honor a single system instruction
// keep the session prompt. The window never stores the memory context.
func withMemoryContext(msgs []domain.Message, memCtx string) []domain.Message {
	if memCtx == "" {
		return msgs
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleSystem {
			msgs[i].Content += "\n\n" + memCtx
			return msgs
		}
	}
	return append(msgs, domain.Message{Role: domain.RoleSystem, Content: memCtx})
}

// callModel sends the current window to the provider, with the memory
// context merged into the request copy only.
func (a *Agent) callModel(ctx context.Context, memCtx string) (*domain.ChatResponse, error) {
	msgs := withMemoryContext(a.window.Snapshot(), memCtx)

	a.renderer.StartThinking()
	defer a.renderer.StopThinking()

	metrics.ModelRequestsTotal.Inc()
	start := time.Now()
	resp, err := a.Provider().Chat(ctx, domain.ChatRequest{
		Messages: msgs,
		Tools:    a.registry.Definitions(),
	})
	metrics.ModelLatency.ObserveSince(start)
	if err != nil {
		metrics.ModelErrorsTotal.Inc()
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	return resp, nil
}

// Exchange answers a single stateless request on top of a caller-supplied
// history. Used by the REST channel. Returns the reply and whether a tool
// ran during the exchange.
func (a *Agent) Exchange(ctx context.Context, history []domain.Message, input string) (string, bool, error) {
	msgs := make([]domain.Message, 0, len(history)+3)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: a.Provider().DefaultSystemPrompt()})
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: input})

	if a.memory != nil {
		msgs = withMemoryContext(msgs, a.memory.MemoryContext(ctx, input))
	}

	req := domain.ChatRequest{Messages: msgs, Tools: a.registry.Definitions()}
	resp, err := a.Provider().Chat(ctx, req)
	if err != nil {
		return "", false, err
	}
	if !resp.HasToolCalls() {
		return resp.Content, false, nil
	}

	msgs = append(msgs, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	for _, call := range resp.ToolCalls {
		result := a.registry.ExecuteCall(ctx, call)
		msgs = append(msgs, domain.Message{
			Role:       domain.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}

	followUp, err := a.Provider().Chat(ctx, domain.ChatRequest{Messages: msgs, Tools: a.registry.Definitions()})
	if err != nil {
		return "", true, err
	}
	return followUp.Content, true, nil
}

type noopRenderer struct{}

func (noopRenderer) Message(string)                  {}
func (noopRenderer) ToolCall(string, map[string]any) {}
func (noopRenderer) Info(string)                     {}
func (noopRenderer) Success(string)                  {}
func (noopRenderer) Error(string)                    {}
func (noopRenderer) StartThinking()                  {}
func (noopRenderer) StopThinking()                   {}
