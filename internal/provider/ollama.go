package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"klix/internal/domain"
)

const (
	ollamaDefaultHost  = "http://localhost:11434"
	ollamaDefaultModel = "qwen2.5:latest"
	ollamaMaxRetries   = 3
)

// Ollama implements domain.Provider against a local Ollama daemon.
type Ollama struct {
	host   string
	model  string
	client *http.Client
	logger *slog.Logger
}

type OllamaConfig struct {
	Host   string
	Model  string
	Logger *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	return NewOllamaWithClient(cfg, newHTTPClient())
}

func NewOllamaWithClient(cfg OllamaConfig, client *http.Client) *Ollama {
	if cfg.Host == "" {
		cfg.Host = ollamaDefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if client == nil {
		client = newHTTPClient()
	}
	return &Ollama{
		host:   cfg.Host,
		model:  cfg.Model,
		client: client,
		logger: cfg.Logger,
	}
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.model }

func (o *Ollama) DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// Healthy checks daemon reachability via /api/tags.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama not reachable: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// Wire types for the Ollama /api/chat endpoint.

type ollamaRequest struct {
	Model    string       `json:"model"`
	Messages []ollamaMsg  `json:"messages"`
	Stream   bool         `json:"stream"`
	Tools    []ollamaTool `json:"tools,omitempty"`
}

type ollamaMsg struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string     `json:"type"`
	Function ollamaFunc `json:"function"`
}

type ollamaFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaFuncCall `json:"function"`
}

type ollamaFuncCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (o *Ollama) buildRequest(req domain.ChatRequest, stream bool) ollamaRequest {
	msgs := make([]ollamaMsg, 0, len(req.Messages)+1)
	msgs = append(msgs, ollamaMsg{Role: domain.RoleSystem, Content: systemInstruction(req.Messages)})
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		om := ollamaMsg{Role: m.Role, Content: m.Content}
		if m.Role == domain.RoleTool {
			om.ToolName = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			argsRaw, err := json.Marshal(tc.Arguments)
			if err != nil {
				argsRaw = []byte("{}")
			}
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFuncCall{
					Name:      tc.Name,
					Arguments: json.RawMessage(argsRaw),
				},
			})
		}
		msgs = append(msgs, om)
	}

	body := ollamaRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   stream,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}
	return body
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	jsonBody, err := json.Marshal(o.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// Retry transient failures: connection errors, 5xx, truncated bodies.
	var ollamaResp ollamaResponse
	for attempt := 0; attempt <= ollamaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			o.logger.Warn("retrying ollama request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", o.host+"/api/chat", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(httpReq)
		if err != nil {
			if attempt < ollamaMaxRetries {
				o.logger.Warn("ollama request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("%w: ollama request (after %d retries): %v", ErrUnavailable, ollamaMaxRetries, err)
		}

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if attempt < ollamaMaxRetries {
				o.logger.Warn("ollama server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("%w: ollama returned %d (after %d retries): %s", ErrUnavailable, resp.StatusCode, ollamaMaxRetries, truncateBody(respBody))
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncateBody(respBody))
		}

		if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
			resp.Body.Close()
			if attempt < ollamaMaxRetries {
				o.logger.Warn("ollama decode error, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("decode response (after %d retries): %w", ollamaMaxRetries, err)
		}
		resp.Body.Close()
		break
	}

	return o.buildResponse(ollamaResp), nil
}

// ChatStream streams text deltas from the NDJSON response stream. Tool calls
// are not surfaced on the stream path.
func (o *Ollama) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan string, error) {
	jsonBody, err := json.Marshal(o.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.host+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama stream: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: ollama returned %d: %s", ErrUnavailable, resp.StatusCode, truncateBody(respBody))
		}
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for decoder.More() {
			var chunk ollamaResponse
			if err := decoder.Decode(&chunk); err != nil {
				o.logger.Warn("ollama stream decode failed", "err", err)
				return
			}
			if chunk.Message.Content != "" {
				select {
				case ch <- chunk.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()
	return ch, nil
}

// Generate runs a one-shot prompt without tools or history.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Ollama) buildResponse(ollamaResp ollamaResponse) *domain.ChatResponse {
	out := &domain.ChatResponse{
		Content: ollamaResp.Message.Content,
		Usage: domain.Usage{
			PromptTokens:     ollamaResp.PromptEvalCount,
			CompletionTokens: ollamaResp.EvalCount,
			TotalTokens:      ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		},
	}

	for _, tc := range ollamaResp.Message.ToolCalls {
		var args map[string]any
		if len(tc.Function.Arguments) > 0 {
			raw := tc.Function.Arguments
			// Arguments may arrive as a JSON object or a JSON-encoded string.
			if raw[0] == '"' {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					_ = json.Unmarshal([]byte(s), &args)
				}
			} else {
				_ = json.Unmarshal(raw, &args)
			}
		}
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	synthesizeCallID(out.ToolCalls)
	out.FinishReason = finishReason(out.ToolCalls)
	return out
}
