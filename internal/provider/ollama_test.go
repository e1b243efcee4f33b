package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"klix/internal/domain"
)

func newTestOllama(srv *httptest.Server) *Ollama {
	return NewOllamaWithClient(OllamaConfig{
		Host:  srv.URL,
		Model: "qwen2.5:latest",
	}, srv.Client())
}

func TestOllamaChatTextResponse(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"local reply"},
			"done":true,"done_reason":"stop","prompt_eval_count":8,"eval_count":3}`))
	}))
	t.Cleanup(srv.Close)

	o := newTestOllama(srv)
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		Tools: []domain.ToolDefinition{{Name: "read", Description: "reads"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "local reply" || resp.FinishReason != domain.FinishStop {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 11 {
		t.Errorf("usage not mapped: %+v", resp.Usage)
	}

	if captured.Model != "qwen2.5:latest" || captured.Stream {
		t.Errorf("request not built correctly: %+v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != domain.RoleSystem || captured.Messages[0].Content != "be brief" {
		t.Errorf("request should lead with the system message: %+v", captured.Messages)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "read" {
		t.Errorf("tools not attached: %+v", captured.Tools)
	}
}

func TestOllamaSystemMessagesCollapse(t *testing.T) {
	body := (&Ollama{}).buildRequest(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "old system"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleSystem, Content: "new system"},
		},
	}, false)

	if len(body.Messages) != 2 {
		t.Fatalf("expected system+user, got %+v", body.Messages)
	}
	// Single system slot, last one wins, always first in the request.
	if body.Messages[0].Role != domain.RoleSystem || body.Messages[0].Content != "new system" {
		t.Errorf("last system message should win: %+v", body.Messages[0])
	}
	for _, m := range body.Messages[1:] {
		if m.Role == domain.RoleSystem {
			t.Errorf("stale system message leaked: %+v", m)
		}
	}
}

func TestOllamaDefaultSystemPrompt(t *testing.T) {
	body := (&Ollama{}).buildRequest(domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}, false)

	if len(body.Messages) != 2 || body.Messages[0].Content != defaultSystemPrompt {
		t.Errorf("missing default system prompt: %+v", body.Messages)
	}
}

func TestOllamaToolCallArgumentsObject(t *testing.T) {
	resp := (&Ollama{}).buildResponse(ollamaResponse{
		Message: ollamaMsg{
			Role: "assistant",
			ToolCalls: []ollamaToolCall{{
				Function: ollamaFuncCall{Name: "write", Arguments: json.RawMessage(`{"path":"x.go"}`)},
			}},
		},
		Done: true,
	})
	if !resp.HasToolCalls() || resp.FinishReason != domain.FinishToolCalls {
		t.Fatalf("tool call not normalized: %+v", resp)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_write" {
		t.Errorf("missing synthesized id: %q", call.ID)
	}
	if call.Arguments["path"] != "x.go" {
		t.Errorf("object arguments not decoded: %v", call.Arguments)
	}
}

func TestOllamaToolCallArgumentsString(t *testing.T) {
	// Some models return the arguments as a JSON-encoded string.
	raw := json.RawMessage(`"{\"path\":\"y.go\"}"`)
	resp := (&Ollama{}).buildResponse(ollamaResponse{
		Message: ollamaMsg{
			ToolCalls: []ollamaToolCall{{Function: ollamaFuncCall{Name: "read", Arguments: raw}}},
		},
	})
	if resp.ToolCalls[0].Arguments["path"] != "y.go" {
		t.Errorf("string-encoded arguments not decoded: %v", resp.ToolCalls[0].Arguments)
	}
}

func TestOllamaToolCallUndecodableArguments(t *testing.T) {
	resp := (&Ollama{}).buildResponse(ollamaResponse{
		Message: ollamaMsg{
			ToolCalls: []ollamaToolCall{{Function: ollamaFuncCall{Name: "x", Arguments: json.RawMessage(`42`)}}},
		},
	})
	if resp.ToolCalls[0].Arguments == nil {
		t.Error("arguments must never be nil")
	}
}

func TestOllamaBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	t.Cleanup(srv.Close)

	o := newTestOllama(srv)
	_, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("4xx is not unavailability: %v", err)
	}
}

func TestOllamaHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	t.Cleanup(srv.Close)

	if err := newTestOllama(srv).Healthy(context.Background()); err != nil {
		t.Fatalf("healthy: %v", err)
	}
}

func TestOllamaHealthyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewOllamaWithClient(OllamaConfig{Host: srv.URL}, nil).Healthy(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unreachable daemon should map to ErrUnavailable, got %v", err)
	}
}

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"message":{"content":"hel"},"done":false}`,
			`{"message":{"content":"lo"},"done":false}`,
			`{"message":{"content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n"))
		}
	}))
	t.Cleanup(srv.Close)

	ch, err := newTestOllama(srv).ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got string
	for delta := range ch {
		got += delta
	}
	if got != "hello" {
		t.Errorf("streamed %q, want %q", got, "hello")
	}
}
