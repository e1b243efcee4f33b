package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"klix/internal/domain"
	"klix/internal/memory"
	"klix/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// ChatService is what the REST API needs from the agent.
type ChatService interface {
	Exchange(ctx context.Context, history []domain.Message, input string) (string, bool, error)
	Provider() domain.Provider
}

// Server exposes the stateless REST API: chat exchanges plus memory
// inspection endpoints.
type Server struct {
	host   string
	port   int
	chat   ChatService
	memory *memory.Service
	logger *slog.Logger

	server *http.Server
}

type ServerConfig struct {
	Host   string
	Port   int
	Chat   ChatService
	Memory *memory.Service
	Logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:   cfg.Host,
		port:   cfg.Port,
		chat:   cfg.Chat,
		memory: cfg.Memory,
		logger: cfg.Logger,
	}
}

// Handler builds the route table. Split out so tests can drive it with
// httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("DELETE /api/memories/{id}", s.handleDeleteMemory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server started", "addr", "http://"+addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type chatRequest struct {
	Text    string        `json:"text"`
	History []historyItem `json:"history"`
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Content  string `json:"content"`
	ToolUsed bool   `json:"tool_used"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func (s *Server) handleChat(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(rw, http.StatusBadRequest, "text is required")
		return
	}

	history := make([]domain.Message, 0, len(req.History))
	for _, h := range req.History {
		switch h.Role {
		case domain.RoleUser, domain.RoleAssistant:
			history = append(history, domain.Message{Role: h.Role, Content: h.Content})
		}
	}

	content, toolUsed, err := s.chat.Exchange(r.Context(), history, req.Text)
	if err != nil {
		s.logger.Error("chat exchange failed", "err", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}

	p := s.chat.Provider()
	writeJSON(rw, http.StatusOK, chatResponse{
		Content:  content,
		ToolUsed: toolUsed,
		Model:    p.Model(),
		Provider: p.Name(),
	})
}

func (s *Server) handleListMemories(rw http.ResponseWriter, r *http.Request) {
	if s.memory == nil || !s.memory.Enabled() {
		writeJSON(rw, http.StatusOK, map[string]any{"memories": []any{}, "enabled": false})
		return
	}
	var mems []domain.Memory
	if q := r.URL.Query().Get("query"); q != "" {
		mems = s.memory.Search(r.Context(), q)
	} else {
		mems = s.memory.GetAll(r.Context(), 100)
	}
	out := make([]map[string]any, 0, len(mems))
	for _, m := range mems {
		out = append(out, map[string]any{
			"id":         m.ID,
			"content":    m.Content,
			"type":       string(m.Type),
			"created_at": m.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"memories": out, "enabled": true})
}

func (s *Server) handleDeleteMemory(rw http.ResponseWriter, r *http.Request) {
	if s.memory == nil || !s.memory.Enabled() {
		writeError(rw, http.StatusServiceUnavailable, "memory is disabled")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(rw, http.StatusBadRequest, "memory id is required")
		return
	}
	if !s.memory.Delete(r.Context(), id) {
		writeError(rw, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	p := s.chat.Provider()
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":         "ok",
		"provider":       p.Name(),
		"model":          p.Model(),
		"memory_enabled": s.memory != nil && s.memory.Enabled(),
		"time":           time.Now().Format(time.RFC3339),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
