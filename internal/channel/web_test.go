package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"klix/internal/domain"
	"klix/internal/memory"
)

// stubChat scripts Exchange results for handler tests.
type stubChat struct {
	content  string
	toolUsed bool
	err      error

	gotHistory []domain.Message
	gotInput   string
}

func (s *stubChat) Exchange(ctx context.Context, history []domain.Message, input string) (string, bool, error) {
	s.gotHistory = history
	s.gotInput = input
	return s.content, s.toolUsed, s.err
}

func (s *stubChat) Provider() domain.Provider { return stubProvider{} }

type stubProvider struct{}

func (stubProvider) Name() string                { return "stub" }
func (stubProvider) Model() string               { return "stub-model" }
func (stubProvider) DefaultSystemPrompt() string { return "sys" }

func (stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{}, nil
}

func (stubProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (stubProvider) Generate(ctx context.Context, prompt string) (string, error) { return "", nil }

type stubMemStore struct {
	mems     []domain.Memory
	deleted  []string
	delErr   error
	gotQuery string
}

func (s *stubMemStore) Add(ctx context.Context, m domain.Memory) (string, error) {
	return "id", nil
}

func (s *stubMemStore) Search(ctx context.Context, userID, query string, limit int) ([]domain.Memory, error) {
	s.gotQuery = query
	return s.mems, nil
}

func (s *stubMemStore) Recent(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	return s.mems, nil
}

func (s *stubMemStore) Delete(ctx context.Context, id string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubMemStore) DeleteAll(ctx context.Context, userID string) error { return nil }
func (s *stubMemStore) Close() error                                       { return nil }

func newTestServer(chat *stubChat, store *stubMemStore) *Server {
	var memSvc *memory.Service
	if store != nil {
		memSvc = memory.NewService(memory.ServiceConfig{Store: store, Enabled: true})
	} else {
		memSvc = memory.NewService(memory.ServiceConfig{})
	}
	return NewServer(ServerConfig{Chat: chat, Memory: memSvc})
}

func TestChatEndpoint(t *testing.T) {
	chat := &stubChat{content: "the answer", toolUsed: true}
	srv := newTestServer(chat, nil)

	body := `{"text":"question","history":[
		{"role":"user","content":"earlier"},
		{"role":"assistant","content":"reply"},
		{"role":"system","content":"should be dropped"}]}`
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "the answer" || !resp.ToolUsed {
		t.Errorf("unexpected payload: %+v", resp)
	}
	if resp.Provider != "stub" || resp.Model != "stub-model" {
		t.Errorf("provider info missing: %+v", resp)
	}

	if chat.gotInput != "question" {
		t.Errorf("input not forwarded: %q", chat.gotInput)
	}
	// Caller-supplied system roles are dropped.
	if len(chat.gotHistory) != 2 {
		t.Fatalf("history filtering wrong: %+v", chat.gotHistory)
	}
}

func TestChatEndpointRejectsEmptyText(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"history":[]}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty text should be 400, got %d", rec.Code)
	}
}

func TestChatEndpointRejectsBadJSON(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{nope`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad JSON should be 400, got %d", rec.Code)
	}
}

func TestChatEndpointProviderFailure(t *testing.T) {
	srv := newTestServer(&stubChat{err: context.DeadlineExceeded}, nil)
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"text":"x"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("provider failure should be 502, got %d", rec.Code)
	}
}

func TestListMemories(t *testing.T) {
	store := &stubMemStore{mems: []domain.Memory{
		{ID: "m1", Content: "fact one", Type: domain.MemorySemantic},
	}}
	srv := newTestServer(&stubChat{}, store)

	req := httptest.NewRequest("GET", "/api/memories", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Enabled  bool `json:"enabled"`
		Memories []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"memories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Enabled || len(resp.Memories) != 1 || resp.Memories[0].ID != "m1" {
		t.Errorf("unexpected list: %+v", resp)
	}
}

func TestListMemoriesWithQuery(t *testing.T) {
	store := &stubMemStore{mems: []domain.Memory{{ID: "m1", Content: "uses vim"}}}
	srv := newTestServer(&stubChat{}, store)

	req := httptest.NewRequest("GET", "/api/memories?query=vim", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if store.gotQuery != "vim" {
		t.Errorf("query not forwarded to the store: %q", store.gotQuery)
	}
}

func TestListMemoriesDisabled(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)
	req := httptest.NewRequest("GET", "/api/memories", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Enabled {
		t.Error("disabled memory should report enabled=false")
	}
}

func TestDeleteMemory(t *testing.T) {
	store := &stubMemStore{}
	srv := newTestServer(&stubChat{}, store)

	req := httptest.NewRequest("DELETE", "/api/memories/m42", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "m42" {
		t.Errorf("delete not forwarded: %v", store.deleted)
	}
}

func TestDeleteMemoryNotFound(t *testing.T) {
	store := &stubMemStore{delErr: errors.New("memory missing not found")}
	srv := newTestServer(&stubChat{}, store)

	req := httptest.NewRequest("DELETE", "/api/memories/missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing memory should be 404, got %d", rec.Code)
	}
}

func TestDeleteMemoryDisabled(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)

	req := httptest.NewRequest("DELETE", "/api/memories/m1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled memory should be 503, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)
	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" || resp["provider"] != "stub" {
		t.Errorf("unexpected health payload: %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&stubChat{}, nil)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "klix_uptime_seconds") {
		t.Errorf("metrics exposition missing uptime:\n%s", rec.Body)
	}
}
