package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"klix/internal/config"
)

func newTestWebSearch(srv *httptest.Server) *WebSearchTool {
	return &WebSearchTool{client: srv.Client(), endpoint: srv.URL}
}

func TestWebSearchMaxResults(t *testing.T) {
	topics := make([]ddgTopic, 10)
	for i := range topics {
		topics[i] = ddgTopic{Text: "topic", FirstURL: "https://example.com"}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ddgResponse{RelatedTopics: topics})
	}))
	t.Cleanup(srv.Close)

	out, err := newTestWebSearch(srv).Execute(context.Background(), map[string]any{
		"query":       "go testing",
		"max_results": float64(2),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := strings.Count(out, "- topic"); got != 2 {
		t.Errorf("expected 2 results, got %d:\n%s", got, out)
	}
}

func TestWebSearchDefaultCap(t *testing.T) {
	topics := make([]ddgTopic, 10)
	for i := range topics {
		topics[i] = ddgTopic{Text: "topic"}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ddgResponse{RelatedTopics: topics})
	}))
	t.Cleanup(srv.Close)

	out, err := newTestWebSearch(srv).Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := strings.Count(out, "- topic"); got != defaultSearchResults {
		t.Errorf("expected %d results, got %d", defaultSearchResults, got)
	}
}

func TestTavilyMaxResultsForwarded(t *testing.T) {
	var captured tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"answer":"42","results":[]}`))
	}))
	t.Cleanup(srv.Close)

	ts := &TavilySearchTool{
		cfg:      &config.Config{Search: config.SearchConfig{TavilyAPIKey: "key"}},
		client:   srv.Client(),
		endpoint: srv.URL,
	}
	out, err := ts.Execute(context.Background(), map[string]any{
		"query":       "klix",
		"max_results": float64(3),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if captured.MaxResults != 3 {
		t.Errorf("max_results not forwarded: %+v", captured)
	}
	if !strings.Contains(out, "Answer: 42") {
		t.Errorf("answer missing: %q", out)
	}
}

func TestTavilyNotConfigured(t *testing.T) {
	ts := NewTavilySearchTool(&config.Config{})
	out, err := ts.Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("unconfigured tavily should not error: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Errorf("expected not-configured text, got %q", out)
	}
}
