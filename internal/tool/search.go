package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"klix/internal/config"
	"klix/internal/domain"
)

const (
	searchTimeout        = 15 * time.Second
	userAgentString      = "Klix/0.1"
	tavilyEndpoint       = "https://api.tavily.com/search"
	defaultSearchResults = 5
)

// WebSearchTool searches via the DuckDuckGo instant answer API. No key
// required, but coverage is limited to instant answers.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		client:   &http.Client{Timeout: searchTimeout},
		endpoint: "https://api.duckduckgo.com/",
	}
}

func (t *WebSearchTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for information. Returns a summary of instant results. Use for current events, facts, or anything uncertain.",
		Parameters: []domain.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of results (default 5)"},
		},
	}
}

type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := argsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	maxResults := argsInt(args, "max_results", defaultSearchResults)
	if maxResults < 1 {
		maxResults = defaultSearchResults
	}

	endpoint := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
		t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, "- "+topic.Text)
		}
	}
	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

// TavilySearchTool searches via the Tavily API when a key is configured.
type TavilySearchTool struct {
	cfg      *config.Config
	client   *http.Client
	endpoint string
}

func NewTavilySearchTool(cfg *config.Config) *TavilySearchTool {
	return &TavilySearchTool{
		cfg:      cfg,
		client:   &http.Client{Timeout: searchTimeout},
		endpoint: tavilyEndpoint,
	}
}

func (t *TavilySearchTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "tavily_search",
		Description: "Search the web with Tavily for higher-quality results with source URLs. Requires a configured API key.",
		Parameters: []domain.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of results (default 5)"},
		},
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *TavilySearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := argsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	if t.cfg.Search.TavilyAPIKey == "" {
		return "Tavily search is not configured (TAVILY_API_KEY not set). Use web_search instead.", nil
	}
	maxResults := argsInt(args, "max_results", defaultSearchResults)
	if maxResults < 1 {
		maxResults = defaultSearchResults
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        t.cfg.Search.TavilyAPIKey,
		Query:         query,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("tavily returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if tr.Answer != "" {
		results = append(results, "Answer: "+tr.Answer)
	}
	for _, r := range tr.Results {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", r.Title, r.Content, r.URL))
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

var (
	_ domain.Tool = (*WebSearchTool)(nil)
	_ domain.Tool = (*TavilySearchTool)(nil)
)
