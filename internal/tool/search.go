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
)

const (
	searchTimeout   = 15 * time.Second
	tavilyEndpoint  = "https://api.tavily.com/search"
	userAgentString = "HealthBot/0.1"
)

// GeneralSearchConfig configures the search backend.
type GeneralSearchConfig struct {
	// TavilyAPIKey enables the Tavily backend. Empty means the keyless
	// DuckDuckGo Instant Answer fallback is used.
	TavilyAPIKey string
	MaxResults   int
}

// GeneralSearchTool searches the web for current medical and general
// information. Tavily when a key is configured, DuckDuckGo otherwise.
type GeneralSearchTool struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     *http.Client
}

func NewGeneralSearchTool(cfg GeneralSearchConfig) *GeneralSearchTool {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &GeneralSearchTool{
		apiKey:     cfg.TavilyAPIKey,
		maxResults: cfg.MaxResults,
		endpoint:   tavilyEndpoint,
		client:     &http.Client{Timeout: searchTimeout},
	}
}

func (t *GeneralSearchTool) Name() string { return "general_search" }

func (t *GeneralSearchTool) Description() string {
	return "Search the web for up-to-date information. Use this for health questions, symptoms, treatments, or anything you're unsure about."
}

func (t *GeneralSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

func (t *GeneralSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	if t.apiKey != "" {
		return t.searchTavily(ctx, query)
	}
	return t.searchDuckDuckGo(ctx, query)
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (t *GeneralSearchTool) searchTavily(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      query,
		Topic:      "general",
		MaxResults: t.maxResults,
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
		return "", fmt.Errorf("parse tavily response: %w", err)
	}

	var results []string
	if tr.Answer != "" {
		results = append(results, fmt.Sprintf("Answer: %s", tr.Answer))
	}
	for _, r := range tr.Results {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", r.Title, r.Content, r.URL))
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

func (t *GeneralSearchTool) searchDuckDuckGo(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query))

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
		results = append(results, fmt.Sprintf("Answer: %s", ddg.Answer))
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= t.maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, fmt.Sprintf("- %s", topic.Text))
		}
	}

	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

// DuckDuckGo response types
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
