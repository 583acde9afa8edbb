package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGeneralSearchTavily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.APIKey != "tvly-test" {
			t.Errorf("api_key = %q", req.APIKey)
		}
		if req.Query != "flu symptoms" {
			t.Errorf("query = %q", req.Query)
		}
		if req.Topic != "general" || req.MaxResults != 5 {
			t.Errorf("topic = %q max_results = %d", req.Topic, req.MaxResults)
		}
		json.NewEncoder(w).Encode(tavilyResponse{
			Results: []tavilyResult{
				{Title: "Flu", URL: "https://example.com/flu", Content: "Fever and cough."},
			},
		})
	}))
	defer srv.Close()

	st := NewGeneralSearchTool(GeneralSearchConfig{TavilyAPIKey: "tvly-test"})
	st.endpoint = srv.URL

	out, err := st.Execute(context.Background(), map[string]any{"query": "flu symptoms"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Fever and cough.") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "https://example.com/flu") {
		t.Errorf("output missing source URL: %q", out)
	}
}

func TestGeneralSearchMissingQuery(t *testing.T) {
	st := NewGeneralSearchTool(GeneralSearchConfig{})
	if _, err := st.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing query")
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(NewGeneralSearchTool(GeneralSearchConfig{}))

	if got := r.Get("general_search"); got == nil {
		t.Fatal("tool not registered")
	}
	defs := r.GetDefinitions()
	if len(defs) != 1 || defs[0].Name != "general_search" {
		t.Errorf("definitions = %+v", defs)
	}
	if _, err := r.Execute(context.Background(), "nope", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}
