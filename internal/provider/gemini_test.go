package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"healthbot/internal/domain"
)

func TestGeminiChatText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash-lite:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text == "" {
			t.Error("system instruction not set")
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("contents = %+v", req.Contents)
		}
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{
					Role:  "model",
					Parts: []geminiPart{{Text: "Flu symptoms include fever."}},
				},
				FinishReason: "STOP",
			}},
			UsageMetadata: geminiUsage{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "You are a medical assistant."},
			{Role: "user", Content: "What are flu symptoms?"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Flu symptoms include fever." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.HasToolCalls() {
		t.Error("unexpected tool calls")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGeminiChatFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].FunctionDeclarations[0].Name != "general_search" {
			t.Errorf("tools = %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{
					Role: "model",
					Parts: []geminiPart{{
						FunctionCall: &geminiFnCall{
							Name: "general_search",
							Args: map[string]any{"query": "flu symptoms"},
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: "What are flu symptoms?"}},
		Tools: []domain.ToolDefinition{{
			Name:        "general_search",
			Description: "Search the web",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "general_search" {
		t.Errorf("name = %q", tc.Name)
	}
	if tc.ID == "" {
		t.Error("tool call ID not synthesized")
	}
	if tc.Arguments["query"] != "flu symptoms" {
		t.Errorf("args = %+v", tc.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestGeminiToolResultMapping(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: "done"}}},
			}},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "user", Content: "search flu"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "general_search-0", Name: "general_search", Arguments: map[string]any{"query": "flu"}}}},
			{Role: "tool", ToolCallID: "general_search-0", ToolName: "general_search", Content: "result text"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Contents) != 3 {
		t.Fatalf("contents = %d", len(got.Contents))
	}
	if got.Contents[1].Role != "model" || got.Contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("assistant turn not mapped to functionCall: %+v", got.Contents[1])
	}
	fr := got.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "general_search" || fr.Response["result"] != "result text" {
		t.Errorf("tool turn not mapped to functionResponse: %+v", got.Contents[2])
	}
}
