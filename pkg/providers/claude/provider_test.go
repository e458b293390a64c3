package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hibiki-ai/hibiki/pkg/providers/protocol"
)

func TestBuildParamsBasics(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are terse."},
		{Role: "user", Content: "Hello"},
	}
	params := buildParams(messages, nil, "claude-sonnet-4-5", map[string]any{
		"max_tokens":  1024,
		"temperature": 0.3,
	})

	if string(params.Model) != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", params.Model)
	}
	if params.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "You are terse." {
		t.Errorf("System = %+v, want the system text lifted out", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1 (system not a turn)", len(params.Messages))
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.3 {
		t.Errorf("Temperature = %+v, want 0.3", params.Temperature)
	}
}

func TestBuildParamsMergesConsecutiveToolResults(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "Check two things"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "tc1", Name: "a", Arguments: map[string]any{}},
			{ID: "tc2", Name: "b", Arguments: map[string]any{}},
		}},
		{Role: "tool", Content: "result a", ToolCallID: "tc1"},
		{Role: "tool", Content: "result b", ToolCallID: "tc2"},
		{Role: "user", Content: "and now?"},
	}
	params := buildParams(messages, nil, "m", nil)

	// user, assistant(tool_use x2), user(tool_result x2), user
	if len(params.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4 with both tool results merged into one turn", len(params.Messages))
	}
	merged := params.Messages[2]
	if len(merged.Content) != 2 {
		t.Fatalf("merged turn has %d blocks, want 2", len(merged.Content))
	}
}

func TestBuildParamsTools(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: protocol.ToolFunctionDefinition{
			Name:        "get_weather",
			Description: "Weather for a city",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
				"required": []any{"city"},
			},
		},
	}}
	params := buildParams([]Message{{Role: "user", Content: "Hi"}}, tools, "m", nil)

	if len(params.Tools) != 1 {
		t.Fatalf("len(Tools) = %d, want 1", len(params.Tools))
	}
	tool := params.Tools[0].OfTool
	if tool == nil || tool.Name != "get_weather" {
		t.Fatalf("tool = %+v, want get_weather", params.Tools[0])
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "city" {
		t.Errorf("Required = %v, want [city]", tool.InputSchema.Required)
	}
}

func TestParseResponseStopReasons(t *testing.T) {
	tests := []struct {
		stopReason anthropic.StopReason
		want       string
	}{
		{anthropic.StopReasonEndTurn, protocol.FinishStop},
		{anthropic.StopReasonToolUse, protocol.FinishToolCalls},
		{anthropic.StopReasonMaxTokens, protocol.FinishLength},
	}
	for _, tt := range tests {
		resp := &anthropic.Message{StopReason: tt.stopReason}
		if got := parseResponse(resp).FinishReason; got != tt.want {
			t.Errorf("stop_reason %q mapped to %q, want %q", tt.stopReason, got, tt.want)
		}
	}
}

func TestParseResponseUsage(t *testing.T) {
	resp := &anthropic.Message{Usage: anthropic.Usage{InputTokens: 11, OutputTokens: 7}}
	usage := parseResponse(resp).Usage
	if usage.PromptTokens != 11 || usage.CompletionTokens != 7 || usage.TotalTokens != 18 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestChatEndToEnd(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": map[string]any{"city": "Berlin"}},
			},
			"stop_reason":   "tool_use",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 9, "output_tokens": 14},
		})
	}))
	defer server.Close()

	p := NewProvider("test-key", server.URL)
	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Weather in Berlin?"},
	}, []ToolDefinition{{
		Type: "function",
		Function: protocol.ToolFunctionDefinition{
			Name:       "get_weather",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}}, "claude-sonnet-4-5", map[string]any{"max_tokens": 512})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if gotPath != "/v1/messages" {
		t.Errorf("request path = %q, want /v1/messages", gotPath)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("x-api-key = %q", gotAPIKey)
	}
	if gotBody["model"] != "claude-sonnet-4-5" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if mt, _ := gotBody["max_tokens"].(float64); mt != 512 {
		t.Errorf("request max_tokens = %v, want 512", gotBody["max_tokens"])
	}

	if resp.Content != "Let me check." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != protocol.FinishToolCalls {
		t.Errorf("FinishReason = %q, want %q", resp.FinishReason, protocol.FinishToolCalls)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["city"] != "Berlin" {
		t.Errorf("Arguments = %v, want city Berlin", tc.Arguments)
	}
	if tc.Function == nil || tc.Function.Name != "get_weather" {
		t.Errorf("Function = %+v", tc.Function)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 23 {
		t.Errorf("Usage = %+v, want total 23", resp.Usage)
	}
}

func TestChatAPIErrorBecomesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens is too large"}}`))
	}))
	defer server.Close()

	p := NewProvider("test-key", server.URL)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "m", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *protocol.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error %T is not a ProviderError: %v", err, err)
	}
	if provErr.Provider != "claude" || provErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("ProviderError = %+v", provErr)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", defaultBaseURL},
		{"  ", defaultBaseURL},
		{"https://proxy.example.com", "https://proxy.example.com"},
		{"https://proxy.example.com/", "https://proxy.example.com"},
		{"https://proxy.example.com/v1", "https://proxy.example.com"},
		{"https://proxy.example.com/v1/", "https://proxy.example.com"},
	}
	for _, tt := range tests {
		if got := normalizeBaseURL(tt.in); got != tt.want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
