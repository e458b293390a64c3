package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/providers/claude"
	"github.com/hibiki-ai/hibiki/pkg/providers/openai"
)

func TestNewClaudeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.APIKey = "shared-key"

	provider, model, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := provider.(*claude.Provider); !ok {
		t.Fatalf("provider is %T, want *claude.Provider", provider)
	}
	if model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, want the claude default", model)
	}
}

func TestNewOpenAIModelOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = "openai"
	cfg.Agent.Model = "gpt-5"
	cfg.Providers.OpenAI.APIKey = "oa-key"

	provider, model, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := provider.(*openai.Provider); !ok {
		t.Fatalf("provider is %T, want *openai.Provider", provider)
	}
	if model != "gpt-5" {
		t.Errorf("model = %q, want the configured override", model)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Provider = "gemini"
	cfg.Agent.APIKey = "k"

	if _, _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("err = %v, want unknown provider error", err)
	}
}

func TestNewMissingAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()

	if _, _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "no API key") {
		t.Fatalf("err = %v, want missing key error", err)
	}
}

func TestNewWrapsWithRateLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.APIKey = "k"
	cfg.Agent.RateLimitRPM = 30

	provider, _, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := provider.(*claude.Provider); ok {
		t.Fatal("provider was not wrapped despite rate_limit_rpm > 0")
	}
	if got := provider.GetDefaultModel(); got != "claude-sonnet-4-5" {
		t.Errorf("GetDefaultModel() = %q, want passthrough to inner provider", got)
	}
}

type stubProvider struct {
	calls     int
	lastModel string
}

func (s *stubProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error) {
	s.calls++
	s.lastModel = model
	return &LLMResponse{Content: "ok", FinishReason: FinishStop}, nil
}

func (s *stubProvider) GetDefaultModel() string { return "stub-default" }

func TestRateLimitedPassesThrough(t *testing.T) {
	inner := &stubProvider{}
	limited := NewRateLimited(inner, 600)

	for i := 0; i < 3; i++ {
		resp, err := limited.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "m1", nil)
		if err != nil {
			t.Fatalf("Chat() error: %v", err)
		}
		if resp.Content != "ok" {
			t.Fatalf("Content = %q", resp.Content)
		}
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls)
	}
	if inner.lastModel != "m1" {
		t.Errorf("model = %q, want m1", inner.lastModel)
	}
	if limited.GetDefaultModel() != "stub-default" {
		t.Errorf("GetDefaultModel() = %q", limited.GetDefaultModel())
	}
}

func TestRateLimitedStopsOnCancelledContext(t *testing.T) {
	inner := &stubProvider{}
	limited := NewRateLimited(inner, 1)

	if _, err := limited.Chat(context.Background(), nil, nil, "m", nil); err != nil {
		t.Fatalf("first Chat() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Chat(ctx, nil, nil, "m", nil); err == nil {
		t.Fatal("expected error from cancelled context while waiting on the limiter")
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (second call must not reach the provider)", inner.calls)
	}
}
