package providers

import (
	"fmt"

	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/providers/claude"
	"github.com/hibiki-ai/hibiki/pkg/providers/openai"
)

// New builds the provider selected by cfg.Agent.Provider and resolves the
// model to use. The provider set is closed: anything other than "claude" or
// "openai" is a configuration error.
func New(cfg *config.Config) (LLMProvider, string, error) {
	var provider LLMProvider

	switch cfg.Agent.Provider {
	case "claude":
		apiKey := cfg.ProviderAPIKey("claude")
		if apiKey == "" {
			return nil, "", fmt.Errorf("claude provider selected but no API key configured")
		}
		provider = claude.NewProvider(apiKey, cfg.Providers.Claude.APIBase)
	case "openai":
		apiKey := cfg.ProviderAPIKey("openai")
		if apiKey == "" {
			return nil, "", fmt.Errorf("openai provider selected but no API key configured")
		}
		provider = openai.NewProvider(apiKey, cfg.Providers.OpenAI.APIBase)
	default:
		return nil, "", fmt.Errorf("unknown provider: %s", cfg.Agent.Provider)
	}

	model := cfg.Agent.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}

	if cfg.Agent.RateLimitRPM > 0 {
		provider = NewRateLimited(provider, cfg.Agent.RateLimitRPM)
	}

	return provider, model, nil
}
