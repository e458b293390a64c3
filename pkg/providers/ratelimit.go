package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedProvider paces Chat calls to a requests-per-minute budget.
// Wait blocks rather than rejects: a scheduled run hitting the budget
// should slow down, not fail. Burst equals the full budget so an
// interactive turn with several loop iterations is not forced onto the
// steady-state spacing.
type rateLimitedProvider struct {
	inner   LLMProvider
	limiter *rate.Limiter
}

func NewRateLimited(inner LLMProvider, rpm int) LLMProvider {
	return &rateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
	}
}

func (p *rateLimitedProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Chat(ctx, messages, tools, model, options)
}

func (p *rateLimitedProvider) GetDefaultModel() string {
	return p.inner.GetDefaultModel()
}
