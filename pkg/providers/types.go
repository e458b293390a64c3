package providers

import (
	"context"

	"github.com/hibiki-ai/hibiki/pkg/providers/protocol"
)

// Re-exports so callers outside the adapters only ever import this package.
type (
	Message                = protocol.Message
	ToolCall               = protocol.ToolCall
	FunctionCall           = protocol.FunctionCall
	ToolDefinition         = protocol.ToolDefinition
	ToolFunctionDefinition = protocol.ToolFunctionDefinition
	LLMResponse            = protocol.LLMResponse
	UsageInfo              = protocol.UsageInfo
	ProviderError          = protocol.ProviderError
)

const (
	FinishStop      = protocol.FinishStop
	FinishToolCalls = protocol.FinishToolCalls
	FinishLength    = protocol.FinishLength
	FinishError     = protocol.FinishError
)

// LLMProvider is the uniform chat contract over model backends. Adapters
// perform no retries and apply no client-side call timeout; both are the
// caller's policy.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error)
	GetDefaultModel() string
}
