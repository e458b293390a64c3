// Package agent implements the bounded tool-calling loop between an LLM
// provider and a tool registry, plus the system prompt builders for the
// different execution contexts.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/providers"
	"github.com/hibiki-ai/hibiki/pkg/tools"
)

// Loop drives the iterative exchange. It is pure orchestration: no disk,
// no global state; side effects belong to the tools it invokes.
type Loop struct {
	Provider    providers.LLMProvider
	Registry    *tools.Registry
	MaxTokens   int
	Temperature float64

	// Origin and SessionID identify the execution context for tools that
	// track it ("conversation", "scheduled", "automation").
	Origin    string
	SessionID string

	// TerminalTool, when set, ends the run at the end of the round in
	// which the named tool executed successfully. The automation loop sets
	// it to finish_task.
	TerminalTool string

	// OnToolResult, when set, receives every non-silent result that has
	// user-facing content, so the surface can show progress mid-run.
	OnToolResult func(*tools.ToolResult)
}

func NewLoop(provider providers.LLMProvider, registry *tools.Registry) *Loop {
	return &Loop{
		Provider:    provider,
		Registry:    registry,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Result is what a completed run hands back. LimitReached marks a run that
// used up maxIterations without a tool-call-free turn; Content is then
// whatever the last turn produced, often empty, and the caller decides the
// user-facing fallback.
type Result struct {
	Content      string
	Iterations   int
	NewMessages  []providers.Message
	LimitReached bool
}

// Run executes up to maxIterations rounds. messages must begin with one
// system message. Provider failures propagate to the caller; tool failures
// never do, they are fed back in-band as error tool results.
func (l *Loop) Run(ctx context.Context, messages []providers.Message, model string, maxIterations int) (*Result, error) {
	if maxIterations < 1 {
		maxIterations = 1
	}

	running := make([]providers.Message, len(messages))
	copy(running, messages)

	var newMessages []providers.Message
	var lastContent string
	iteration := 0

	for iteration < maxIterations {
		iteration++

		definitions := l.Registry.Definitions()
		logger.DebugCF("agent", "LLM iteration", map[string]any{
			"iteration": iteration,
			"max":       maxIterations,
			"messages":  len(running),
			"tools":     len(definitions),
			"model":     model,
		})

		response, err := l.Provider.Chat(ctx, running, definitions, model, map[string]any{
			"max_tokens":  l.MaxTokens,
			"temperature": l.Temperature,
		})
		if err != nil {
			logger.ErrorCF("agent", "LLM call failed", map[string]any{
				"iteration": iteration,
				"error":     err.Error(),
			})
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}

		lastContent = response.Content

		if len(response.ToolCalls) == 0 {
			logger.InfoCF("agent", "LLM response without tool calls (direct answer)", map[string]any{
				"iteration":     iteration,
				"content_chars": len(response.Content),
			})
			return &Result{
				Content:     response.Content,
				Iterations:  iteration,
				NewMessages: newMessages,
			}, nil
		}

		toolNames := make([]string, 0, len(response.ToolCalls))
		for _, tc := range response.ToolCalls {
			toolNames = append(toolNames, tc.Name)
		}
		logger.InfoCF("agent", "LLM requested tool calls", map[string]any{
			"tools":     toolNames,
			"count":     len(response.ToolCalls),
			"iteration": iteration,
		})

		assistantMsg := buildAssistantMessage(response)
		running = append(running, assistantMsg)
		newMessages = append(newMessages, assistantMsg)

		// Calls execute strictly in the order the model requested them.
		terminalHit := false
		for _, tc := range assistantMsg.ToolCalls {
			result := l.Registry.ExecuteWithContext(ctx, tc.Name, tc.Arguments, l.Origin, l.SessionID)

			if l.OnToolResult != nil && !result.Silent && result.ForUser != "" {
				l.OnToolResult(result)
			}
			if l.TerminalTool != "" && tc.Name == l.TerminalTool && !result.IsError {
				terminalHit = true
			}

			toolMsg := providers.Message{
				Role:       "tool",
				Content:    result.Content(),
				ToolCallID: tc.ID,
			}
			running = append(running, toolMsg)
			newMessages = append(newMessages, toolMsg)
		}

		if terminalHit {
			logger.InfoCF("agent", "Terminal tool observed, ending run", map[string]any{
				"tool":      l.TerminalTool,
				"iteration": iteration,
			})
			return &Result{
				Content:     response.Content,
				Iterations:  iteration,
				NewMessages: newMessages,
			}, nil
		}
	}

	logger.WarnCF("agent", "Iteration cap reached without a final answer", map[string]any{
		"iterations": iteration,
	})
	return &Result{
		Content:      lastContent,
		Iterations:   iteration,
		NewMessages:  newMessages,
		LimitReached: true,
	}, nil
}

// buildAssistantMessage rebuilds the assistant turn that carries the tool
// calls, keeping id/name/arguments pairs exactly as the provider returned
// them so the paired tool results stay resolvable.
func buildAssistantMessage(response *providers.LLMResponse) providers.Message {
	msg := providers.Message{
		Role:    "assistant",
		Content: response.Content,
	}
	for _, tc := range response.ToolCalls {
		argumentsJSON := ""
		if tc.Function != nil && tc.Function.Arguments != "" {
			argumentsJSON = tc.Function.Arguments
		} else if len(tc.Arguments) > 0 {
			if data, err := json.Marshal(tc.Arguments); err == nil {
				argumentsJSON = string(data)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Name,
			Arguments: tc.Arguments,
			Function: &providers.FunctionCall{
				Name:      tc.Name,
				Arguments: argumentsJSON,
			},
		})
	}
	return msg
}
