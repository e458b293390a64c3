// Package tools defines the tool contract, the per-context registry, and
// the built-in capabilities (scheduling, timers, memory, messaging, UI
// automation) plus the MCP loader for external tool servers.
package tools

import "context"

// Tool is a named capability the model can invoke. Parameters returns a
// JSON-schema object; argument validation is the tool's own job, not the
// loop's.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ContextualTool is implemented by tools that need to know which execution
// context is driving them before each call.
type ContextualTool interface {
	Tool
	SetContext(origin, sessionID string)
}
