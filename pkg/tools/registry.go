package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/providers"
)

// Registry owns the tool instances for exactly one execution context.
// Each context (interactive conversation, scheduled run, automation run)
// builds its own registry; instances are never shared across concurrent
// contexts.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedToolNames()
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *ToolResult {
	return r.ExecuteWithContext(ctx, name, args, "", "")
}

// ExecuteWithContext executes a tool, first handing origin/sessionID to
// tools that track their execution context. An unknown name and a panicking
// tool both come back as in-band error results; a tool call can never abort
// the calling loop.
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]any,
	origin, sessionID string,
) (result *ToolResult) {
	logger.InfoCF("tool", "Tool execution started", map[string]any{
		"tool": name,
		"args": args,
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]any{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	if contextualTool, ok := tool.(ContextualTool); ok && origin != "" {
		contextualTool.SetContext(origin, sessionID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tool", "Tool panicked", map[string]any{
				"tool":  name,
				"panic": fmt.Sprintf("%v", rec),
			})
			result = ErrorResult(fmt.Sprintf("tool %q failed: %v", name, rec)).
				WithError(fmt.Errorf("tool panic: %v", rec))
		}
	}()

	start := time.Now()
	result = tool.Execute(ctx, args)
	duration := time.Since(start)

	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %q returned no result", name))
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]any{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}

	return result
}

// sortedToolNames returns tool names in sorted order for deterministic
// iteration. This is critical for KV cache stability: non-deterministic map
// iteration would produce different tool definition orderings on each call,
// invalidating the LLM's prefix cache even when no tools have changed.
func (r *Registry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the provider-shaped projection of every registered
// tool, deterministically ordered.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]providers.ToolDefinition, 0, len(sorted))
	for _, name := range sorted {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}
