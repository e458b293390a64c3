package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiki-ai/hibiki/pkg/memory"
)

// RememberTool stores a durable personal memory entry.
type RememberTool struct {
	store *memory.Store
}

func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store a fact about the user for later recall. Use this for preferences, recurring context, decisions, or anything worth persisting across conversations."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The information to remember. Be specific and self-contained.",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Category: preference, fact, decision, context, or other.",
				"enum":        []string{"preference", "fact", "decision", "context", "other"},
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	category, _ := args["category"].(string)

	if _, err := t.store.Remember(ctx, category, content); err != nil {
		return ErrorResult("Failed to store memory: " + err.Error()).WithError(err)
	}
	return SilentResult("Memory stored: " + content)
}

// RecallTool searches stored memories.
type RecallTool struct {
	store *memory.Store
}

func NewRecallTool(store *memory.Store) *RecallTool {
	return &RecallTool{store: store}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Search stored memories about the user. Returns the most recent matches; call with no query to see the latest entries."
}

func (t *RecallTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Keywords to search for. Optional.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum entries to return (default 10).",
			},
		},
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, _ := args["query"].(string)
	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	entries, err := t.store.Recall(ctx, query, limit)
	if err != nil {
		return ErrorResult("Failed to search memories: " + err.Error()).WithError(err)
	}
	if len(entries) == 0 {
		return SilentResult("No matching memories")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", e.Category, e.Content, e.CreatedAt.Format("2006-01-02"))
	}
	return SilentResult(b.String())
}
