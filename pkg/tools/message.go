package tools

import (
	"context"
	"strings"
	"sync"
)

// SendFunc delivers a message to the user right away. The foreground wires
// it to the active conversation surface; background contexts wire it to the
// pending-output queue.
type SendFunc func(content string) error

// MessageTool sends the user a message before the current run finishes.
// Useful for progress notes during long tool sequences and for background
// runs whose only visible output is what they choose to send.
type MessageTool struct {
	mu          sync.Mutex
	send        SendFunc
	origin      string
	sentInRound bool
}

func NewMessageTool(send SendFunc) *MessageTool {
	return &MessageTool{send: send}
}

func (t *MessageTool) Name() string {
	return "send_message"
}

func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, without waiting for the end of the current task. Use sparingly for progress updates or intermediate findings."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The message content to send.",
			},
		},
		"required": []string{"content"},
	}
}

// SetContext resets per-round send tracking.
func (t *MessageTool) SetContext(origin, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = origin
	t.sentInRound = false
}

// HasSentInRound reports whether a message went out during the current
// round, letting the caller avoid repeating the same content in the final
// reply.
func (t *MessageTool) HasSentInRound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentInRound
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, ok := args["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}

	t.mu.Lock()
	send := t.send
	t.mu.Unlock()

	if send == nil {
		return ErrorResult("no message surface available in this context")
	}
	if err := send(content); err != nil {
		return ErrorResult("failed to send message: " + err.Error()).WithError(err)
	}

	t.mu.Lock()
	t.sentInRound = true
	t.mu.Unlock()

	return SilentResult("Message sent to user")
}
