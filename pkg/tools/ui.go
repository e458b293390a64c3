package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/device"
)

// UIActionTool performs one gesture on an element from the latest UI
// snapshot.
type UIActionTool struct {
	device device.Controller
}

func NewUIActionTool(dev device.Controller) *UIActionTool {
	return &UIActionTool{device: dev}
}

func (t *UIActionTool) Name() string { return "ui_action" }

func (t *UIActionTool) Description() string {
	return "Perform a UI action on an element by its id from the latest snapshot. After acting, call ui_snapshot to observe the new screen state."
}

func (t *UIActionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"element_id": map[string]any{
				"type":        "string",
				"description": "Element id from the snapshot. Not needed for 'back'.",
			},
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"tap", "long_press", "input", "scroll_up", "scroll_down", "back"},
				"description": "The gesture to perform.",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to type, only for 'input'.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *UIActionTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	kind, _ := args["action"].(string)
	if kind == "" {
		return ErrorResult("action is required")
	}
	elementID, _ := args["element_id"].(string)
	if elementID == "" && kind != "back" {
		return ErrorResult("element_id is required for action " + kind)
	}
	text, _ := args["text"].(string)

	outcome, err := t.device.PerformAction(ctx, device.Action{
		ElementID: elementID,
		Kind:      kind,
		Text:      text,
	})
	if err != nil {
		if errors.Is(err, device.ErrElementNotFound) {
			return ErrorResult(fmt.Sprintf("element %q not found on the current screen; take a fresh ui_snapshot", elementID)).WithError(err)
		}
		return ErrorResult("ui action failed: " + err.Error()).WithError(err)
	}
	if outcome == "" {
		outcome = fmt.Sprintf("performed %s", kind)
	}
	return NewToolResult(outcome)
}

// UISnapshotTool captures a fresh textual snapshot of the visible UI.
type UISnapshotTool struct {
	device device.Controller
}

func NewUISnapshotTool(dev device.Controller) *UISnapshotTool {
	return &UISnapshotTool{device: dev}
}

func (t *UISnapshotTool) Name() string { return "ui_snapshot" }

func (t *UISnapshotTool) Description() string {
	return "Capture a fresh structural snapshot of the visible UI with element ids. Call this after every action that changes the screen."
}

func (t *UISnapshotTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *UISnapshotTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	snapshot, err := t.device.UISnapshot(ctx)
	if err != nil {
		return ErrorResult("failed to capture ui snapshot: " + err.Error()).WithError(err)
	}
	return NewToolResult(snapshot)
}

// FinishTaskTool is the terminal tool of the automation loop: calling it
// records the outcome and makes the loop stop at the current iteration.
type FinishTaskTool struct {
	mu      sync.Mutex
	done    bool
	status  string
	message string
}

func NewFinishTaskTool() *FinishTaskTool {
	return &FinishTaskTool{}
}

func (t *FinishTaskTool) Name() string { return "finish_task" }

func (t *FinishTaskTool) Description() string {
	return "Declare the automation task finished. Call exactly once, with success or failure and a short summary of what happened."
}

func (t *FinishTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{"success", "failure"},
				"description": "Task outcome.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Short summary of the outcome for the user.",
			},
		},
		"required": []string{"status", "message"},
	}
}

func (t *FinishTaskTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	status, _ := args["status"].(string)
	if status != "success" && status != "failure" {
		return ErrorResult("status must be 'success' or 'failure'")
	}
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required")
	}

	t.mu.Lock()
	t.done = true
	t.status = status
	t.message = message
	t.mu.Unlock()

	return SilentResult("Task marked " + status)
}

// Outcome returns the recorded result once finish_task has been called.
func (t *FinishTaskTool) Outcome() (status, message string, done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.message, t.done
}
