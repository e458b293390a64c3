package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/schedule"
)

// TimerTool sets plain timers. A timer is a one-shot schedule record of
// kind "timer": when it fires, the runner queues a fixed notification
// without any provider call.
type TimerTool struct {
	store *schedule.Store
	now   func() time.Time
}

func NewTimerTool(store *schedule.Store) *TimerTool {
	return &TimerTool{store: store, now: time.Now}
}

func (t *TimerTool) Name() string {
	return "set_timer"
}

func (t *TimerTool) Description() string {
	return "Set a timer that notifies the user when it expires. Use for simple reminders like 'timer for 10 minutes'; use schedule_task when the assistant should do something at that time."
}

func (t *TimerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration_seconds": map[string]any{
				"type":        "integer",
				"description": "Timer length in seconds, counted from now. Must be a positive integer.",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Short label spoken/shown when the timer expires, e.g. 'tea'.",
			},
		},
		"required": []string{"duration_seconds"},
	}
}

func (t *TimerTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	seconds, ok := args["duration_seconds"].(float64)
	if !ok || seconds <= 0 || seconds != float64(int64(seconds)) {
		return ErrorResult("duration_seconds must be a positive integer")
	}

	label, _ := args["label"].(string)
	label = strings.TrimSpace(label)
	if label == "" {
		label = "timer"
	}

	now := t.now()
	s := schedule.Schedule{
		ID:          uuid.NewString(),
		Kind:        schedule.KindTimer,
		Instruction: label,
		TriggerAtMS: now.Add(time.Duration(seconds) * time.Second).UnixMilli(),
		Enabled:     true,
		Recurrence:  schedule.Recurrence{Type: schedule.RecurrenceOnce},
		CreatedAtMS: now.UnixMilli(),
	}
	if err := t.store.Add(s); err != nil {
		return ErrorResult(fmt.Sprintf("error setting timer: %v", err))
	}

	return SilentResult(fmt.Sprintf("Timer %q set for %s (id: %s)",
		label, time.UnixMilli(s.TriggerAtMS).Format("15:04:05"), s.ID))
}
