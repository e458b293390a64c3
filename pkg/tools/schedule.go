package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/schedule"
)

// ScheduleTool lets the model create and manage scheduled tasks. Registries
// built for scheduled execution never include it, so a background task can
// not schedule follow-up work recursively.
type ScheduleTool struct {
	store *schedule.Store
	now   func() time.Time
}

func NewScheduleTool(store *schedule.Store) *ScheduleTool {
	return &ScheduleTool{store: store, now: time.Now}
}

func (t *ScheduleTool) Name() string {
	return "schedule_task"
}

func (t *ScheduleTool) Description() string {
	return "Create, list, cancel, enable or disable scheduled tasks. A task's instruction is executed by the assistant at the trigger time, optionally repeating (interval, daily, weekly, cron)."
}

func (t *ScheduleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "list", "cancel", "enable", "disable"},
				"description": "Action to perform.",
			},
			"instruction": map[string]any{
				"type":        "string",
				"description": "What to do when the task fires (required for create). Written as an instruction to the assistant.",
			},
			"trigger_at": map[string]any{
				"type":        "string",
				"description": "First trigger as ISO datetime, e.g. '2026-03-01T09:00:00' (local time). Optional for recurring tasks; the first occurrence is computed from the recurrence.",
			},
			"recurrence": map[string]any{
				"type":        "object",
				"description": "How the task repeats. Omit for a one-shot task.",
				"properties": map[string]any{
					"type": map[string]any{
						"type":        "string",
						"enum":        []string{"once", "interval", "daily", "weekly", "cron"},
						"description": "Recurrence type.",
					},
					"interval_seconds": map[string]any{
						"type":        "integer",
						"description": "Repeat interval in seconds for 'interval'. Must be a positive integer.",
					},
					"time": map[string]any{
						"type":        "string",
						"description": "Time of day 'HH:mm' for 'daily' and 'weekly'.",
					},
					"days_of_week": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "integer"},
						"description": "Days for 'weekly': 1=Monday .. 7=Sunday.",
					},
					"expr": map[string]any{
						"type":        "string",
						"description": "Cron expression for 'cron' (e.g. '0 9 * * 1-5').",
					},
				},
				"required": []string{"type"},
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Task id (required for cancel, enable, disable).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	action, ok := args["action"].(string)
	if !ok {
		return ErrorResult("action is required and must be one of: create, list, cancel, enable, disable")
	}

	switch action {
	case "create":
		return t.create(args)
	case "list":
		return t.list()
	case "cancel":
		return t.byID(args, "cancel", t.store.Remove)
	case "enable":
		return t.byID(args, "enable", func(id string) error { return t.store.SetEnabled(id, true) })
	case "disable":
		return t.byID(args, "disable", func(id string) error { return t.store.SetEnabled(id, false) })
	default:
		return ErrorResult(fmt.Sprintf("invalid action: %s", action))
	}
}

func (t *ScheduleTool) create(args map[string]any) *ToolResult {
	instruction, _ := args["instruction"].(string)
	if strings.TrimSpace(instruction) == "" {
		return ErrorResult("instruction is required for create action")
	}

	rec, err := parseRecurrence(args["recurrence"])
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid recurrence: %v", err))
	}

	now := t.now()
	triggerAtMS, err := t.firstTrigger(args, rec, now)
	if err != nil {
		return ErrorResult(err.Error())
	}

	s := schedule.Schedule{
		ID:          uuid.NewString(),
		Kind:        schedule.KindTask,
		Instruction: instruction,
		TriggerAtMS: triggerAtMS,
		Enabled:     true,
		Recurrence:  rec,
		CreatedAtMS: now.UnixMilli(),
	}
	if err := t.store.Add(s); err != nil {
		return ErrorResult(fmt.Sprintf("error creating task: %v", err))
	}

	next := time.UnixMilli(triggerAtMS).Format("2006-01-02 15:04:05")
	return SilentResult(fmt.Sprintf("Scheduled task (id: %s, first run: %s)", s.ID, next))
}

// firstTrigger resolves the initial trigger: an explicit trigger_at wins,
// otherwise the recurrence computes its first occurrence from now.
func (t *ScheduleTool) firstTrigger(args map[string]any, rec schedule.Recurrence, now time.Time) (int64, error) {
	if atStr, ok := args["trigger_at"].(string); ok && atStr != "" {
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			at, err = time.ParseInLocation("2006-01-02T15:04:05", atStr, now.Location())
			if err != nil {
				return 0, fmt.Errorf("invalid trigger_at format: use ISO format like '2026-03-01T09:00:00'")
			}
		}
		return at.UnixMilli(), nil
	}

	if rec.Type == schedule.RecurrenceOnce {
		return 0, fmt.Errorf("trigger_at is required for a one-shot task")
	}
	first, ok := schedule.NextTrigger(schedule.Schedule{Recurrence: rec}, now)
	if !ok {
		return 0, fmt.Errorf("recurrence yields no occurrence")
	}
	return first, nil
}

func parseRecurrence(arg any) (schedule.Recurrence, error) {
	if arg == nil {
		return schedule.Recurrence{Type: schedule.RecurrenceOnce}, nil
	}
	m, ok := arg.(map[string]any)
	if !ok {
		return schedule.Recurrence{}, fmt.Errorf("recurrence must be an object with a type property")
	}

	typeStr, _ := m["type"].(string)
	rec := schedule.Recurrence{Type: schedule.RecurrenceType(typeStr)}

	switch rec.Type {
	case schedule.RecurrenceOnce:

	case schedule.RecurrenceInterval:
		seconds, ok := m["interval_seconds"].(float64)
		if !ok {
			return schedule.Recurrence{}, fmt.Errorf("interval_seconds is required for 'interval'")
		}
		if seconds <= 0 || seconds != float64(int64(seconds)) {
			return schedule.Recurrence{}, fmt.Errorf("interval_seconds must be a positive integer, got %v", seconds)
		}
		rec.IntervalMS = int64(seconds) * 1000

	case schedule.RecurrenceDaily:
		rec.Time, _ = m["time"].(string)

	case schedule.RecurrenceWeekly:
		rec.Time, _ = m["time"].(string)
		days, _ := m["days_of_week"].([]any)
		for _, d := range days {
			day, ok := d.(float64)
			if !ok {
				return schedule.Recurrence{}, fmt.Errorf("days_of_week must contain integers 1..7")
			}
			rec.DaysOfWeek = append(rec.DaysOfWeek, int(day))
		}

	case schedule.RecurrenceCron:
		rec.Expr, _ = m["expr"].(string)

	default:
		return schedule.Recurrence{}, fmt.Errorf("unknown recurrence type: %q", typeStr)
	}

	if err := rec.Validate(); err != nil {
		return schedule.Recurrence{}, err
	}
	return rec, nil
}

func (t *ScheduleTool) list() *ToolResult {
	all, err := t.store.All()
	if err != nil {
		return ErrorResult(fmt.Sprintf("error listing tasks: %v", err))
	}
	if len(all) == 0 {
		return SilentResult("No scheduled tasks")
	}

	var b strings.Builder
	b.WriteString("Scheduled tasks:\n")
	for _, s := range all {
		status := "enabled"
		if !s.Enabled {
			status = "disabled"
		}
		next := time.UnixMilli(s.TriggerAtMS).Format("2006-01-02 15:04:05")
		fmt.Fprintf(&b, "- %s [%s] (id: %s, %s, next: %s)\n",
			s.Instruction, status, s.ID, describeRecurrence(s.Recurrence), next)
	}
	return SilentResult(b.String())
}

func describeRecurrence(rec schedule.Recurrence) string {
	switch rec.Type {
	case schedule.RecurrenceInterval:
		return fmt.Sprintf("every %ds", rec.IntervalMS/1000)
	case schedule.RecurrenceDaily:
		return fmt.Sprintf("daily at %s", rec.Time)
	case schedule.RecurrenceWeekly:
		return fmt.Sprintf("weekly at %s on %v", rec.Time, rec.DaysOfWeek)
	case schedule.RecurrenceCron:
		return fmt.Sprintf("cron: %s", rec.Expr)
	default:
		return "one-time"
	}
}

func (t *ScheduleTool) byID(args map[string]any, action string, apply func(id string) error) *ToolResult {
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return ErrorResult(fmt.Sprintf("id is required for %s action", action))
	}
	if err := apply(id); err != nil {
		return ErrorResult(fmt.Sprintf("error on %s: %v", action, err))
	}
	return SilentResult(fmt.Sprintf("Task %s: %s", action, id))
}
