// Package schedule holds the persisted schedule records, the recurrence
// engine that computes follow-up triggers, and the daemon-mode trigger
// service.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by store lookups for unknown schedule ids.
var ErrNotFound = errors.New("schedule not found")

type RecurrenceType string

const (
	RecurrenceOnce     RecurrenceType = "once"
	RecurrenceInterval RecurrenceType = "interval"
	RecurrenceDaily    RecurrenceType = "daily"
	RecurrenceWeekly   RecurrenceType = "weekly"
	RecurrenceCron     RecurrenceType = "cron"
)

// Recurrence is a tagged variant. Only the fields for its Type are set:
// interval uses IntervalMS, daily uses Time, weekly uses Time plus
// DaysOfWeek (ISO numbering, 1=Monday .. 7=Sunday), cron uses Expr.
type Recurrence struct {
	Type       RecurrenceType `json:"type"`
	IntervalMS int64          `json:"intervalMs,omitempty"`
	Time       string         `json:"time,omitempty"`
	DaysOfWeek []int          `json:"daysOfWeek,omitempty"`
	Expr       string         `json:"expr,omitempty"`
}

func (r Recurrence) Validate() error {
	switch r.Type {
	case RecurrenceOnce:
		return nil
	case RecurrenceInterval:
		if r.IntervalMS <= 0 {
			return fmt.Errorf("interval recurrence requires a positive intervalMs, got %d", r.IntervalMS)
		}
		return nil
	case RecurrenceDaily:
		_, _, err := ParseTimeOfDay(r.Time)
		return err
	case RecurrenceWeekly:
		if _, _, err := ParseTimeOfDay(r.Time); err != nil {
			return err
		}
		if len(r.DaysOfWeek) == 0 {
			return errors.New("weekly recurrence requires at least one day of week")
		}
		for _, d := range r.DaysOfWeek {
			if d < 1 || d > 7 {
				return fmt.Errorf("day of week out of range 1..7: %d", d)
			}
		}
		return nil
	case RecurrenceCron:
		if strings.TrimSpace(r.Expr) == "" {
			return errors.New("cron recurrence requires an expr")
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence type: %q", r.Type)
	}
}

// Kind separates full agent tasks from plain timers. A timer fires a fixed
// notification with no provider involvement.
type Kind string

const (
	KindTask  Kind = "task"
	KindTimer Kind = "timer"
)

type Schedule struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind,omitempty"`
	Instruction      string     `json:"instruction"`
	TriggerAtMS      int64      `json:"triggerAtMs"`
	Enabled          bool       `json:"enabled"`
	Recurrence       Recurrence `json:"recurrence"`
	CreatedAtMS      int64      `json:"createdAt"`
	LastExecutedAtMS int64      `json:"lastExecutedAt,omitempty"`
}

func (s Schedule) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("schedule id is empty")
	}
	if strings.TrimSpace(s.Instruction) == "" {
		return errors.New("schedule instruction is empty")
	}
	if s.TriggerAtMS <= 0 {
		return fmt.Errorf("schedule trigger must be a positive epoch-ms value, got %d", s.TriggerAtMS)
	}
	if s.Kind != "" && s.Kind != KindTask && s.Kind != KindTimer {
		return fmt.Errorf("unknown schedule kind: %q", s.Kind)
	}
	return s.Recurrence.Validate()
}

// IsTimer reports whether the schedule is a plain timer. An empty Kind is a
// task for compatibility with records written before timers existed.
func (s Schedule) IsTimer() bool {
	return s.Kind == KindTimer
}

// ParseTimeOfDay parses "HH:mm" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:mm", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// isoWeekday maps Go's Sunday-based weekday to ISO numbering (1=Monday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
