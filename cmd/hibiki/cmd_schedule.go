package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/schedule"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
		newScheduleToggleCmd(true),
		newScheduleToggleCmd(false),
	)
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.Close()

			all, err := app.store.All()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No schedules.")
				return nil
			}

			for _, s := range all {
				kind := string(s.Kind)
				if kind == "" {
					kind = "task"
				}
				status := "enabled"
				if !s.Enabled {
					status = "disabled"
				}
				next := time.UnixMilli(s.TriggerAtMS).Format("2006-01-02 15:04:05")
				fmt.Printf("%s  [%s, %s]  next %s  %s  %q\n",
					s.ID, kind, status, next, describeRecurrence(s.Recurrence), s.Instruction)
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	var at string
	var every time.Duration
	var daily, weekly, cronExpr string

	cmd := &cobra.Command{
		Use:   "add <instruction>",
		Short: "Add a scheduled task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := recurrenceFromFlags(every, daily, weekly, cronExpr)
			if err != nil {
				return err
			}

			now := time.Now()
			triggerAt, err := resolveTrigger(rec, at, now)
			if err != nil {
				return err
			}

			s := schedule.Schedule{
				ID:          uuid.NewString(),
				Kind:        schedule.KindTask,
				Instruction: strings.Join(args, " "),
				TriggerAtMS: triggerAt,
				Enabled:     true,
				Recurrence:  rec,
				CreatedAtMS: now.UnixMilli(),
			}
			if err := app.store.Add(s); err != nil {
				return err
			}
			fmt.Printf("Added %s (first run %s)\n",
				s.ID, time.UnixMilli(triggerAt).Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "first trigger time (RFC3339 or 2006-01-02T15:04:05 local)")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat interval, e.g. 30m or 2h")
	cmd.Flags().StringVar(&daily, "daily", "", "repeat daily at HH:MM")
	cmd.Flags().StringVar(&weekly, "weekly", "", "repeat weekly, ISO days@HH:MM, e.g. 1,3@08:30")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "repeat on a cron expression")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Println("Removed", args[0])
			return nil
		},
	}
}

func newScheduleToggleCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a schedule"
	if !enable {
		use, short = "disable <id>", "Disable a schedule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.SetEnabled(args[0], enable); err != nil {
				return err
			}
			if enable {
				fmt.Println("Enabled", args[0])
			} else {
				fmt.Println("Disabled", args[0])
			}
			return nil
		},
	}
}

func recurrenceFromFlags(every time.Duration, daily, weekly, cronExpr string) (schedule.Recurrence, error) {
	set := 0
	rec := schedule.Recurrence{Type: schedule.RecurrenceOnce}

	if every > 0 {
		set++
		rec = schedule.Recurrence{Type: schedule.RecurrenceInterval, IntervalMS: every.Milliseconds()}
	}
	if daily != "" {
		set++
		rec = schedule.Recurrence{Type: schedule.RecurrenceDaily, Time: daily}
	}
	if weekly != "" {
		set++
		days, at, err := parseWeeklySpec(weekly)
		if err != nil {
			return rec, err
		}
		rec = schedule.Recurrence{Type: schedule.RecurrenceWeekly, Time: at, DaysOfWeek: days}
	}
	if cronExpr != "" {
		set++
		rec = schedule.Recurrence{Type: schedule.RecurrenceCron, Expr: cronExpr}
	}

	if set > 1 {
		return rec, fmt.Errorf("use at most one of --every, --daily, --weekly, --cron")
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseWeeklySpec(spec string) ([]int, string, error) {
	parts := strings.SplitN(spec, "@", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("weekly spec must look like 1,3@08:30")
	}
	var days []int
	for _, p := range strings.Split(parts[0], ",") {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 1 || d > 7 {
			return nil, "", fmt.Errorf("weekly days must be 1 (Mon) through 7 (Sun)")
		}
		days = append(days, d)
	}
	return days, parts[1], nil
}

func resolveTrigger(rec schedule.Recurrence, at string, now time.Time) (int64, error) {
	if at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return t.UnixMilli(), nil
		}
		t, err := time.ParseInLocation("2006-01-02T15:04:05", at, now.Location())
		if err != nil {
			return 0, fmt.Errorf("cannot parse --at %q (want RFC3339 or 2006-01-02T15:04:05)", at)
		}
		return t.UnixMilli(), nil
	}

	if rec.Type == schedule.RecurrenceOnce {
		return 0, fmt.Errorf("one-shot schedules need --at")
	}
	trigger, ok := schedule.NextTrigger(schedule.Schedule{Recurrence: rec}, now)
	if !ok {
		return 0, fmt.Errorf("recurrence produces no upcoming trigger")
	}
	return trigger, nil
}

func describeRecurrence(r schedule.Recurrence) string {
	switch r.Type {
	case schedule.RecurrenceOnce:
		return "once"
	case schedule.RecurrenceInterval:
		return fmt.Sprintf("every %s", time.Duration(r.IntervalMS)*time.Millisecond)
	case schedule.RecurrenceDaily:
		return "daily at " + r.Time
	case schedule.RecurrenceWeekly:
		days := make([]string, 0, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			days = append(days, weekdayName(d))
		}
		return fmt.Sprintf("weekly %s at %s", strings.Join(days, ","), r.Time)
	case schedule.RecurrenceCron:
		return "cron " + r.Expr
	default:
		return string(r.Type)
	}
}

func weekdayName(d int) string {
	switch d {
	case 1:
		return "Mon"
	case 2:
		return "Tue"
	case 3:
		return "Wed"
	case 4:
		return "Thu"
	case 5:
		return "Fri"
	case 6:
		return "Sat"
	case 7:
		return "Sun"
	default:
		return strconv.Itoa(d)
	}
}
