package schedule

import (
	"time"

	"github.com/adhocore/gronx"
)

// NextTrigger computes the next trigger for a schedule after it has run.
// The second return is false when there is no further occurrence and the
// schedule should be deleted.
//
// All calendar math happens in now's location, so callers control the
// timezone by the value they pass.
func NextTrigger(s Schedule, now time.Time) (int64, bool) {
	switch s.Recurrence.Type {
	case RecurrenceOnce:
		return 0, false

	case RecurrenceInterval:
		// Anchored to the actual execution time rather than the original
		// trigger, so a delayed run does not accumulate drift.
		return now.UnixMilli() + s.Recurrence.IntervalMS, true

	case RecurrenceDaily:
		hour, minute, err := ParseTimeOfDay(s.Recurrence.Time)
		if err != nil {
			return 0, false
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate.UnixMilli(), true

	case RecurrenceWeekly:
		hour, minute, err := ParseTimeOfDay(s.Recurrence.Time)
		if err != nil {
			return 0, false
		}
		allowed := make(map[int]bool, len(s.Recurrence.DaysOfWeek))
		for _, d := range s.Recurrence.DaysOfWeek {
			allowed[d] = true
		}
		for offset := 0; offset <= 7; offset++ {
			day := now.AddDate(0, 0, offset)
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
			if allowed[isoWeekday(candidate)] && candidate.After(now) {
				return candidate.UnixMilli(), true
			}
		}
		// Unreachable for a valid non-empty day set.
		return now.AddDate(0, 0, 7).UnixMilli(), true

	case RecurrenceCron:
		next, err := gronx.NextTickAfter(s.Recurrence.Expr, now, false)
		if err != nil {
			return 0, false
		}
		return next.UnixMilli(), true

	default:
		return 0, false
	}
}
