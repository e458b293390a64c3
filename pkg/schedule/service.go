package schedule

import (
	"context"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/logger"
)

// TriggerFunc handles one due schedule. It owns advancing or deleting the
// record; the service only decides when to call it.
type TriggerFunc func(ctx context.Context, s Schedule)

// Service is the in-process replacement for an OS wake facility: it sleeps
// until the soonest enabled trigger and fires the callback. Store mutations
// wake it up so newly added or edited schedules take effect immediately.
type Service struct {
	store   *Store
	trigger TriggerFunc
	wake    chan struct{}

	// fired remembers the exact trigger already handed to the callback so a
	// record whose advance failed cannot hot-loop.
	fired map[string]int64
}

func NewService(store *Store, trigger TriggerFunc) *Service {
	svc := &Service{
		store:   store,
		trigger: trigger,
		wake:    make(chan struct{}, 1),
		fired:   make(map[string]int64),
	}
	store.SetOnChange(svc.notify)
	return svc
}

func (svc *Service) notify() {
	select {
	case svc.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) {
	logger.InfoC("schedule", "Trigger service started")
	for {
		next, ok := svc.nextPending()

		if !ok {
			select {
			case <-ctx.Done():
				logger.InfoC("schedule", "Trigger service stopped")
				return
			case <-svc.wake:
			}
			continue
		}

		delay := time.Until(time.UnixMilli(next.TriggerAtMS))
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.InfoC("schedule", "Trigger service stopped")
				return
			case <-svc.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		svc.fired[next.ID] = next.TriggerAtMS
		logger.InfoCF("schedule", "Schedule due", map[string]any{
			"id":      next.ID,
			"trigger": next.TriggerAtMS,
		})
		svc.trigger(ctx, next)
	}
}

// nextPending returns the enabled schedule with the soonest trigger that
// has not already been fired at that trigger time.
func (svc *Service) nextPending() (Schedule, bool) {
	all, err := svc.store.All()
	if err != nil {
		logger.ErrorCF("schedule", "Failed to read schedule store", map[string]any{"error": err.Error()})
		return Schedule{}, false
	}

	var best Schedule
	found := false
	for _, s := range all {
		if !s.Enabled {
			continue
		}
		if firedAt, ok := svc.fired[s.ID]; ok && firedAt == s.TriggerAtMS {
			continue
		}
		if !found || s.TriggerAtMS < best.TriggerAtMS {
			best = s
			found = true
		}
	}

	// Drop bookkeeping for records that no longer exist or have moved on.
	if len(svc.fired) > 0 {
		live := make(map[string]int64, len(all))
		for _, s := range all {
			live[s.ID] = s.TriggerAtMS
		}
		for id, firedAt := range svc.fired {
			if trigger, ok := live[id]; !ok || trigger != firedAt {
				delete(svc.fired, id)
			}
		}
	}

	return best, found
}
