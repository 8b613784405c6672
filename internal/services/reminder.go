package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsum/internal/core"
	"subsum/internal/notify"
)

const reminderTitle = "Upcoming Charge"

// ReminderPolicy decides which subscriptions get a charge reminder and keeps
// the notification collaborator in sync with the current subscription set.
type ReminderPolicy struct {
	scheduler notify.Scheduler
}

func NewReminderPolicy(scheduler notify.Scheduler) *ReminderPolicy {
	return &ReminderPolicy{scheduler: scheduler}
}

// ComputeTrigger returns the instant a reminder should fire: reminderDays
// calendar days before the next charge. The second return is false when the
// subscription is inactive or the trigger is not strictly in the future;
// past-due triggers are skipped silently, never fired late.
func ComputeTrigger(sub core.Subscription, reminderDays int, now time.Time) (time.Time, bool) {
	if !sub.Active {
		return time.Time{}, false
	}
	trigger := sub.NextChargeDate.AddDate(0, 0, -reminderDays)
	if !trigger.After(now) {
		return time.Time{}, false
	}
	return trigger, true
}

// ReminderBody renders the notification text for one subscription.
func ReminderBody(sub core.Subscription, reminderDays int) string {
	unit := "days"
	if reminderDays == 1 {
		unit = "day"
	}
	return fmt.Sprintf("%s: %s %s renews in %d %s.", sub.Name, sub.Amount, sub.Currency, reminderDays, unit)
}

// Schedule registers the reminder for a single subscription, replacing any
// pending one with the same id. No-op when the trigger is skipped.
func (p *ReminderPolicy) Schedule(ctx context.Context, sub core.Subscription, reminderDays int, now time.Time) error {
	trigger, ok := ComputeTrigger(sub, reminderDays, now)
	if !ok {
		return p.scheduler.Cancel(ctx, sub.ID.String())
	}
	return p.scheduler.Schedule(ctx, sub.ID.String(), trigger, reminderTitle, ReminderBody(sub, reminderDays))
}

// Cancel drops the pending reminder for a subscription id.
func (p *ReminderPolicy) Cancel(ctx context.Context, id string) error {
	return p.scheduler.Cancel(ctx, id)
}

// Resync recomputes the full reminder set from scratch: cancel everything,
// then schedule each qualifying subscription. Incremental patching is not
// allowed because reminder-day settings apply globally and retroactively.
// Returns the number of reminders scheduled.
func (p *ReminderPolicy) Resync(ctx context.Context, subs []core.Subscription, reminderDays int, now time.Time) (int, error) {
	if err := p.scheduler.CancelAll(ctx); err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}

	scheduled := 0
	for _, s := range subs {
		trigger, ok := ComputeTrigger(s, reminderDays, now)
		if !ok {
			continue
		}
		if err := p.scheduler.Schedule(ctx, s.ID.String(), trigger, reminderTitle, ReminderBody(s, reminderDays)); err != nil {
			slog.ErrorContext(ctx, "Failed to schedule reminder",
				"subscription_id", s.ID,
				"fire_at", trigger,
				"error", err)
			continue
		}
		scheduled++
	}

	slog.InfoContext(ctx, "Reminder resync complete",
		"scheduled", scheduled,
		"total", len(subs),
		"reminder_days", reminderDays)
	return scheduled, nil
}
