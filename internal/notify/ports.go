// Package notify defines the ports for the platform notification collaborator.
//
// Reminder identifiers are subscription identifiers, so a reschedule for the
// same subscription always replaces the previous reminder (last-write-wins,
// at most one pending reminder per subscription).
package notify

import (
	"context"
	"time"
)

type (
	// Scheduler is the outbound port for reminder delivery.
	Scheduler interface {
		// Schedule registers a reminder to fire at the given instant,
		// replacing any pending reminder with the same id.
		Schedule(ctx context.Context, id string, fireAt time.Time, title, body string) error

		// Cancel removes the pending reminder with the given id, if any.
		Cancel(ctx context.Context, id string) error

		// CancelAll removes every pending reminder.
		CancelAll(ctx context.Context) error
	}
)
