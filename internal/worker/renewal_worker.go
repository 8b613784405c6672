package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsum/internal/services"
)

// RenewalWorker periodically rolls stale next-charge dates forward and
// rebuilds the pending reminders so devices stay in sync even when nobody
// opens the app.
type RenewalWorker struct {
	service *services.SubscriptionService
}

func NewRenewalWorker(service *services.SubscriptionService) *RenewalWorker {
	return &RenewalWorker{service: service}
}

// ProcessDueSubscriptions runs one renewal pass: listing advances and
// persists every stale date, then the reminder set is rebuilt on top of the
// fresh dates.
func (w *RenewalWorker) ProcessDueSubscriptions(ctx context.Context) error {
	start := time.Now()

	subs, err := w.service.List(ctx)
	if err != nil {
		return fmt.Errorf("advance subscriptions: %w", err)
	}
	if err := w.service.ResyncReminders(ctx); err != nil {
		return fmt.Errorf("resync reminders: %w", err)
	}

	slog.InfoContext(ctx, "Renewal pass complete",
		"subscriptions", len(subs),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Run executes renewal passes on the given interval until the context is
// cancelled. One pass runs immediately at startup.
func (w *RenewalWorker) Run(ctx context.Context, interval time.Duration) error {
	slog.InfoContext(ctx, "Renewal worker started", "interval", interval)

	if err := w.ProcessDueSubscriptions(ctx); err != nil {
		slog.ErrorContext(ctx, "Initial renewal pass failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Renewal worker stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessDueSubscriptions(ctx); err != nil {
				slog.ErrorContext(ctx, "Renewal pass failed", "error", err)
			}
		}
	}
}
