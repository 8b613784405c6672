package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subsum/internal/amqp"
	"subsum/internal/services"
	"subsum/internal/store"
)

// EntitlementWorker feeds the reconciler from the transaction-update queue
// and keeps the entitlement fresh with a periodic re-query.
type EntitlementWorker struct {
	reconciler *services.Reconciler
}

func NewEntitlementWorker(reconciler *services.Reconciler) *EntitlementWorker {
	return &EntitlementWorker{reconciler: reconciler}
}

// HandleTransactionMessage processes a single transaction update from AMQP.
func (w *EntitlementWorker) HandleTransactionMessage(ctx context.Context, msg *amqp.TransactionMessage) error {
	slog.InfoContext(ctx, "Processing transaction update",
		"transaction_id", msg.ID,
		"product_id", msg.ProductID,
		"verified", msg.Verified)

	tx := store.Transaction{
		ID:          msg.ID,
		ProductID:   msg.ProductID,
		Verified:    msg.Verified,
		PurchasedAt: msg.PurchasedAt,
	}
	if err := w.reconciler.HandleTransaction(ctx, tx); err != nil {
		return fmt.Errorf("reconcile transaction %s: %w", msg.ID, err)
	}
	return nil
}

// StartupCheck loads the offer catalog and runs the initial entitlement
// query. A failed query is logged and retried by the periodic refresh.
func (w *EntitlementWorker) StartupCheck(ctx context.Context) {
	w.reconciler.LoadProducts(ctx)
	if err := w.reconciler.RefreshEntitlements(ctx); err != nil {
		slog.WarnContext(ctx, "Startup entitlement check failed", "error", err)
	}
}

// RunPeriodicRefresh re-queries entitlements on the given interval until
// the context is cancelled. Catches expiry of subscriptions the store never
// pushes an update for.
func (w *EntitlementWorker) RunPeriodicRefresh(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Entitlement refresh loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Entitlement refresh loop stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := w.reconciler.RefreshEntitlements(ctx); err != nil {
				slog.WarnContext(ctx, "Periodic entitlement refresh failed", "error", err)
			}
		}
	}
}
