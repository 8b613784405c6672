package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subsum/internal/core"
	"subsum/internal/store"
)

// EntitlementState is the reconciler's internal machine state. Consumers
// never read Pending or Unknown directly; they read the committed Pro/Free
// projection through IsPro, which only moves on confirmed evidence.
type EntitlementState string

const (
	EntitlementUnknown EntitlementState = "unknown"
	EntitlementFree    EntitlementState = "free"
	EntitlementPending EntitlementState = "pending"
	EntitlementPro     EntitlementState = "pro"
)

// storeQueryTimeout bounds individual store calls (startup query, restore);
// the update stream itself is unbounded.
const storeQueryTimeout = 15 * time.Second

// SettingsStore is the slice of the repository the reconciler needs to
// project its committed state into the persisted isProUser flag.
type SettingsStore interface {
	GetSettings(ctx context.Context) (core.Settings, error)
	SaveSettings(ctx context.Context, settings core.Settings) error
}

// ProductIDs is the fixed pair of premium offers.
type ProductIDs struct {
	Monthly string
	Yearly  string
}

func (p ProductIDs) Contains(id string) bool {
	return id != "" && (id == p.Monthly || id == p.Yearly)
}

func (p ProductIDs) Slice() []string {
	return []string{p.Monthly, p.Yearly}
}

// Reconciler converges store events into one authoritative entitlement
// value. All transitions run under one mutex so reconciliation passes are
// strictly serialized: a pass commits its state and its persisted
// projection before the next queued event is looked at.
type Reconciler struct {
	store    store.Store
	settings SettingsStore
	products ProductIDs

	// onCommit runs after the isProUser projection is persisted and the
	// mutex is released, so it may call back into the reconciler. Used to
	// resync reminders that depend on entitlement.
	onCommit func(ctx context.Context, pro bool)

	mu        sync.Mutex
	state     EntitlementState
	committed bool // last committed Pro projection
	catalog   []store.Product
	loading   bool
	finished  map[string]struct{}
}

func NewReconciler(st store.Store, settings SettingsStore, products ProductIDs) *Reconciler {
	return &Reconciler{
		store:    st,
		settings: settings,
		products: products,
		state:    EntitlementUnknown,
		finished: make(map[string]struct{}),
	}
}

// OnCommit registers the post-commit hook. Must be called before Run.
func (r *Reconciler) OnCommit(fn func(ctx context.Context, pro bool)) {
	r.onCommit = fn
}

// IsPro reports the last committed entitlement projection.
func (r *Reconciler) IsPro() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// State exposes the machine state for diagnostics and the paywall UI.
func (r *Reconciler) State() EntitlementState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Catalog returns the loaded offer catalog; empty when the store was
// unreachable ("offers unavailable, try restoring").
func (r *Reconciler) Catalog() ([]store.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Product, len(r.catalog))
	copy(out, r.catalog)
	return out, r.loading
}

// LoadProducts fetches the premium offer catalog. Store failure is
// non-fatal and yields an empty catalog.
func (r *Reconciler) LoadProducts(ctx context.Context) {
	r.mu.Lock()
	r.loading = true
	r.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()
	catalog, err := r.store.Products(cctx, r.products.Slice())
	if err != nil {
		slog.WarnContext(ctx, "Offer catalog unavailable", "error", err)
		catalog = nil
	}

	r.mu.Lock()
	r.catalog = catalog
	r.loading = false
	r.mu.Unlock()
}

// AdoptPersistedProjection seeds the committed projection from the stored
// settings. Used at boot so a deployment without a reachable commerce
// backend keeps honoring a previously granted entitlement. The machine
// state stays Unknown until a store query commits real truth.
func (r *Reconciler) AdoptPersistedProjection(ctx context.Context) {
	settings, err := r.settings.GetSettings(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Could not read persisted entitlement projection", "error", err)
		return
	}
	r.mu.Lock()
	r.committed = settings.IsProUser
	r.mu.Unlock()
}

// RefreshEntitlements runs the startup query: ask the store for current
// verified entitlements and commit Pro or Free accordingly. On query
// failure the prior committed state stays untouched.
func (r *Reconciler) RefreshEntitlements(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()
	txs, err := r.store.CurrentEntitlements(cctx)
	if err != nil {
		slog.WarnContext(ctx, "Entitlement query failed, keeping prior state", "error", err)
		return fmt.Errorf("query entitlements: %w", err)
	}

	pro := false
	for _, tx := range txs {
		if tx.Verified && r.products.Contains(tx.ProductID) {
			pro = true
			break
		}
	}

	r.mu.Lock()
	notify := r.commitLocked(ctx, pro)
	r.mu.Unlock()
	notify()
	return nil
}

// Purchase runs the purchase flow for one offer. The machine sits in
// Pending only while the store call is in flight; cancelled and pending
// outcomes fall back to the previously committed state.
func (r *Reconciler) Purchase(ctx context.Context, productID string) (store.PurchaseOutcome, error) {
	if !r.products.Contains(productID) {
		return "", fmt.Errorf("unknown product %q", productID)
	}

	r.mu.Lock()
	r.state = EntitlementPending
	r.mu.Unlock()

	result, err := r.store.Purchase(ctx, productID)

	r.mu.Lock()
	var notify func()
	switch {
	case err != nil:
		notify = r.settleLocked(ctx)
	case result.Outcome == store.OutcomeSuccess && result.Transaction != nil:
		notify = r.applyTransactionLocked(ctx, *result.Transaction)
	default:
		notify = r.settleLocked(ctx)
	}
	r.mu.Unlock()
	notify()

	if err != nil {
		return "", fmt.Errorf("purchase %s: %w", productID, err)
	}
	return result.Outcome, nil
}

// Restore re-runs the startup query after asking the platform to sync.
func (r *Reconciler) Restore(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()
	if err := r.store.Sync(cctx); err != nil {
		slog.WarnContext(ctx, "Store sync failed", "error", err)
	}
	return r.RefreshEntitlements(ctx)
}

// HandleTransaction processes one event from the transaction-update stream.
// Unverified transactions are ignored entirely (fail closed). Verified
// transactions for known products are finished with the store exactly once
// and commit Pro; replays change nothing.
func (r *Reconciler) HandleTransaction(ctx context.Context, tx store.Transaction) error {
	if !tx.Verified {
		slog.DebugContext(ctx, "Ignoring unverified transaction", "transaction_id", tx.ID)
		return nil
	}
	if !r.products.Contains(tx.ProductID) {
		slog.DebugContext(ctx, "Ignoring transaction for unknown product",
			"transaction_id", tx.ID,
			"product_id", tx.ProductID)
		return nil
	}

	r.mu.Lock()
	notify := r.applyTransactionLocked(ctx, tx)
	r.mu.Unlock()
	notify()
	return nil
}

// Run consumes the transaction-update stream until ctx is cancelled. The
// channel has a single consumer; each event is fully reconciled, committed,
// and projected before the next one is read.
func (r *Reconciler) Run(ctx context.Context, updates <-chan store.Transaction) error {
	slog.InfoContext(ctx, "Entitlement reconciler started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Entitlement reconciler stopping", "reason", ctx.Err())
			return ctx.Err()
		case tx, ok := <-updates:
			if !ok {
				return fmt.Errorf("transaction update stream closed")
			}
			if err := r.HandleTransaction(ctx, tx); err != nil {
				slog.ErrorContext(ctx, "Failed to reconcile transaction",
					"transaction_id", tx.ID,
					"error", err)
			}
		}
	}
}

// applyTransactionLocked finishes a verified known-product transaction once
// and commits Pro. Callers hold r.mu and must invoke the returned function
// after releasing it.
func (r *Reconciler) applyTransactionLocked(ctx context.Context, tx store.Transaction) func() {
	if _, done := r.finished[tx.ID]; !done {
		if err := r.store.Finish(ctx, tx.ID); err != nil {
			// Not fatal: the store redelivers unfinished transactions.
			slog.WarnContext(ctx, "Failed to finish transaction", "transaction_id", tx.ID, "error", err)
		} else {
			r.finished[tx.ID] = struct{}{}
		}
	}
	return r.commitLocked(ctx, true)
}

// settleLocked leaves Pending for the previously committed state.
func (r *Reconciler) settleLocked(ctx context.Context) func() {
	return r.commitLocked(ctx, r.committed)
}

// commitLocked moves the machine to Pro or Free and persists the isProUser
// projection. The persisted write completes before any dependent reminder
// resync can observe it. The returned function runs the post-commit hook and
// must be called after r.mu is released; the hook may call back into the
// reconciler.
func (r *Reconciler) commitLocked(ctx context.Context, pro bool) func() {
	prev := r.state
	changed := r.committed != pro || prev == EntitlementUnknown || prev == EntitlementPending

	r.committed = pro
	if pro {
		r.state = EntitlementPro
	} else {
		r.state = EntitlementFree
	}

	if !changed {
		return func() {}
	}

	if err := r.persistLocked(ctx, pro); err != nil {
		// Best effort: in-memory state stays authoritative, a re-fetch
		// heals the persisted copy.
		slog.ErrorContext(ctx, "Failed to persist entitlement projection", "error", err, "pro", pro)
	}

	slog.InfoContext(ctx, "Entitlement committed", "state", r.state, "previous", prev)

	if r.onCommit == nil {
		return func() {}
	}
	hook := r.onCommit
	return func() { hook(ctx, pro) }
}

func (r *Reconciler) persistLocked(ctx context.Context, pro bool) error {
	settings, err := r.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.IsProUser == pro {
		return nil
	}
	settings.IsProUser = pro
	if err := r.settings.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
