package usage

import (
	"context"
	"log/slog"
	"time"

	"sabiops/internal/types"
)

// CounterStore is the server-of-record interface the reconciler syncs
// against. Using a narrow interface keeps the reconciler testable without
// database dependencies.
type CounterStore interface {
	// AddToCounter atomically adds delta to the stored counter for the given
	// (account, feature, period) and returns the resulting authoritative
	// count. A zero delta is a pure read: it returns the current count
	// without mutating.
	AddToCounter(ctx context.Context, accountID string, feature types.FeatureType, periodStart, periodEnd time.Time, delta int) (int, error)
}

// Reconciler periodically flushes optimistic local increments to the server
// of record and corrects local counts from the authoritative response. The
// local mirror stays responsive between ticks; the server stays the
// enforcement point.
type Reconciler struct {
	tracker *Tracker
	store   CounterStore
	logger  *slog.Logger
}

// NewReconciler creates a usage reconciler.
func NewReconciler(tracker *Tracker, store CounterStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tracker: tracker,
		store:   store,
		logger:  logger,
	}
}

// Run reconciles at the given interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce drains pending deltas, pushes each to the store, and applies
// the authoritative counts locally. A failed push re-credits its delta so
// the next tick retries; one failing counter never blocks the rest.
// Returns the number of counters successfully synced.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	synced := 0
	for _, pd := range r.tracker.DrainPending() {
		authoritative, err := r.store.AddToCounter(ctx, pd.AccountID, pd.Feature, pd.PeriodStart, pd.PeriodEnd, pd.Delta)
		if err != nil {
			r.tracker.Recredit(pd.AccountID, pd.Feature, pd.Delta)
			r.logger.WarnContext(ctx, "usage sync failed, will retry next tick",
				"account_id", pd.AccountID,
				"feature", string(pd.Feature),
				"delta", pd.Delta,
				"error", err,
			)
			continue
		}
		r.tracker.Correct(pd.AccountID, pd.Feature, pd.PeriodStart, authoritative)
		synced++
	}
	return synced
}
