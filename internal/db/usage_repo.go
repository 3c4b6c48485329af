package db

import (
	"context"
	"time"

	"sabiops/internal/types"
	"sabiops/internal/usage"
)

// UsageCounterRepo is the server of record for usage counters. The local
// tracker mirrors these counts for responsiveness; this repo is where
// enforcement-grade numbers live.
//
// The usage_counters table has a composite primary key
// (account_id, feature, period_start) so each billing period gets its own
// row and rollover never needs an explicit reset.
type UsageCounterRepo struct {
	db DBTX
}

// Compile-time assertion that UsageCounterRepo implements usage.CounterStore.
var _ usage.CounterStore = (*UsageCounterRepo)(nil)

// NewUsageCounterRepo creates a new UsageCounterRepo backed by the given
// database connection (pool or transaction).
func NewUsageCounterRepo(db DBTX) *UsageCounterRepo {
	return &UsageCounterRepo{db: db}
}

// AddToCounter atomically adds delta to the stored counter for the
// (account, feature, period) row, creating the row on first touch, and
// returns the resulting authoritative count. A zero delta upserts a zero
// row and reads the current count without changing it.
func (r *UsageCounterRepo) AddToCounter(
	ctx context.Context,
	accountID string,
	feature types.FeatureType,
	periodStart, periodEnd time.Time,
	delta int,
) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`INSERT INTO usage_counters (account_id, feature, period_start, period_end, current_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_id, feature, period_start)
		 DO UPDATE SET current_count = usage_counters.current_count + EXCLUDED.current_count
		 RETURNING current_count`,
		accountID, string(feature), periodStart, periodEnd, delta,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to add to usage counter", err)
	}
	return count, nil
}
