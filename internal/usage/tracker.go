// Package usage implements the client-mirror usage tracker: optimistic
// per-feature counters checked against plan-scoped, period-scoped limits.
// The tracker is authoritative for UI responsiveness only; the server of
// record enforces the real limits and the reconciler periodically corrects
// local counts from it.
package usage

import (
	"sync"
	"time"

	"sabiops/internal/billing"
	"sabiops/internal/types"
)

// WarningPolicy controls when a check result is flagged as near-limit. A
// result is flagged when remaining headroom is at or below Fraction of the
// limit, or at or below Absolute, whichever triggers first.
type WarningPolicy struct {
	Fraction float64
	Absolute int
}

// DefaultWarningPolicy matches the production thresholds: 10% of the limit
// or 2 remaining, whichever is hit first.
var DefaultWarningPolicy = WarningPolicy{Fraction: 0.10, Absolute: 2}

// nearLimit reports whether the remaining headroom triggers the policy.
func (p WarningPolicy) nearLimit(remaining, limit int) bool {
	if limit <= 0 {
		return false
	}
	if remaining <= p.Absolute {
		return true
	}
	return float64(remaining) <= p.Fraction*float64(limit)
}

// trackKey identifies one live usage period.
type trackKey struct {
	accountID string
	feature   types.FeatureType
}

// trackedPeriod is the mutable state behind one (account, feature) counter.
type trackedPeriod struct {
	period types.UsagePeriod
	// pendingDelta counts optimistic increments not yet pushed to the server
	// of record. Drained by the reconciler.
	pendingDelta int
}

// Tracker holds the live usage period per (account, feature). All state
// lives behind one mutex: increments and rollovers are read-modify-write
// sequences and must not interleave.
type Tracker struct {
	registry billing.LimitRegistry
	policy   WarningPolicy
	logger   types.Logger

	mu      sync.Mutex
	periods map[trackKey]*trackedPeriod
	// carried holds unsynced deltas from superseded periods so a rollover
	// never silently drops increments the server of record has not seen.
	carried []PendingDelta
}

// NewTracker creates a usage tracker backed by the given limit registry.
func NewTracker(registry billing.LimitRegistry, policy WarningPolicy, logger types.Logger) *Tracker {
	return &Tracker{
		registry: registry,
		policy:   policy,
		logger:   logger,
		periods:  make(map[trackKey]*trackedPeriod),
	}
}

// validateInput rejects malformed account/feature input. These are caller
// bugs, not runtime business conditions, so they surface as AppErrors.
func validateInput(acct types.Account, feature types.FeatureType) error {
	if !feature.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidFeature,
			"unknown feature type: "+string(feature), nil)
	}
	if !acct.PeriodType.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidPeriod,
			"unknown period type: "+string(acct.PeriodType), nil)
	}
	if acct.ID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidAccount,
			"account id must not be empty", nil)
	}
	return nil
}

// GetOrCreatePeriod returns the live period for (account, feature) at now,
// creating a fresh one when none exists or the clock has crossed the stored
// period's end. Rollover supersedes the old period: the count resets to zero
// and the limit is re-resolved for the account's current plan.
//
// Mid-period plan changes apply immediately: the limit is re-resolved on
// every call against the existing count, which is never retroactively reset.
func (t *Tracker) GetOrCreatePeriod(acct types.Account, feature types.FeatureType, now time.Time) (types.UsagePeriod, error) {
	if err := validateInput(acct, feature); err != nil {
		return types.UsagePeriod{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tp, err := t.currentLocked(acct, feature, now)
	if err != nil {
		return types.UsagePeriod{}, err
	}
	return tp.period, nil
}

// currentLocked resolves the live period, rolling over and re-resolving the
// limit as needed. Caller holds t.mu.
func (t *Tracker) currentLocked(acct types.Account, feature types.FeatureType, now time.Time) (*trackedPeriod, error) {
	key := trackKey{accountID: acct.ID, feature: feature}
	tp, ok := t.periods[key]

	if ok && now.Before(tp.period.PeriodEnd) {
		// Existing period is live. Re-resolve the limit so a mid-period plan
		// change takes effect immediately against the existing count.
		limit, err := t.registry.Lookup(acct.Plan, feature, acct.PeriodType)
		if err != nil {
			return nil, err
		}
		tp.period.LimitCount = limit
		return tp, nil
	}

	start, end, err := billing.PeriodBounds(acct.PeriodType, now)
	if err != nil {
		return nil, err
	}
	limit, err := t.registry.Lookup(acct.Plan, feature, acct.PeriodType)
	if err != nil {
		return nil, err
	}

	if ok {
		if tp.pendingDelta > 0 {
			// The superseded period may still owe increments to the server of
			// record. Park them so the next drain pushes them under the old
			// period's bounds instead of dropping them.
			t.carried = append(t.carried, PendingDelta{
				AccountID:   acct.ID,
				Feature:     feature,
				PeriodStart: tp.period.PeriodStart,
				PeriodEnd:   tp.period.PeriodEnd,
				Delta:       tp.pendingDelta,
			})
		}
		t.logger.Info("usage period rolled over",
			"account_id", acct.ID,
			"feature", string(feature),
			"previous_end", tp.period.PeriodEnd.Format(time.RFC3339),
			"new_start", start.Format(time.RFC3339),
		)
	}

	tp = &trackedPeriod{
		period: types.UsagePeriod{
			Feature:      feature,
			PeriodStart:  start,
			PeriodEnd:    end,
			CurrentCount: 0,
			LimitCount:   limit,
		},
	}
	t.periods[key] = tp
	return tp, nil
}

// CheckAndIncrement attempts one usage increment. Limit conditions never
// error: a blocked increment returns Allowed=false with the counter left
// untouched. The warning flag marks near-limit results for upgrade-prompt
// messaging; the caller owns what to show.
func (t *Tracker) CheckAndIncrement(acct types.Account, feature types.FeatureType, now time.Time) (types.UsageResult, error) {
	if err := validateInput(acct, feature); err != nil {
		return types.UsageResult{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tp, err := t.currentLocked(acct, feature, now)
	if err != nil {
		return types.UsageResult{}, err
	}

	if tp.period.CurrentCount >= tp.period.LimitCount {
		return types.UsageResult{
			Allowed:          false,
			Remaining:        tp.period.Remaining(),
			WarningThreshold: true,
		}, nil
	}

	tp.period.CurrentCount++
	tp.pendingDelta++

	remaining := tp.period.Remaining()
	return types.UsageResult{
		Allowed:          true,
		Remaining:        remaining,
		WarningThreshold: t.policy.nearLimit(remaining, tp.period.LimitCount),
	}, nil
}

// AllowOverage is the explicit grace path: it increments even when the limit
// is reached, letting the count exceed the limit. Callers use this only when
// the product flow permits finishing an in-flight action after expiry.
func (t *Tracker) AllowOverage(acct types.Account, feature types.FeatureType, now time.Time) (types.UsageResult, error) {
	if err := validateInput(acct, feature); err != nil {
		return types.UsageResult{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tp, err := t.currentLocked(acct, feature, now)
	if err != nil {
		return types.UsageResult{}, err
	}

	tp.period.CurrentCount++
	tp.pendingDelta++

	remaining := tp.period.Remaining()
	return types.UsageResult{
		Allowed:          true,
		Remaining:        remaining,
		WarningThreshold: t.policy.nearLimit(remaining, tp.period.LimitCount),
	}, nil
}

// Snapshot returns a read-only copy of the live period for rendering
// progress indicators ("X of Y used").
func (t *Tracker) Snapshot(acct types.Account, feature types.FeatureType, now time.Time) (types.UsagePeriod, error) {
	return t.GetOrCreatePeriod(acct, feature, now)
}

// PendingDelta describes optimistic increments awaiting server sync.
type PendingDelta struct {
	AccountID   string
	Feature     types.FeatureType
	PeriodStart time.Time
	PeriodEnd   time.Time
	Delta       int
}

// DrainPending atomically collects and clears the pending deltas for every
// tracked period, including zero-delta entries so the reconciler can still
// pull authoritative corrections for idle counters. Deltas parked by a
// period rollover drain first, under the superseded period's bounds.
func (t *Tracker) DrainPending() []PendingDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingDelta, 0, len(t.carried)+len(t.periods))
	out = append(out, t.carried...)
	t.carried = nil
	for key, tp := range t.periods {
		out = append(out, PendingDelta{
			AccountID:   key.accountID,
			Feature:     key.feature,
			PeriodStart: tp.period.PeriodStart,
			PeriodEnd:   tp.period.PeriodEnd,
			Delta:       tp.pendingDelta,
		})
		tp.pendingDelta = 0
	}
	return out
}

// Recredit returns an unsynced delta to the pending pool after a failed
// server push so the next reconcile retries it.
func (t *Tracker) Recredit(accountID string, feature types.FeatureType, delta int) {
	if delta <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if tp, ok := t.periods[trackKey{accountID: accountID, feature: feature}]; ok {
		tp.pendingDelta += delta
	}
}

// Correct overwrites the local count with the authoritative server value.
// The correction only applies if the tracked period still covers the given
// period start; a rolled-over period ignores stale corrections.
func (t *Tracker) Correct(accountID string, feature types.FeatureType, periodStart time.Time, authoritativeCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp, ok := t.periods[trackKey{accountID: accountID, feature: feature}]
	if !ok || !tp.period.PeriodStart.Equal(periodStart) {
		return
	}
	// The authoritative count does not include deltas still pending locally.
	tp.period.CurrentCount = authoritativeCount + tp.pendingDelta
	if tp.period.CurrentCount < 0 {
		tp.period.CurrentCount = 0
	}
}
