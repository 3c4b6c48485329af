// Package billing provides plan limit resolution and subscription state
// derivation for the usage and notification core.
package billing

import (
	"sync"

	"sabiops/internal/types"
)

// UnlimitedSentinel is the limit returned on the fail-open path when no
// registry row matches a lookup. Enforcement code treats any count below
// this value as within limits, so it is effectively "unlimited".
const UnlimitedSentinel = 1_000_000

// LimitRegistry resolves the usage limit for a (plan, feature, period)
// combination. This is the single source of truth for what each plan allows.
type LimitRegistry interface {
	// Lookup returns the limit count for the given combination. When no row
	// matches, behavior depends on the registry's missing-row policy: fail
	// open (UnlimitedSentinel, nil) or refuse with a not-found AppError.
	Lookup(plan types.PlanTier, feature types.FeatureType, period types.PeriodType) (int, error)
}

// limitKey is the composite map key for registry rows.
type limitKey struct {
	plan    types.PlanTier
	feature types.FeatureType
	period  types.PeriodType
}

// StaticLimitRegistry is an in-memory LimitRegistry loaded wholesale at
// startup. Rows are immutable between loads: Reload swaps the entire table
// under the lock, it never patches individual rows.
type StaticLimitRegistry struct {
	mu       sync.RWMutex
	rows     map[limitKey]int
	failOpen bool
}

// Compile-time assertion that StaticLimitRegistry implements LimitRegistry.
var _ LimitRegistry = (*StaticLimitRegistry)(nil)

// defaultLimitRows defines the hardcoded plan limits.
//
//	| Plan    | Sales | Products | Expenses | Invoices |
//	|---------|-------|----------|----------|----------|
//	| free    | 50    | 20       | 20       | 5        |
//	| weekly  | 250   | 100      | 100      | 100      |
//	| monthly | 1500  | 500      | 500      | 450      |
//	| yearly  | 18000 | 2000     | 2000     | 6000     |
//
// Paid-plan rows are scoped to the plan's own cadence (weekly plan counts
// per ISO week, and so on). Free accounts accumulate on a weekly window.
var defaultLimitRows = []types.UsageLimitRow{
	{Plan: types.PlanFree, Feature: types.FeatureSales, PeriodType: types.PeriodWeekly, LimitCount: 50},
	{Plan: types.PlanFree, Feature: types.FeatureProducts, PeriodType: types.PeriodWeekly, LimitCount: 20},
	{Plan: types.PlanFree, Feature: types.FeatureExpenses, PeriodType: types.PeriodWeekly, LimitCount: 20},
	{Plan: types.PlanFree, Feature: types.FeatureInvoices, PeriodType: types.PeriodWeekly, LimitCount: 5},

	{Plan: types.PlanWeekly, Feature: types.FeatureSales, PeriodType: types.PeriodWeekly, LimitCount: 250},
	{Plan: types.PlanWeekly, Feature: types.FeatureProducts, PeriodType: types.PeriodWeekly, LimitCount: 100},
	{Plan: types.PlanWeekly, Feature: types.FeatureExpenses, PeriodType: types.PeriodWeekly, LimitCount: 100},
	{Plan: types.PlanWeekly, Feature: types.FeatureInvoices, PeriodType: types.PeriodWeekly, LimitCount: 100},

	{Plan: types.PlanMonthly, Feature: types.FeatureSales, PeriodType: types.PeriodMonthly, LimitCount: 1500},
	{Plan: types.PlanMonthly, Feature: types.FeatureProducts, PeriodType: types.PeriodMonthly, LimitCount: 500},
	{Plan: types.PlanMonthly, Feature: types.FeatureExpenses, PeriodType: types.PeriodMonthly, LimitCount: 500},
	{Plan: types.PlanMonthly, Feature: types.FeatureInvoices, PeriodType: types.PeriodMonthly, LimitCount: 450},

	{Plan: types.PlanYearly, Feature: types.FeatureSales, PeriodType: types.PeriodYearly, LimitCount: 18000},
	{Plan: types.PlanYearly, Feature: types.FeatureProducts, PeriodType: types.PeriodYearly, LimitCount: 2000},
	{Plan: types.PlanYearly, Feature: types.FeatureExpenses, PeriodType: types.PeriodYearly, LimitCount: 2000},
	{Plan: types.PlanYearly, Feature: types.FeatureInvoices, PeriodType: types.PeriodYearly, LimitCount: 6000},
}

// DefaultLimitRows returns a copy of the built-in limit table so callers
// cannot mutate the package-level slice.
func DefaultLimitRows() []types.UsageLimitRow {
	rows := make([]types.UsageLimitRow, len(defaultLimitRows))
	copy(rows, defaultLimitRows)
	return rows
}

// NewStaticLimitRegistry builds a registry from the given rows. failOpen
// selects the missing-row policy: true resolves absent combinations to
// UnlimitedSentinel (the behavior observed in production), false refuses
// them with not_found_usage_limit_row so callers surface the config gap.
func NewStaticLimitRegistry(rows []types.UsageLimitRow, failOpen bool) *StaticLimitRegistry {
	r := &StaticLimitRegistry{failOpen: failOpen}
	r.Reload(rows)
	return r
}

// Reload replaces the entire limit table. Existing lookups keep reading the
// old table until the swap completes; no row is ever patched in place.
func (r *StaticLimitRegistry) Reload(rows []types.UsageLimitRow) {
	m := make(map[limitKey]int, len(rows))
	for _, row := range rows {
		m[limitKey{plan: row.Plan, feature: row.Feature, period: row.PeriodType}] = row.LimitCount
	}
	r.mu.Lock()
	r.rows = m
	r.mu.Unlock()
}

// Lookup returns the limit count for the given combination, applying the
// registry's missing-row policy when no row matches.
func (r *StaticLimitRegistry) Lookup(plan types.PlanTier, feature types.FeatureType, period types.PeriodType) (int, error) {
	r.mu.RLock()
	limit, ok := r.rows[limitKey{plan: plan, feature: feature, period: period}]
	r.mu.RUnlock()

	if ok {
		return limit, nil
	}
	if r.failOpen {
		return UnlimitedSentinel, nil
	}
	return 0, types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundLimitRow,
		"no usage limit configured for this plan/feature/period combination",
		nil,
		map[string]any{
			"plan":        string(plan),
			"feature":     string(feature),
			"period_type": string(period),
		},
	)
}
