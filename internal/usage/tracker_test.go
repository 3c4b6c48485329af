package usage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"sabiops/internal/billing"
	"sabiops/internal/types"
)

func discardLogger() types.Logger {
	return types.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func freeAccount() types.Account {
	return types.Account{
		ID:         "acc_1",
		Plan:       types.PlanFree,
		Status:     types.SubStatusActive,
		PeriodType: types.PeriodWeekly,
	}
}

func newTestTracker(rows []types.UsageLimitRow) *Tracker {
	reg := billing.NewStaticLimitRegistry(rows, false)
	return NewTracker(reg, DefaultWarningPolicy, discardLogger())
}

func TestCheckAndIncrement_CountsUp(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	for i := 1; i <= 3; i++ {
		res, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("increment %d blocked unexpectedly", i)
		}
		if res.Remaining != 50-i {
			t.Errorf("increment %d remaining = %d, want %d", i, res.Remaining, 50-i)
		}
	}

	period, err := tracker.Snapshot(acct, types.FeatureSales, now)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if period.CurrentCount != 3 {
		t.Errorf("CurrentCount = %d, want 3", period.CurrentCount)
	}
}

func TestCheckAndIncrement_BlockedAtLimitLeavesCountUntouched(t *testing.T) {
	rows := []types.UsageLimitRow{
		{Plan: types.PlanFree, Feature: types.FeatureInvoices, PeriodType: types.PeriodWeekly, LimitCount: 2},
	}
	tracker := newTestTracker(rows)
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	for i := 0; i < 2; i++ {
		if _, err := tracker.CheckAndIncrement(acct, types.FeatureInvoices, now); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	// At the limit: blocked, not an error, and the count does not move.
	res, err := tracker.CheckAndIncrement(acct, types.FeatureInvoices, now)
	if err != nil {
		t.Fatalf("blocked increment returned error: %v", err)
	}
	if res.Allowed {
		t.Error("increment at the limit should be blocked")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if !res.WarningThreshold {
		t.Error("a blocked result is always flagged near-limit")
	}

	period, _ := tracker.Snapshot(acct, types.FeatureInvoices, now)
	if period.CurrentCount != 2 {
		t.Errorf("CurrentCount = %d, want 2 (blocked call must not mutate)", period.CurrentCount)
	}
}

func TestCheckAndIncrement_WarningThresholds(t *testing.T) {
	rows := []types.UsageLimitRow{
		{Plan: types.PlanFree, Feature: types.FeatureSales, PeriodType: types.PeriodWeekly, LimitCount: 50},
	}
	tracker := newTestTracker(rows)
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	// 10% of 50 is 5 remaining; the 45th increment leaves exactly 5.
	for i := 1; i <= 44; i++ {
		res, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if res.WarningThreshold {
			t.Fatalf("increment %d flagged near-limit too early (remaining %d)", i, res.Remaining)
		}
	}

	res, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now)
	if err != nil {
		t.Fatalf("increment 45: %v", err)
	}
	if !res.WarningThreshold {
		t.Errorf("remaining %d should trip the 10%% warning", res.Remaining)
	}
}

func TestCheckAndIncrement_AbsoluteWarningFloor(t *testing.T) {
	// With a limit of 10 the fractional threshold is 1 remaining, but the
	// absolute floor of 2 fires first.
	rows := []types.UsageLimitRow{
		{Plan: types.PlanFree, Feature: types.FeatureProducts, PeriodType: types.PeriodWeekly, LimitCount: 10},
	}
	tracker := newTestTracker(rows)
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	var last types.UsageResult
	for i := 1; i <= 8; i++ {
		var err error
		last, err = tracker.CheckAndIncrement(acct, types.FeatureProducts, now)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if last.Remaining != 2 {
		t.Fatalf("Remaining = %d, want 2", last.Remaining)
	}
	if !last.WarningThreshold {
		t.Error("2 remaining should trip the absolute warning floor")
	}
}

func TestRollover_ResetsCountAtPeriodEnd(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()

	// Wednesday of one ISO week.
	now := ts("2025-01-15T10:00:00Z")
	for i := 0; i < 5; i++ {
		if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	// The following Monday starts a fresh period with the count at zero.
	next := ts("2025-01-20T00:00:00Z")
	period, err := tracker.Snapshot(acct, types.FeatureSales, next)
	if err != nil {
		t.Fatalf("Snapshot after rollover: %v", err)
	}
	if period.CurrentCount != 0 {
		t.Errorf("CurrentCount after rollover = %d, want 0", period.CurrentCount)
	}
	if !period.PeriodStart.Equal(ts("2025-01-20T00:00:00Z")) {
		t.Errorf("PeriodStart = %s, want 2025-01-20", period.PeriodStart)
	}
}

func TestMidPeriodPlanChange_AppliesLimitWithoutReset(t *testing.T) {
	rows := []types.UsageLimitRow{
		{Plan: types.PlanFree, Feature: types.FeatureSales, PeriodType: types.PeriodWeekly, LimitCount: 50},
		{Plan: types.PlanWeekly, Feature: types.FeatureSales, PeriodType: types.PeriodWeekly, LimitCount: 250},
	}
	tracker := newTestTracker(rows)
	now := ts("2025-01-15T10:00:00Z")

	acct := freeAccount()
	for i := 0; i < 10; i++ {
		if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	// Upgrade mid-period: the new limit applies immediately against the
	// existing count, which is not reset.
	acct.Plan = types.PlanWeekly
	period, err := tracker.Snapshot(acct, types.FeatureSales, now)
	if err != nil {
		t.Fatalf("Snapshot after upgrade: %v", err)
	}
	if period.CurrentCount != 10 {
		t.Errorf("CurrentCount = %d, want 10 (upgrade must not reset)", period.CurrentCount)
	}
	if period.LimitCount != 250 {
		t.Errorf("LimitCount = %d, want 250", period.LimitCount)
	}
}

func TestAllowOverage_ExceedsLimit(t *testing.T) {
	rows := []types.UsageLimitRow{
		{Plan: types.PlanFree, Feature: types.FeatureInvoices, PeriodType: types.PeriodWeekly, LimitCount: 1},
	}
	tracker := newTestTracker(rows)
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	if _, err := tracker.CheckAndIncrement(acct, types.FeatureInvoices, now); err != nil {
		t.Fatalf("increment: %v", err)
	}

	res, err := tracker.AllowOverage(acct, types.FeatureInvoices, now)
	if err != nil {
		t.Fatalf("AllowOverage: %v", err)
	}
	if !res.Allowed {
		t.Error("overage path must allow the increment")
	}

	period, _ := tracker.Snapshot(acct, types.FeatureInvoices, now)
	if period.CurrentCount != 2 {
		t.Errorf("CurrentCount = %d, want 2 (over the limit of 1)", period.CurrentCount)
	}
	if period.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0 (floored)", period.Remaining())
	}
}

func TestValidation_RejectsBadInput(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	now := ts("2025-01-15T10:00:00Z")

	tests := []struct {
		name    string
		acct    types.Account
		feature types.FeatureType
	}{
		{"unknown feature", freeAccount(), types.FeatureType("widgets")},
		{"unknown period", types.Account{ID: "acc_1", Plan: types.PlanFree, PeriodType: "biweekly"}, types.FeatureSales},
		{"empty account id", types.Account{Plan: types.PlanFree, PeriodType: types.PeriodWeekly}, types.FeatureSales},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tracker.CheckAndIncrement(tt.acct, tt.feature, now); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestDrainPending_CollectsAndClears(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	for i := 0; i < 4; i++ {
		if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	drained := tracker.DrainPending()
	if len(drained) != 1 {
		t.Fatalf("drained %d entries, want 1", len(drained))
	}
	if drained[0].Delta != 4 {
		t.Errorf("Delta = %d, want 4", drained[0].Delta)
	}

	// A second drain still yields the tracked period, but with a zero delta.
	drained = tracker.DrainPending()
	if len(drained) != 1 || drained[0].Delta != 0 {
		t.Errorf("second drain = %+v, want one zero-delta entry", drained)
	}
}

func TestDrainPending_CarriesDeltaAcrossRollover(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	for i := 0; i < 3; i++ {
		if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	// Cross into the next ISO week before any drain: the rollover supersedes
	// the period, but its unsynced increments must still reach the server.
	next := ts("2025-01-20T09:00:00Z")
	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, next); err != nil {
		t.Fatalf("increment after rollover: %v", err)
	}

	drained := tracker.DrainPending()
	if len(drained) != 2 {
		t.Fatalf("drained %d entries, want 2 (superseded + live)", len(drained))
	}

	old, live := drained[0], drained[1]
	if old.Delta != 3 {
		t.Errorf("superseded delta = %d, want 3", old.Delta)
	}
	if !old.PeriodStart.Equal(ts("2025-01-13T00:00:00Z")) {
		t.Errorf("superseded PeriodStart = %s, want 2025-01-13", old.PeriodStart)
	}
	if live.Delta != 1 {
		t.Errorf("live delta = %d, want 1", live.Delta)
	}
	if !live.PeriodStart.Equal(ts("2025-01-20T00:00:00Z")) {
		t.Errorf("live PeriodStart = %s, want 2025-01-20", live.PeriodStart)
	}

	// The carried entry drains exactly once.
	drained = tracker.DrainPending()
	if len(drained) != 1 || drained[0].Delta != 0 {
		t.Errorf("second drain = %+v, want one zero-delta live entry", drained)
	}
}

func TestRecredit_RestoresDelta(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	tracker.DrainPending()

	tracker.Recredit(acct.ID, types.FeatureSales, 1)

	drained := tracker.DrainPending()
	if len(drained) != 1 || drained[0].Delta != 1 {
		t.Errorf("drain after recredit = %+v, want delta 1", drained)
	}
}

func TestCorrect_AppliesAuthoritativeCount(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	drained := tracker.DrainPending()

	// Another device pushed 7 increments; the server says 8 total.
	tracker.Correct(acct.ID, types.FeatureSales, drained[0].PeriodStart, 8)

	period, _ := tracker.Snapshot(acct, types.FeatureSales, now)
	if period.CurrentCount != 8 {
		t.Errorf("CurrentCount = %d, want 8", period.CurrentCount)
	}
}

func TestCorrect_IgnoresStalePeriod(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// A correction keyed to some other period start is dropped.
	tracker.Correct(acct.ID, types.FeatureSales, ts("2025-01-06T00:00:00Z"), 40)

	period, _ := tracker.Snapshot(acct, types.FeatureSales, now)
	if period.CurrentCount != 1 {
		t.Errorf("CurrentCount = %d, want 1 (stale correction ignored)", period.CurrentCount)
	}
}

func TestCorrect_PreservesPendingDelta(t *testing.T) {
	tracker := newTestTracker(billing.DefaultLimitRows())
	acct := freeAccount()
	now := ts("2025-01-15T10:00:00Z")

	// Two increments, one drained and synced, one still pending.
	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	drained := tracker.DrainPending()
	if _, err := tracker.CheckAndIncrement(acct, types.FeatureSales, now); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// Server acknowledges the first push: authoritative count 1. The pending
	// local increment rides on top.
	tracker.Correct(acct.ID, types.FeatureSales, drained[0].PeriodStart, 1)

	period, _ := tracker.Snapshot(acct, types.FeatureSales, now)
	if period.CurrentCount != 2 {
		t.Errorf("CurrentCount = %d, want 2 (authoritative 1 + pending 1)", period.CurrentCount)
	}
}
