package billing

import (
	"time"

	"sabiops/internal/types"
)

// SubscriptionState derives plan, effective status, and trial countdown from
// an account snapshot. Every derivation is a pure function of (account, now):
// there is no background timer mutating state, so reads never go stale and
// trial -> expired transitions happen the moment the clock crosses the
// boundary, with no tick required.
type SubscriptionState struct {
	clock types.Clock

	// gracePeriod is the post-expiry buffer during which destructive feature
	// lockout is deferred. Reflected for UI purposes only; enforcement lives
	// at the server of record.
	gracePeriod time.Duration
}

// NewSubscriptionState creates a SubscriptionState with the given clock and
// grace period buffer.
func NewSubscriptionState(clock types.Clock, gracePeriod time.Duration) *SubscriptionState {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SubscriptionState{
		clock:       clock,
		gracePeriod: gracePeriod,
	}
}

// EffectiveStatus returns the account's status adjusted for wall-clock time:
// a trial whose TrialEndsAt has passed reads as expired even if the stored
// status has not been updated yet.
func (s *SubscriptionState) EffectiveStatus(acct types.Account) types.SubscriptionStatus {
	return s.effectiveStatusAt(acct, s.clock.Now())
}

func (s *SubscriptionState) effectiveStatusAt(acct types.Account, now time.Time) types.SubscriptionStatus {
	if acct.Status == types.SubStatusTrial && acct.TrialEndsAt != nil && !now.Before(*acct.TrialEndsAt) {
		return types.SubStatusExpired
	}
	return acct.Status
}

// DaysRemaining returns the whole days left on trial, rounded up, floored at
// zero. Returns nil when the account is not on trial or has no trial end set.
func (s *SubscriptionState) DaysRemaining(acct types.Account) *int {
	if acct.Status != types.SubStatusTrial || acct.TrialEndsAt == nil {
		return nil
	}
	now := s.clock.Now()
	remaining := acct.TrialEndsAt.Sub(now)
	days := 0
	if remaining > 0 {
		days = int((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	}
	return &days
}

// IsWithinGracePeriod reports whether an expired account is still inside the
// post-expiry buffer.
func (s *SubscriptionState) IsWithinGracePeriod(acct types.Account) bool {
	now := s.clock.Now()
	if s.effectiveStatusAt(acct, now) != types.SubStatusExpired {
		return false
	}
	if acct.TrialEndsAt == nil {
		return false
	}
	return now.Before(acct.TrialEndsAt.Add(s.gracePeriod))
}

// Snapshot assembles the read-only view UI collaborators render from.
func (s *SubscriptionState) Snapshot(acct types.Account) types.SubscriptionSnapshot {
	return types.SubscriptionSnapshot{
		Plan:            acct.Plan,
		EffectiveStatus: s.EffectiveStatus(acct),
		DaysRemaining:   s.DaysRemaining(acct),
		InGracePeriod:   s.IsWithinGracePeriod(acct),
	}
}

// PeriodBounds truncates now to the start of the period granularity and
// returns [start, end). Weekly periods are ISO weeks (Monday 00:00 UTC),
// monthly periods are calendar months, yearly periods are calendar years.
// Unknown period types return a validation AppError; that indicates a caller
// bug, not a runtime condition.
func PeriodBounds(period types.PeriodType, now time.Time) (start, end time.Time, err error) {
	now = now.UTC()
	switch period {
	case types.PeriodWeekly:
		// ISO week: Monday is day 1. time.Weekday has Sunday == 0.
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)
	case types.PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	case types.PeriodYearly:
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidPeriod,
			"unknown period type: "+string(period),
			nil,
		)
	}
	return start, end, nil
}
