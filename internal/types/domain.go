package types

import "time"

// Account is the subscription snapshot for a tenant. It is owned by the
// external auth/subscription collaborator; this core only reads it. The
// billing provider refresh replaces the whole struct, never patches fields.
type Account struct {
	ID          string             `json:"id"`
	Plan        PlanTier           `json:"plan"`
	Status      SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt *time.Time         `json:"trial_ends_at,omitempty"`
	PeriodType  PeriodType         `json:"period_type"`
}

// UsageLimitRow is one static registry entry: the limit for a
// (plan, feature, period) combination. Rows are loaded once at startup
// and are immutable for the process lifetime; a refresh swaps the whole
// table, it never patches rows in place.
type UsageLimitRow struct {
	Plan       PlanTier    `json:"plan"`
	Feature    FeatureType `json:"feature_type"`
	PeriodType PeriodType  `json:"period_type"`
	LimitCount int         `json:"limit_count"`
}

// UsagePeriod is the live usage window for one (account, feature) pair.
// It is superseded, not mutated, when the clock crosses PeriodEnd: the
// tracker creates a fresh period with the count reset and the limit
// re-resolved for the account's current plan.
type UsagePeriod struct {
	Feature      FeatureType `json:"feature_type"`
	PeriodStart  time.Time   `json:"period_start"`
	PeriodEnd    time.Time   `json:"period_end"`
	CurrentCount int         `json:"current_count"`
	LimitCount   int         `json:"limit_count"`
}

// Remaining returns how many increments are left in the period, floored at 0.
// The count can exceed the limit only through the explicit overage path.
func (p UsagePeriod) Remaining() int {
	r := p.LimitCount - p.CurrentCount
	if r < 0 {
		return 0
	}
	return r
}

// UsageResult is the outcome of a check-and-increment call. Limit conditions
// are expressed here, never as errors, so callers can branch without
// exception handling.
type UsageResult struct {
	Allowed bool `json:"allowed"`
	// Remaining is the count left after this call (0 when blocked at the limit).
	Remaining int `json:"remaining"`
	// WarningThreshold is set when the remaining headroom falls at or below
	// the configured near-limit policy. It drives upgrade-prompt messaging,
	// distinct from a hard block.
	WarningThreshold bool `json:"warning_threshold"`
}

// Event is the normalized inbound business event shape accepted by the
// delivery guard and the notification store. AccountID scopes the event to
// one tenant; ReferenceID scopes dedup and debounce within that tenant: two
// events with the same (AccountID, Type, ReferenceID) are treated as
// structurally identical.
type Event struct {
	AccountID   string         `json:"account_id,omitempty"`
	Type        EventType      `json:"type" validate:"required"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Title       string         `json:"title,omitempty"`
	Message     string         `json:"message" validate:"required"`
	ActionURL   string         `json:"action_url,omitempty" validate:"omitempty,uri"`
	Data        map[string]any `json:"data,omitempty"`
}

// DedupKey returns the identity used for both store-level dedup and
// guard-level debounce. The account id is part of the key so identical
// events for different tenants never collapse into each other.
func (e Event) DedupKey() string {
	return e.AccountID + ":" + string(e.Type) + ":" + e.ReferenceID
}

// NotificationRecord is a persisted bell notification. Records are owned
// exclusively by the notification store; API responses carry copies. The
// account id pins each record to the tenant whose event produced it.
type NotificationRecord struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id,omitempty"`
	Type      EventType      `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	ActionURL string         `json:"action_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ClickAction describes where a toast navigates when clicked.
type ClickAction struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

// ToastRecord is an ephemeral stacked alert. It exists only in the
// dispatcher's active set and is never persisted.
type ToastRecord struct {
	ID          string        `json:"id"`
	Kind        ToastKind     `json:"type"`
	Title       string        `json:"title,omitempty"`
	Message     string        `json:"message"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration_ms"`
	Dismissible bool          `json:"dismissible"`
	ClickAction *ClickAction  `json:"click_action,omitempty"`
}

// SubscriptionSnapshot is the derived, read-only view of an account's
// subscription state exposed to UI collaborators for countdown rendering.
type SubscriptionSnapshot struct {
	Plan            PlanTier           `json:"plan"`
	EffectiveStatus SubscriptionStatus `json:"effective_status"`
	// DaysRemaining is non-nil only while the account is on trial.
	DaysRemaining *int `json:"days_remaining,omitempty"`
	InGracePeriod bool `json:"in_grace_period"`
}
