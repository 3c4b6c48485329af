package types

// PlanTier identifies the subscription plan for an account.
// The tier name doubles as the billing cadence for paid plans.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanWeekly  PlanTier = "weekly"
	PlanMonthly PlanTier = "monthly"
	PlanYearly  PlanTier = "yearly"
)

// SubscriptionStatus represents the lifecycle state of an account's subscription.
type SubscriptionStatus string

const (
	SubStatusTrial     SubscriptionStatus = "trial"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusExpired   SubscriptionStatus = "expired"
	SubStatusCancelled SubscriptionStatus = "cancelled"
)

// FeatureType identifies a usage-metered feature.
type FeatureType string

const (
	FeatureSales    FeatureType = "sales"
	FeatureProducts FeatureType = "products"
	FeatureExpenses FeatureType = "expenses"
	FeatureInvoices FeatureType = "invoices"
)

// AllFeatureTypes lists every valid metered feature. Used by validators
// and by the reconciler when iterating an account's counters.
var AllFeatureTypes = []FeatureType{
	FeatureSales,
	FeatureProducts,
	FeatureExpenses,
	FeatureInvoices,
}

// Valid reports whether the feature type is a known metered feature.
func (f FeatureType) Valid() bool {
	switch f {
	case FeatureSales, FeatureProducts, FeatureExpenses, FeatureInvoices:
		return true
	}
	return false
}

// PeriodType defines the rolling window over which a usage counter accumulates.
type PeriodType string

const (
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodYearly  PeriodType = "yearly"
)

// Valid reports whether the period type is a known granularity.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodYearly:
		return true
	}
	return false
}

// EventType identifies the kind of inbound business event.
// Events arrive from multiple producers (API handlers, the push channel,
// the subscription watcher); unknown values are preserved as EventUnknown
// rather than rejected, per the ingestion-boundary validation policy.
type EventType string

const (
	EventLowStock            EventType = "low_stock"
	EventOutOfStock          EventType = "out_of_stock"
	EventInvoiceOverdue      EventType = "invoice_overdue"
	EventInvoicePaid         EventType = "invoice_paid"
	EventPaymentReceived     EventType = "payment_received"
	EventUsageWarning        EventType = "usage_warning"
	EventUsageLimitReached   EventType = "usage_limit_reached"
	EventTrialExpiring       EventType = "trial_expiring"
	EventSubscriptionExpired EventType = "subscription_expired"
	EventSystemAlert         EventType = "system_alert"
	EventUnknown             EventType = "unknown"
)

// knownEventTypes is the closed set of event kinds the core understands.
var knownEventTypes = map[EventType]struct{}{
	EventLowStock:            {},
	EventOutOfStock:          {},
	EventInvoiceOverdue:      {},
	EventInvoicePaid:         {},
	EventPaymentReceived:     {},
	EventUsageWarning:        {},
	EventUsageLimitReached:   {},
	EventTrialExpiring:       {},
	EventSubscriptionExpired: {},
	EventSystemAlert:         {},
}

// Normalize maps an arbitrary inbound type string onto the known event set,
// returning EventUnknown for anything unrecognized. Producers outside this
// module are loosely typed, so unknown kinds get an explicit fallback variant
// instead of an error.
func (e EventType) Normalize() EventType {
	if _, ok := knownEventTypes[e]; ok {
		return e
	}
	return EventUnknown
}

// ToastKind determines a toast's visual treatment and default duration.
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastWarning ToastKind = "warning"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
)

// Valid reports whether the toast kind is one of the four known kinds.
func (k ToastKind) Valid() bool {
	switch k {
	case ToastSuccess, ToastWarning, ToastError, ToastInfo:
		return true
	}
	return false
}
