// Package guard sits between event producers and the notification surfaces.
// It debounces rapid-fire duplicates, fans accepted events out to the bell
// store and the toast stack, and wraps the push delivery channel in per-key
// circuit breakers with a polling fallback while a circuit is open.
package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"sabiops/internal/notifications/store"
	"sabiops/internal/notifications/toast"
	"sabiops/internal/types"
)

// Options tune the guard's debounce and circuit behavior. Zero values fall
// back to production defaults.
type Options struct {
	// DebounceWindow suppresses re-delivery of the same event key within the
	// window. This is the fast-path collapse in front of the store's own
	// dedup: a burst from a flapping producer dies here.
	DebounceWindow time.Duration
	// FailureThreshold is the consecutive-failure count that opens a
	// circuit.
	FailureThreshold uint32
	// Cooldown is how long an open circuit waits before probing again.
	Cooldown time.Duration
	// PollInterval is the fallback polling cadence while any circuit is
	// open.
	PollInterval time.Duration
	// DashboardURL, when set, absolutizes relative event action URLs on
	// toast click actions (no trailing slash). Bell records keep the
	// relative path; the dashboard renders those in-app.
	DashboardURL string
}

// Production defaults.
const (
	DefaultDebounceWindow   = 500 * time.Millisecond
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultPollInterval     = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Fetcher is the pull-based fallback source: while push delivery is broken,
// the guard polls it for events that would otherwise have been pushed.
type Fetcher interface {
	FetchPending(ctx context.Context) ([]types.Event, error)
}

// Guard coordinates notification delivery. One instance serves the whole
// process; per-key circuit breakers isolate failing delivery paths so one
// broken channel cannot take down the rest.
type Guard struct {
	store   *store.Store
	toasts  *toast.Dispatcher
	fetcher Fetcher
	metrics DeliveryMetrics
	clock   types.Clock
	logger  types.Logger
	opts    Options

	mu            sync.Mutex
	breakers      map[string]*gobreaker.TwoStepCircuitBreaker[any]
	lastDelivered map[string]time.Time
	openCircuits  int
	pollCancel    context.CancelFunc
	pollDone      chan struct{}
}

// NewGuard creates a delivery guard. The fetcher may be nil when no fallback
// source exists; open circuits then simply short-circuit until cooldown.
func NewGuard(
	st *store.Store,
	toasts *toast.Dispatcher,
	fetcher Fetcher,
	metrics DeliveryMetrics,
	clock types.Clock,
	logger types.Logger,
	opts Options,
) *Guard {
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = NopDeliveryMetrics{}
	}
	return &Guard{
		store:         st,
		toasts:        toasts,
		fetcher:       fetcher,
		metrics:       metrics,
		clock:         clock,
		logger:        logger,
		opts:          opts.withDefaults(),
		breakers:      make(map[string]*gobreaker.TwoStepCircuitBreaker[any]),
		lastDelivered: make(map[string]time.Time),
	}
}

// breakerFor returns the circuit breaker for a delivery key, creating it
// lazily. Caller holds g.mu.
func (g *Guard) breakerForLocked(key string) *gobreaker.TwoStepCircuitBreaker[any] {
	if cb, ok := g.breakers[key]; ok {
		return cb
	}
	threshold := g.opts.FailureThreshold
	cb := gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     g.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: g.onStateChange,
	})
	g.breakers[key] = cb
	return cb
}

// onStateChange tracks how many circuits are open and starts or stops the
// fallback poller at the zero/nonzero boundary.
func (g *Guard) onStateChange(name string, from, to gobreaker.State) {
	g.logger.Warn("delivery circuit state change",
		"key", name,
		"from", from.String(),
		"to", to.String(),
	)

	g.mu.Lock()
	defer g.mu.Unlock()

	wasOpen := g.openCircuits > 0
	switch {
	case to == gobreaker.StateOpen:
		g.openCircuits++
	case from == gobreaker.StateOpen:
		g.openCircuits--
		if g.openCircuits < 0 {
			g.openCircuits = 0
		}
	}
	isOpen := g.openCircuits > 0

	if !wasOpen && isOpen {
		g.startPollerLocked()
	}
	if wasOpen && !isOpen {
		g.stopPollerLocked()
	}
}

// Deliver pushes one event through the guard: debounce, circuit admission,
// then fan-out to the bell store and the toast stack. The return value
// reports whether the event surfaced; suppression and short-circuiting are
// normal outcomes, not errors.
func (g *Guard) Deliver(ctx context.Context, ev types.Event) bool {
	ev.Type = ev.Type.Normalize()
	key := ev.DedupKey()
	now := g.clock.Now()

	g.mu.Lock()
	if seen, ok := g.lastDelivered[key]; ok && now.Sub(seen) < g.opts.DebounceWindow {
		g.mu.Unlock()
		g.metrics.RecordDelivery(ctx, ResultSuppressed)
		return false
	}
	cb := g.breakerForLocked(key)
	g.mu.Unlock()

	done, err := cb.Allow()
	if err != nil {
		g.metrics.RecordDelivery(ctx, ResultShortCircuit)
		return false
	}

	delivered, err := g.fanOut(ev)
	if err != nil {
		done(err)
		g.metrics.RecordDelivery(ctx, ResultFailure)
		g.logger.Error("event delivery failed",
			"key", key,
			"event_type", string(ev.Type),
			"error", err.Error(),
		)
		return false
	}
	done(nil)

	g.mu.Lock()
	g.lastDelivered[key] = now
	g.pruneDebounceLocked(now)
	g.mu.Unlock()

	g.metrics.RecordDelivery(ctx, ResultSuccess)
	return delivered
}

// fanOut materializes the event on both surfaces. A store-level dedup absorb
// is a successful delivery with no visible record.
func (g *Guard) fanOut(ev types.Event) (bool, error) {
	rec, err := g.store.Ingest(ev)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if g.toasts != nil {
		var action *types.ClickAction
		if rec.ActionURL != "" {
			action = &types.ClickAction{URL: g.clickURL(rec.ActionURL), Params: stringParams(ev.Data)}
		}
		g.toasts.Show(toast.Input{
			Kind:        toastKindFor(ev.Type),
			Title:       rec.Title,
			Message:     rec.Message,
			ClickAction: action,
		})
	}
	return true, nil
}

// clickURL resolves a toast click target: relative action paths are prefixed
// with the configured dashboard URL so external navigation lands on the
// right host. Absolute URLs pass through untouched.
func (g *Guard) clickURL(actionURL string) string {
	if g.opts.DashboardURL != "" && strings.HasPrefix(actionURL, "/") {
		return g.opts.DashboardURL + actionURL
	}
	return actionURL
}

// stringParams flattens event data into navigation query params. Only
// scalar string values carry over; structured values stay on the bell
// record.
func stringParams(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// toastKindFor maps an event type to its toast styling.
func toastKindFor(t types.EventType) types.ToastKind {
	switch t {
	case types.EventInvoicePaid, types.EventPaymentReceived:
		return types.ToastSuccess
	case types.EventLowStock, types.EventInvoiceOverdue,
		types.EventUsageWarning, types.EventTrialExpiring:
		return types.ToastWarning
	case types.EventOutOfStock, types.EventUsageLimitReached,
		types.EventSubscriptionExpired:
		return types.ToastError
	default:
		return types.ToastInfo
	}
}

// pruneDebounceLocked drops stale debounce entries so the index cannot grow
// without bound. Caller holds g.mu.
func (g *Guard) pruneDebounceLocked(now time.Time) {
	for key, seen := range g.lastDelivered {
		if now.Sub(seen) >= g.opts.DebounceWindow {
			delete(g.lastDelivered, key)
		}
	}
}

// Call runs fn under the circuit breaker for key. While the circuit is open
// the call short-circuits with an upstream AppError and fn never runs. Used
// for guarded side channels (push registration, badge sync) that share the
// guard's failure accounting.
func (g *Guard) Call(ctx context.Context, key string, fn func(context.Context) error) error {
	g.mu.Lock()
	cb := g.breakerForLocked(key)
	g.mu.Unlock()

	done, err := cb.Allow()
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"delivery circuit open for "+key, err)
	}

	err = fn(ctx)
	done(err)
	return err
}

// IsOpen reports whether the circuit for key is currently open. An unknown
// key has never failed and reports closed.
func (g *Guard) IsOpen(key string) bool {
	g.mu.Lock()
	cb, ok := g.breakers[key]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return cb.State() == gobreaker.StateOpen
}

// startPollerLocked launches the fallback poller. Caller holds g.mu.
func (g *Guard) startPollerLocked() {
	if g.fetcher == nil || g.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.pollCancel = cancel
	g.pollDone = make(chan struct{})
	g.logger.Info("push delivery degraded, starting fallback polling",
		"interval", g.opts.PollInterval.String(),
	)
	go g.pollLoop(ctx, g.pollDone)
}

// stopPollerLocked stops the fallback poller. Caller holds g.mu.
func (g *Guard) stopPollerLocked() {
	if g.pollCancel == nil {
		return
	}
	g.pollCancel()
	g.pollCancel = nil
	g.logger.Info("push delivery recovered, stopping fallback polling")
}

// pollLoop polls the fetcher until cancelled, feeding fetched events through
// the normal fan-out path. Poll results bypass the circuit (the poller IS
// the degraded path) but still pass debounce and store dedup, so a push that
// partially succeeded never double-surfaces.
func (g *Guard) pollLoop(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pollOnce(ctx)
		}
	}
}

// pollOnce fetches and surfaces pending events.
func (g *Guard) pollOnce(ctx context.Context) {
	events, err := g.fetcher.FetchPending(ctx)
	if err != nil {
		g.logger.Warn("fallback poll failed",
			"error", err.Error(),
		)
		return
	}
	g.metrics.RecordFallbackPoll(ctx, len(events))

	for _, ev := range events {
		ev.Type = ev.Type.Normalize()
		key := ev.DedupKey()
		now := g.clock.Now()

		g.mu.Lock()
		if seen, ok := g.lastDelivered[key]; ok && now.Sub(seen) < g.opts.DebounceWindow {
			g.mu.Unlock()
			continue
		}
		g.lastDelivered[key] = now
		g.mu.Unlock()

		if _, err := g.fanOut(ev); err != nil {
			g.logger.Warn("fallback delivery failed",
				"key", key,
				"error", err.Error(),
			)
		}
	}
}

// Close stops the fallback poller if running and waits for it to exit.
func (g *Guard) Close() {
	g.mu.Lock()
	done := g.pollDone
	g.stopPollerLocked()
	g.mu.Unlock()

	if done != nil {
		<-done
	}
}
