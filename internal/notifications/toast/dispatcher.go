// Package toast implements the bounded ephemeral alert stack: a lossy,
// newest-biased set of auto-dismissing toasts with overflow eviction,
// cancelable timers, click navigation with a depth-bounded fallback, and a
// safety-net cleanup sweep.
package toast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sabiops/internal/types"
)

// Defaults and bounds.
const (
	// MaxConcurrent is the default hard cap on simultaneously displayed
	// toasts. Admitting past the cap evicts the oldest active toast
	// immediately.
	MaxConcurrent = 5

	// defaultMaxAge is the safety-net ceiling: the cleanup sweep removes any
	// toast older than this regardless of its configured duration, guarding
	// against timer-scheduling bugs.
	defaultMaxAge = 30 * time.Second

	// defaultSweepPeriod is how often the cleanup sweep runs.
	defaultSweepPeriod = 5 * time.Second

	// clickFeedbackDelay is the short visual-feedback pause between a click
	// and removal+navigation.
	clickFeedbackDelay = 150 * time.Millisecond
)

// defaultDuration returns the auto-dismiss duration for a toast kind.
func defaultDuration(kind types.ToastKind) time.Duration {
	switch kind {
	case types.ToastSuccess:
		return 4 * time.Second
	case types.ToastWarning:
		return 6 * time.Second
	case types.ToastError:
		return 8 * time.Second
	default:
		return 5 * time.Second
	}
}

// Input is a display request. Zero values take defaults: an empty kind is
// info, a nil Duration is the kind's default. An explicit zero Duration
// means sticky (no auto-dismiss).
type Input struct {
	Kind        types.ToastKind
	Title       string
	Message     string
	Duration    *time.Duration
	ClickAction *types.ClickAction
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithEvictionHook registers a callback invoked whenever a toast is removed
// without user action ("overflow" or "swept"). Used to feed telemetry.
func WithEvictionHook(fn func(reason string)) Option {
	return func(d *Dispatcher) {
		d.evictionHook = fn
	}
}

// WithSleepFunc overrides the click-feedback sleep. Intended for tests to
// avoid real delays.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(d *Dispatcher) {
		d.sleepFn = fn
	}
}

// WithCapacity overrides the concurrent toast cap. Non-positive values keep
// the default.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// WithSweepPolicy overrides the safety-net age ceiling and the cleanup sweep
// cadence. Non-positive values keep the defaults.
func WithSweepPolicy(maxAge, period time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAge > 0 {
			d.maxAge = maxAge
		}
		if period > 0 {
			d.sweepPeriod = period
		}
	}
}

// Dispatcher owns the active toast set. All mutations happen under one
// mutex and never block on I/O while holding it; auto-dismiss timers fire
// on their own goroutines and re-enter through Dismiss, which treats an
// already-removed id as a safe no-op.
type Dispatcher struct {
	nav          types.NavigationBridge
	clock        types.Clock
	logger       types.Logger
	evictionHook func(reason string)
	sleepFn      func(time.Duration)

	maxConcurrent int
	maxAge        time.Duration
	sweepPeriod   time.Duration

	mu sync.Mutex
	// active is ordered by insertion: index 0 is the oldest toast.
	active []types.ToastRecord
	timers map[string]*time.Timer
}

// NewDispatcher creates a toast dispatcher. The navigation bridge may be nil
// when click routing is not wired (clicks then only dismiss).
func NewDispatcher(nav types.NavigationBridge, clock types.Clock, logger types.Logger, opts ...Option) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	d := &Dispatcher{
		nav:           nav,
		clock:         clock,
		logger:        logger,
		sleepFn:       time.Sleep,
		maxConcurrent: MaxConcurrent,
		maxAge:        defaultMaxAge,
		sweepPeriod:   defaultSweepPeriod,
		timers:        make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Show normalizes the input, admits the toast, and schedules auto-dismiss.
// When the stack is full the oldest active toast is evicted immediately;
// the stack is lossy and newest-biased. Returns the assigned toast id.
func (d *Dispatcher) Show(in Input) string {
	kind := in.Kind
	if !kind.Valid() {
		kind = types.ToastInfo
	}
	duration := defaultDuration(kind)
	if in.Duration != nil {
		duration = *in.Duration
	}

	rec := types.ToastRecord{
		ID:          "tst_" + uuid.New().String(),
		Kind:        kind,
		Title:       in.Title,
		Message:     in.Message,
		CreatedAt:   d.clock.Now(),
		Duration:    duration,
		Dismissible: true,
		ClickAction: in.ClickAction,
	}

	d.mu.Lock()
	for len(d.active) >= d.maxConcurrent {
		oldest := d.active[0]
		d.removeLocked(oldest.ID)
		d.notifyEviction("overflow")
	}
	d.active = append(d.active, rec)
	if duration > 0 {
		id := rec.ID
		d.timers[id] = time.AfterFunc(duration, func() {
			// Already-dismissed ids fall through as a no-op.
			d.Dismiss(id)
		})
	}
	d.mu.Unlock()

	return rec.ID
}

// Convenience wrappers matching the public toast API surface.

// ShowSuccess displays a success toast with default duration.
func (d *Dispatcher) ShowSuccess(message string) string {
	return d.Show(Input{Kind: types.ToastSuccess, Message: message})
}

// ShowWarning displays a warning toast with default duration.
func (d *Dispatcher) ShowWarning(message string) string {
	return d.Show(Input{Kind: types.ToastWarning, Message: message})
}

// ShowError displays an error toast with default duration.
func (d *Dispatcher) ShowError(message string) string {
	return d.Show(Input{Kind: types.ToastError, Message: message})
}

// ShowInfo displays an info toast with default duration.
func (d *Dispatcher) ShowInfo(message string) string {
	return d.Show(Input{Kind: types.ToastInfo, Message: message})
}

// Dismiss removes a toast and cancels its pending auto-dismiss timer.
// Unknown ids (already dismissed, evicted, or timed out) are a safe no-op;
// a dangling timer callback must never error. Returns whether a toast was
// removed.
func (d *Dispatcher) Dismiss(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(id)
}

// removeLocked removes the toast and stops its timer. Caller holds d.mu.
func (d *Dispatcher) removeLocked(id string) bool {
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
	for i := range d.active {
		if d.active[i].ID == id {
			d.active = append(d.active[:i], d.active[i+1:]...)
			return true
		}
	}
	return false
}

// notifyEviction invokes the eviction hook if registered. Caller holds d.mu;
// hooks must be fast and non-blocking.
func (d *Dispatcher) notifyEviction(reason string) {
	if d.evictionHook != nil {
		d.evictionHook(reason)
	}
}

// Click handles a toast click: a short visual-feedback pause, removal, then
// navigation. Navigation failures fall back to a raw redirect; if that also
// fails, exactly one generic error toast is surfaced. The retry depth is
// bounded at 1 so a failing toast can never generate a toast storm.
func (d *Dispatcher) Click(ctx context.Context, id string) {
	d.mu.Lock()
	var action *types.ClickAction
	for i := range d.active {
		if d.active[i].ID == id {
			action = d.active[i].ClickAction
			break
		}
	}
	d.mu.Unlock()

	d.sleepFn(clickFeedbackDelay)
	d.Dismiss(id)

	if action == nil || d.nav == nil {
		return
	}

	if err := d.nav.Navigate(ctx, action.URL, action.Params); err == nil {
		return
	} else {
		d.logger.Warn("toast navigation failed, falling back to redirect",
			"toast_id", id,
			"url", action.URL,
			"error", err.Error(),
		)
	}

	if err := d.nav.Redirect(ctx, action.URL); err != nil {
		d.logger.Error("toast navigation fallback failed",
			"toast_id", id,
			"url", action.URL,
			"error", err.Error(),
		)
		// Terminal: surface one generic error toast and stop. No retry loop.
		d.ShowError("Could not open the requested page")
	}
}

// Active returns a copy of the active set in display (insertion) order.
func (d *Dispatcher) Active() []types.ToastRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.ToastRecord, len(d.active))
	copy(out, d.active)
	return out
}

// SweepStale removes any toast older than the safety-net ceiling regardless
// of its configured duration. Returns the removal count.
func (d *Dispatcher) SweepStale() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for i := 0; i < len(d.active); {
		if now.Sub(d.active[i].CreatedAt) > d.maxAge {
			d.removeLocked(d.active[i].ID)
			d.notifyEviction("swept")
			removed++
			continue
		}
		i++
	}
	return removed
}

// RunSweeper runs the cleanup sweep until the context is cancelled.
func (d *Dispatcher) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(d.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepStale()
		}
	}
}

// OnConnectivityChange surfaces the network-state toasts: a warning when the
// connection drops and a success when it is restored. These are exempt from
// the general offline suppression rule, since they are the one signal the
// user needs while offline.
func (d *Dispatcher) OnConnectivityChange(online bool) {
	if online {
		d.ShowSuccess("Connection restored")
		return
	}
	d.ShowWarning("You are offline. Some features are unavailable until the connection returns.")
}

// defaultMu guards the process-wide default dispatcher registration.
var (
	defaultMu         sync.Mutex
	defaultDispatcher *Dispatcher
)

// SetDefault registers the process-wide dispatcher reachable via Default.
// Only one dispatcher should exist per running application; re-registration
// follows last-registered-wins with a warning rather than erroring, so a
// double-mounted surface degrades loudly but safely. Internal call sites
// still take the dispatcher by injection; the package default exists only
// for outer-edge callers with no access to the constructor graph.
func SetDefault(d *Dispatcher) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultDispatcher != nil && defaultDispatcher != d && d != nil {
		d.logger.Warn("toast dispatcher default re-registered; last registration wins")
	}
	defaultDispatcher = d
}

// Default returns the registered process-wide dispatcher, or nil if none.
func Default() *Dispatcher {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultDispatcher
}
