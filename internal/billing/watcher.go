package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sabiops/internal/types"
)

// EventSink accepts normalized business events for fan-out. Implemented by
// the delivery guard; the watcher never talks to the store or dispatcher
// directly.
type EventSink interface {
	Deliver(ctx context.Context, ev types.Event) bool
}

// AccountCache keeps the last known subscription snapshot per account,
// refreshed from the billing provider. Local state answers reads
// immediately; the provider's answer overwrites it wholesale on refresh.
type AccountCache struct {
	provider types.AccountProvider
	clock    types.Clock
	ttl      time.Duration
	logger   types.Logger

	mu       sync.RWMutex
	accounts map[string]cachedAccount
}

type cachedAccount struct {
	acct      types.Account
	fetchedAt time.Time
}

// NewAccountCache creates an AccountCache with the given refresh TTL.
func NewAccountCache(provider types.AccountProvider, clock types.Clock, ttl time.Duration, logger types.Logger) *AccountCache {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &AccountCache{
		provider: provider,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
		accounts: make(map[string]cachedAccount),
	}
}

// Get returns the account snapshot, fetching from the provider when the
// cached copy is absent or stale. A provider failure with a stale copy on
// hand serves the stale copy: optimistic local state is authoritative for
// responsiveness.
func (c *AccountCache) Get(ctx context.Context, accountID string) (types.Account, error) {
	now := c.clock.Now()

	c.mu.RLock()
	cached, ok := c.accounts[accountID]
	c.mu.RUnlock()

	if ok && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.acct, nil
	}

	acct, err := c.provider.GetAccount(ctx, accountID)
	if err != nil {
		if ok {
			c.logger.Warn("account refresh failed, serving cached snapshot",
				"account_id", accountID,
				"error", err.Error(),
			)
			return cached.acct, nil
		}
		return types.Account{}, fmt.Errorf("AccountCache.Get: %w", err)
	}

	c.mu.Lock()
	c.accounts[accountID] = cachedAccount{acct: *acct, fetchedAt: now}
	c.mu.Unlock()

	return *acct, nil
}

// Invalidate drops the cached snapshot for one account so the next Get
// refetches from the provider. Called when a billing webhook reports the
// subscription changed out from under the cache.
func (c *AccountCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, accountID)
}

// Known returns the accounts currently held in the cache. The watcher
// iterates this set on each tick.
func (c *AccountCache) Known() []types.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Account, 0, len(c.accounts))
	for _, cached := range c.accounts {
		out = append(out, cached.acct)
	}
	return out
}

// Watcher periodically re-derives subscription state for every known account
// and emits trial_expiring / subscription_expired events on transitions.
// Because SubscriptionState is a pure function of time, the watcher only
// drives UI countdown freshness; a missed tick never produces wrong reads.
type Watcher struct {
	cache  *AccountCache
	state  *SubscriptionState
	sink   EventSink
	logger types.Logger

	mu   sync.Mutex
	seen map[string]watcherMark
}

type watcherMark struct {
	status        types.SubscriptionStatus
	daysRemaining int
}

// NewWatcher creates a subscription watcher.
func NewWatcher(cache *AccountCache, state *SubscriptionState, sink EventSink, logger types.Logger) *Watcher {
	return &Watcher{
		cache:  cache,
		state:  state,
		sink:   sink,
		logger: logger,
		seen:   make(map[string]watcherMark),
	}
}

// Run ticks at the given interval until the context is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick evaluates every cached account once. Exported for deterministic tests.
func (w *Watcher) Tick(ctx context.Context) {
	for _, acct := range w.cache.Known() {
		w.evaluate(ctx, acct)
	}
}

// trialWarningDays is the countdown mark at which a trial_expiring event fires.
const trialWarningDays = 3

func (w *Watcher) evaluate(ctx context.Context, acct types.Account) {
	status := w.state.EffectiveStatus(acct)
	days := 0
	if d := w.state.DaysRemaining(acct); d != nil {
		days = *d
	}

	w.mu.Lock()
	prev, known := w.seen[acct.ID]
	w.seen[acct.ID] = watcherMark{status: status, daysRemaining: days}
	w.mu.Unlock()

	// Expiry transition: emit once when the derived status flips.
	if status == types.SubStatusExpired && (!known || prev.status != types.SubStatusExpired) {
		w.sink.Deliver(ctx, types.Event{
			AccountID:   acct.ID,
			Type:        types.EventSubscriptionExpired,
			ReferenceID: acct.ID,
			Title:       "Subscription expired",
			Message:     "Your subscription has expired. Upgrade to keep full access.",
			ActionURL:   "/subscription/upgrade",
			Data:        map[string]any{"account_id": acct.ID, "plan": string(acct.Plan)},
		})
		return
	}

	// Trial countdown: emit when crossing into the warning window, and again
	// each time the day count drops while inside it.
	if status == types.SubStatusTrial && days <= trialWarningDays {
		if !known || prev.daysRemaining != days || prev.status != types.SubStatusTrial {
			w.sink.Deliver(ctx, types.Event{
				AccountID:   acct.ID,
				Type:        types.EventTrialExpiring,
				ReferenceID: fmt.Sprintf("%s:%d", acct.ID, days),
				Title:       "Trial ending soon",
				Message:     fmt.Sprintf("Your trial ends in %d day(s). Choose a plan to continue.", days),
				ActionURL:   "/subscription/upgrade",
				Data:        map[string]any{"account_id": acct.ID, "days_remaining": days},
			})
		}
	}
}
