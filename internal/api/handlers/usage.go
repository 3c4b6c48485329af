package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// AccountReader resolves the acting account's subscription snapshot.
// Satisfied by billing.AccountCache.
type AccountReader interface {
	Get(ctx context.Context, accountID string) (types.Account, error)
}

// UsageTracker is the contract the handler needs from the usage mirror.
type UsageTracker interface {
	Snapshot(acct types.Account, feature types.FeatureType, now time.Time) (types.UsagePeriod, error)
	CheckAndIncrement(acct types.Account, feature types.FeatureType, now time.Time) (types.UsageResult, error)
	AllowOverage(acct types.Account, feature types.FeatureType, now time.Time) (types.UsageResult, error)
}

// UsageEventSink receives the limit events the handler emits on blocked or
// near-limit increments. Implemented by the delivery guard.
type UsageEventSink interface {
	Deliver(ctx context.Context, ev types.Event) bool
}

// IncrementRequest is the request body for POST /v1/usage/{feature}/increment.
type IncrementRequest struct {
	// AllowOverage opts into the explicit grace path: the increment proceeds
	// even at the limit, letting the count exceed it. Used to finish an
	// in-flight action after expiry.
	AllowOverage bool `json:"allow_overage,omitempty"`
}

// UsageSnapshotResponse is the payload for GET /v1/usage/{feature}.
type UsageSnapshotResponse struct {
	types.UsagePeriod
	Remaining int `json:"remaining"`
}

// UsageHandler serves the usage counter endpoints.
type UsageHandler struct {
	accounts AccountReader
	tracker  UsageTracker
	sink     UsageEventSink
	clock    types.Clock
	logger   *slog.Logger
}

// NewUsageHandler creates a UsageHandler. A nil sink disables limit event
// emission (library-only embedding).
func NewUsageHandler(accounts AccountReader, tracker UsageTracker, sink UsageEventSink, clock types.Clock, l *slog.Logger) *UsageHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{
		accounts: accounts,
		tracker:  tracker,
		sink:     sink,
		clock:    clock,
		logger:   l,
	}
}

// RegisterRoutes mounts usage routes on the provided chi.Router.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/usage/{feature}", func(r chi.Router) {
		r.Get("/", h.Snapshot)
		r.Post("/increment", h.Increment)
	})
}

// resolve loads the acting account and parses the feature URL parameter.
func (h *UsageHandler) resolve(r *http.Request) (types.Account, types.FeatureType, error) {
	feature := types.FeatureType(chi.URLParam(r, "feature"))
	if !feature.Valid() {
		return types.Account{}, "", types.NewAppError(types.ErrCodeValidationInvalidFeature,
			"unknown feature type: "+string(feature), nil)
	}

	accountID := types.GetAccountID(r.Context())
	acct, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		return types.Account{}, "", err
	}
	return acct, feature, nil
}

// Snapshot handles GET /v1/usage/{feature}: the live period for rendering
// "X of Y used" progress indicators.
func (h *UsageHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	acct, feature, err := h.resolve(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	period, err := h.tracker.Snapshot(acct, feature, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: UsageSnapshotResponse{
			UsagePeriod: period,
			Remaining:   period.Remaining(),
		},
	})
}

// Increment handles POST /v1/usage/{feature}/increment.
//
// A blocked increment is a business outcome, not an error: the response is
// 200 with allowed=false and the counter untouched. Blocked and near-limit
// results additionally emit limit events through the sink so the
// notification surfaces fire without the caller doing anything.
func (h *UsageHandler) Increment(w http.ResponseWriter, r *http.Request) {
	acct, feature, err := h.resolve(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req IncrementRequest
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	now := h.clock.Now()
	var result types.UsageResult
	if req.AllowOverage {
		result, err = h.tracker.AllowOverage(acct, feature, now)
	} else {
		result, err = h.tracker.CheckAndIncrement(acct, feature, now)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.emitLimitEvents(r.Context(), acct, feature, result)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// emitLimitEvents surfaces blocked and near-limit outcomes as business
// events. The guard's debounce and the store's dedup absorb repeats, so a
// burst of blocked increments yields one notification.
func (h *UsageHandler) emitLimitEvents(ctx context.Context, acct types.Account, feature types.FeatureType, result types.UsageResult) {
	if h.sink == nil {
		return
	}

	refID := acct.ID + ":" + string(feature)

	if !result.Allowed {
		h.sink.Deliver(ctx, types.Event{
			AccountID:   acct.ID,
			Type:        types.EventUsageLimitReached,
			ReferenceID: refID,
			Message:     fmt.Sprintf("You have reached your %s limit for this period. Upgrade to continue.", feature),
			ActionURL:   "/subscription/upgrade",
			Data: map[string]any{
				"account_id": acct.ID,
				"feature":    string(feature),
				"plan":       string(acct.Plan),
			},
		})
		return
	}

	if result.WarningThreshold {
		h.sink.Deliver(ctx, types.Event{
			AccountID:   acct.ID,
			Type:        types.EventUsageWarning,
			ReferenceID: refID,
			Message:     fmt.Sprintf("You are close to your %s limit: %d remaining this period.", feature, result.Remaining),
			ActionURL:   "/subscription/upgrade",
			Data: map[string]any{
				"account_id": acct.ID,
				"feature":    string(feature),
				"remaining":  result.Remaining,
			},
		})
	}
}
