package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// SubscriptionView derives the read-only subscription snapshot from an
// account. Satisfied by billing.SubscriptionState.
type SubscriptionView interface {
	Snapshot(acct types.Account) types.SubscriptionSnapshot
}

// SubscriptionHandler serves the subscription countdown endpoint.
type SubscriptionHandler struct {
	accounts AccountReader
	view     SubscriptionView
	logger   *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(accounts AccountReader, view SubscriptionView, l *slog.Logger) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{accounts: accounts, view: view, logger: l}
}

// RegisterRoutes mounts the subscription route on the provided chi.Router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/subscription", h.Get)
}

// Get handles GET /v1/subscription. The snapshot is derived from
// (account, now) on every read, so trial countdowns and expiry flips are
// correct the moment the clock crosses the boundary.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	acct, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: h.view.Snapshot(acct),
	})
}
