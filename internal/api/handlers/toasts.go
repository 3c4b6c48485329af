package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// ToastSet is the contract the handler needs from the toast dispatcher.
type ToastSet interface {
	Active() []types.ToastRecord
	Dismiss(id string) bool
	Click(ctx context.Context, id string)
}

// ToastHandler serves the ephemeral toast stack over HTTP for surfaces that
// render it remotely.
type ToastHandler struct {
	toasts ToastSet
	logger *slog.Logger
}

// NewToastHandler creates a ToastHandler.
func NewToastHandler(toasts ToastSet, l *slog.Logger) *ToastHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ToastHandler{toasts: toasts, logger: l}
}

// RegisterRoutes mounts toast routes on the provided chi.Router.
func (h *ToastHandler) RegisterRoutes(r chi.Router) {
	r.Route("/toasts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{id}/dismiss", h.Dismiss)
		r.Post("/{id}/click", h.Click)
	})
}

// List handles GET /v1/toasts, returning the active set in display order.
func (h *ToastHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.toasts.Active()
	if active == nil {
		active = []types.ToastRecord{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{"toasts": active},
	})
}

// Dismiss handles POST /v1/toasts/{id}/dismiss. Dismissing a toast that has
// already auto-dismissed or been evicted succeeds: the user's intent (toast
// gone) is satisfied either way.
func (h *ToastHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := h.toasts.Dismiss(id)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{
			"id":      id,
			"removed": removed,
		},
	})
}

// Click handles POST /v1/toasts/{id}/click: dismisses the toast and runs
// its navigation action through the bridge.
func (h *ToastHandler) Click(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.toasts.Click(r.Context(), id)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{"id": id},
	})
}
