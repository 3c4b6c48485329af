// Package handlers contains the HTTP handler implementations for the
// SabiOps notification and usage API. Handlers depend on locally defined
// narrow interfaces rather than concrete store types, following the
// injection pattern used across the chassis.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// NotificationStore is the read/mutate contract the handler needs from the
// bell-notification collection. Every operation is scoped to the acting
// account resolved by the middleware.
type NotificationStore interface {
	List(accountID string, limit int) []types.NotificationRecord
	MarkRead(accountID, id string) error
	MarkAllRead(accountID string) int
	UnreadCount(accountID string) int
}

// NotificationListResponse is the payload for GET /v1/notifications. The
// unread count rides along so the bell badge and the list render from one
// consistent read.
type NotificationListResponse struct {
	Notifications []types.NotificationRecord `json:"notifications"`
	UnreadCount   int                        `json:"unread_count"`
}

// NotificationHandler serves the bell-notification endpoints.
type NotificationHandler struct {
	store  NotificationStore
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(store NotificationStore, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{store: store, logger: l}
}

// RegisterRoutes mounts notification routes on the provided chi.Router.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/unread-count", h.UnreadCount)
		r.Post("/read-all", h.MarkAllRead)
		r.Post("/{id}/read", h.MarkRead)
	})
}

// defaultListLimit bounds unpaginated list reads.
const defaultListLimit = 50

// List handles GET /v1/notifications. Records come back newest-first; the
// limit query parameter caps the page (default 50, max the store size).
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a positive integer", err))
			return
		}
		limit = n
	}

	accountID := types.GetAccountID(r.Context())
	resp := NotificationListResponse{
		Notifications: h.store.List(accountID, limit),
		UnreadCount:   h.store.UnreadCount(accountID),
	}
	if resp.Notifications == nil {
		resp.Notifications = []types.NotificationRecord{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// UnreadCount handles GET /v1/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]int{"unread_count": h.store.UnreadCount(accountID)},
	})
}

// MarkRead handles POST /v1/notifications/{id}/read. Marking an
// already-read record succeeds idempotently; an unknown id, including one
// owned by another account, is 404.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accountID := types.GetAccountID(r.Context())

	if err := h.store.MarkRead(accountID, id); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{
			"id":           id,
			"read":         true,
			"unread_count": h.store.UnreadCount(accountID),
		},
	})
}

// MarkAllRead handles POST /v1/notifications/read-all. Returns how many of
// the acting account's records changed; a second call returns zero.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())
	updated := h.store.MarkAllRead(accountID)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]int{
			"updated":      updated,
			"unread_count": h.store.UnreadCount(accountID),
		},
	})
}
