package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// EventSink delivers an event synchronously through the guard.
type EventSink interface {
	Deliver(ctx context.Context, ev types.Event) bool
}

// EventQueuePublisher hands an event to the async queue for the delivery
// worker. Satisfied by queue.EventPublisher.
type EventQueuePublisher interface {
	Publish(ctx context.Context, accountID string, ev types.Event, source string) error
}

// IngestEventRequest is the request body for POST /v1/events.
type IngestEventRequest struct {
	Type        string         `json:"type" validate:"required"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Title       string         `json:"title,omitempty"`
	Message     string         `json:"message" validate:"required"`
	ActionURL   string         `json:"action_url,omitempty" validate:"omitempty,uri"`
	Data        map[string]any `json:"data,omitempty"`

	// Async routes the event through the queue instead of delivering inline.
	// Producers that do not need the delivered/suppressed outcome should set
	// it to keep their request path fast.
	Async bool `json:"async,omitempty"`
}

// EventHandler ingests business events from internal producers.
type EventHandler struct {
	sink      EventSink
	publisher EventQueuePublisher
	validator *core.Validator
	logger    *slog.Logger
}

// NewEventHandler creates an EventHandler. A nil publisher forces inline
// delivery for async requests.
func NewEventHandler(sink EventSink, publisher EventQueuePublisher, v *core.Validator, l *slog.Logger) *EventHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EventHandler{
		sink:      sink,
		publisher: publisher,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the event ingest route on the provided chi.Router.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.Ingest)
}

// Ingest handles POST /v1/events.
//
// Async events go to the queue and return 202; a queue failure falls back
// to inline delivery rather than dropping the event. Inline events return
// 200 with the delivery outcome; suppressed (debounced or deduped) is a
// normal outcome, not an error.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestEventRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	accountID := types.GetAccountID(r.Context())
	ev := types.Event{
		AccountID:   accountID,
		Type:        types.EventType(req.Type).Normalize(),
		ReferenceID: req.ReferenceID,
		Title:       req.Title,
		Message:     req.Message,
		ActionURL:   req.ActionURL,
		Data:        req.Data,
	}

	if req.Async && h.publisher != nil {
		if err := h.publisher.Publish(r.Context(), accountID, ev, "api"); err != nil {
			h.logger.WarnContext(r.Context(), "event publish failed, delivering inline",
				"event_type", string(ev.Type),
				"reference_id", ev.ReferenceID,
				"error", err,
			)
		} else {
			core.JSON(w, r, http.StatusAccepted, core.APIResponse{
				Data: map[string]any{"queued": true},
			})
			return
		}
	}

	delivered := h.sink.Deliver(r.Context(), ev)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]any{
			"delivered": delivered,
		},
	})
}
