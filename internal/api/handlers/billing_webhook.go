package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"

	"sabiops/internal/core"
	"sabiops/internal/types"
)

// maxWebhookBodySize caps inbound webhook payloads at 64 KB. Stripe events
// are small; the limit protects against abuse on an unauthenticated route.
const maxWebhookBodySize = 64 * 1024

// WebhookVerifier checks the provider signature on a raw webhook payload and
// returns the parsed event. Satisfied by external.StripeWebhookVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

// AccountInvalidator drops a cached account snapshot so the next read
// refetches from the billing provider. Satisfied by billing.AccountCache.
type AccountInvalidator interface {
	Invalidate(accountID string)
}

// BillingWebhookHandler processes asynchronous subscription events from the
// billing provider. The route is not behind the service-key middleware: it
// is called directly by Stripe, and authentication is the payload signature.
type BillingWebhookHandler struct {
	verifier WebhookVerifier
	accounts AccountInvalidator
	sink     EventSink
	logger   *slog.Logger
}

// NewBillingWebhookHandler creates a BillingWebhookHandler. A nil sink skips
// notification fan-out and only keeps the account cache fresh.
func NewBillingWebhookHandler(verifier WebhookVerifier, accounts AccountInvalidator, sink EventSink, l *slog.Logger) *BillingWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingWebhookHandler{
		verifier: verifier,
		accounts: accounts,
		sink:     sink,
		logger:   l,
	}
}

// RegisterRoutes mounts the webhook endpoint. Mounted via the public
// registrar set, outside the service-key and account middleware.
func (h *BillingWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/webhook", h.Handle)
}

// Handle processes one inbound webhook delivery: read the raw body, verify
// the Stripe-Signature header, then route by event type. Processing failures
// after a valid signature still return 200 so the provider does not retry an
// event that redelivery cannot fix; the error is logged for investigation.
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"failed to read webhook body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing,
			"Stripe-Signature header is required", nil))
		return
	}

	event, err := h.verifier.Verify(payload, sigHeader)
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid,
			"webhook signature verification failed", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing billing webhook event",
		"event_id", event.ID,
		"event_type", string(event.Type),
	)

	if err := h.routeEvent(r.Context(), event); err != nil {
		h.logger.ErrorContext(r.Context(), "billing webhook processing failed",
			"event_id", event.ID,
			"event_type", string(event.Type),
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]bool{"received": true},
	})
}

// routeEvent dispatches a verified event by type. Unhandled types are
// acknowledged and ignored.
func (h *BillingWebhookHandler) routeEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated":
		return h.handleSubscriptionChanged(ctx, event)

	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", string(event.Type),
		)
		return nil
	}
}

// subscriptionAccountID pulls the tenant account id out of a subscription
// event's payload. The checkout flow stamps it into subscription metadata.
func subscriptionAccountID(event stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("parsing subscription payload: %w", err)
	}
	accountID := sub.Metadata["account_id"]
	if accountID == "" {
		return "", fmt.Errorf("subscription event %s carries no account_id metadata", event.ID)
	}
	return accountID, nil
}

// handleSubscriptionChanged covers creates, upgrades, downgrades, and status
// flips. The cached snapshot is stale the moment the provider says so; the
// next read refetches and the watcher picks up derived-state transitions.
func (h *BillingWebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	accountID, err := subscriptionAccountID(event)
	if err != nil {
		return err
	}

	h.accounts.Invalidate(accountID)
	h.logger.InfoContext(ctx, "account snapshot invalidated by billing webhook",
		"account_id", accountID,
		"event_type", string(event.Type),
	)
	return nil
}

// handleSubscriptionDeleted invalidates the snapshot and surfaces the expiry
// to the account immediately, without waiting for the watcher's next tick.
func (h *BillingWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	accountID, err := subscriptionAccountID(event)
	if err != nil {
		return err
	}

	h.accounts.Invalidate(accountID)

	if h.sink != nil {
		h.sink.Deliver(ctx, types.Event{
			AccountID:   accountID,
			Type:        types.EventSubscriptionExpired,
			ReferenceID: accountID,
			Title:       "Subscription expired",
			Message:     "Your subscription has ended. Upgrade to keep full access.",
			ActionURL:   "/subscription/upgrade",
			Data:        map[string]any{"account_id": accountID},
		})
	}
	return nil
}
