package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"sabiops/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient resolves account subscription snapshots from the Stripe REST
// API through the BaseClient, inheriting circuit breaking, retries, and
// error mapping. It is the production types.AccountProvider: accounts are
// Stripe customers tagged with account_id metadata, and the snapshot is
// derived from the customer's newest subscription.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// Compile-time assertion that StripeClient implements types.AccountProvider.
var _ types.AccountProvider = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be around 20 seconds; Stripe search can be slow under load.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"SabiOps/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that want to control retry behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// GetAccount resolves an account ID into its subscription snapshot.
//  1. Search customers by metadata['account_id']
//  2. List the customer's subscriptions, newest first
//  3. Map the newest subscription onto the domain Account shape
//
// A customer with no subscription is a free account, not an error.
func (s *StripeClient) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	searchQuery := fmt.Sprintf("metadata['account_id']:'%s'", accountID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return nil, s.wrapStripeError("GetAccount.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(searchResp, "GetAccount.search")
	}

	var searchResult stripeCustomerSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}
	if len(searchResult.Data) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundAccount,
			fmt.Sprintf("no billing customer for account %s", accountID),
			nil,
		)
	}
	customerID := searchResult.Data[0].ID

	subParams := url.Values{}
	subParams.Set("customer", customerID)
	subParams.Set("status", "all")
	subParams.Set("limit", "1")

	subResp, err := s.doGet(ctx, "/v1/subscriptions", subParams)
	if err != nil {
		return nil, s.wrapStripeError("GetAccount.subscriptions", err)
	}
	defer subResp.Body.Close()

	if subResp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(subResp, "GetAccount.subscriptions")
	}

	var subList stripeSubscriptionList
	if err := json.NewDecoder(subResp.Body).Decode(&subList); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription list response",
			err,
		)
	}

	if len(subList.Data) == 0 {
		return &types.Account{
			ID:         accountID,
			Plan:       types.PlanFree,
			Status:     types.SubStatusActive,
			PeriodType: periodTypeFor(types.PlanFree),
		}, nil
	}

	return mapStripeSubscription(accountID, &subList.Data[0]), nil
}

// doGet issues a GET through the BaseClient with Stripe auth headers.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	return s.base.Do(req)
}

// wrapStripeError tags a transport-level failure with the billing error code
// unless the BaseClient already mapped it to an AppError.
func (s *StripeClient) wrapStripeError(op string, err error) error {
	if appErr, ok := err.(*types.AppError); ok {
		return appErr
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("Stripe %s failed", op),
		err,
	)
}

// handleErrorResponse maps a non-200 Stripe response to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, op string) error {
	var stripeErr struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	// Best-effort decode; the status code drives the mapping either way.
	_ = json.NewDecoder(resp.Body).Decode(&stripeErr)

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("Stripe %s returned %d", op, resp.StatusCode),
		nil,
		map[string]any{
			"stripe_error_type": stripeErr.Error.Type,
			"stripe_error_code": stripeErr.Error.Code,
		},
	)
}

// ---------------------------------------------------------------------------
// Response shapes
//
// Narrow structs instead of the full stripe-go resource types: only the
// fields the snapshot mapping reads, so API additions never break decoding.
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCustomerSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeSubscription struct {
	ID       string                  `json:"id"`
	Status   string                  `json:"status"`
	TrialEnd int64                   `json:"trial_end"`
	Items    stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID        string `json:"id"`
	LookupKey string `json:"lookup_key"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

// mapStripeSubscription converts a Stripe subscription to the domain Account.
func mapStripeSubscription(accountID string, sub *stripeSubscription) *types.Account {
	plan := types.PlanFree
	if len(sub.Items.Data) > 0 {
		plan = mapPriceToPlan(sub.Items.Data[0].Price)
	}

	acct := &types.Account{
		ID:         accountID,
		Plan:       plan,
		Status:     mapSubscriptionStatus(sub.Status),
		PeriodType: periodTypeFor(plan),
	}

	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		acct.TrialEndsAt = &trialEnd
	}

	return acct
}

// mapSubscriptionStatus folds Stripe's subscription statuses onto the domain
// lifecycle. Payment-pending states count as expired: the account keeps its
// data but loses metered headroom until billing recovers.
func mapSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "trialing":
		return types.SubStatusTrial
	case "active":
		return types.SubStatusActive
	case "canceled":
		return types.SubStatusCancelled
	case "past_due", "unpaid", "incomplete", "incomplete_expired", "paused":
		return types.SubStatusExpired
	default:
		return types.SubStatusExpired
	}
}

// PriceToPlan maps Stripe price lookup keys to domain plan tiers. Populated
// to match the price catalog; unknown keys fall back to free.
var PriceToPlan = map[string]types.PlanTier{
	"sabiops_weekly":  types.PlanWeekly,
	"sabiops_monthly": types.PlanMonthly,
	"sabiops_yearly":  types.PlanYearly,
}

// mapPriceToPlan resolves a price to the domain plan tier via lookup key.
func mapPriceToPlan(price stripePrice) types.PlanTier {
	if plan, ok := PriceToPlan[price.LookupKey]; ok {
		return plan
	}
	return types.PlanFree
}

// periodTypeFor returns the usage window cadence for a plan. The plan name
// doubles as the billing cadence; free accounts meter weekly.
func periodTypeFor(plan types.PlanTier) types.PeriodType {
	switch plan {
	case types.PlanWeekly, types.PlanFree:
		return types.PeriodWeekly
	case types.PlanMonthly:
		return types.PeriodMonthly
	case types.PlanYearly:
		return types.PeriodYearly
	default:
		return types.PeriodWeekly
	}
}

// ---------------------------------------------------------------------------
// Webhook verification
// ---------------------------------------------------------------------------

// StripeWebhookVerifier validates inbound billing webhooks using stripe-go's
// signature verification (HMAC-SHA256 with timestamp tolerance).
type StripeWebhookVerifier struct {
	signingSecret string
}

// NewStripeWebhookVerifier creates a verifier for the given signing secret.
func NewStripeWebhookVerifier(signingSecret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{signingSecret: signingSecret}
}

// Verify checks the payload signature and returns the parsed event.
func (v *StripeWebhookVerifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, v.signingSecret)
}
