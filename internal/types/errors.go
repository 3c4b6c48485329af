package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidFeature  ErrorCode = "validation_invalid_feature_type"
	ErrCodeValidationInvalidPeriod   ErrorCode = "validation_invalid_period_type"
	ErrCodeValidationInvalidEvent    ErrorCode = "validation_invalid_event"
	ErrCodeValidationInvalidToast    ErrorCode = "validation_invalid_toast"
	ErrCodeValidationInvalidAccount  ErrorCode = "validation_invalid_account"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_service_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_service_key_invalid"

	// Limits (403/429)
	ErrCodeLimitFeatureUsage ErrorCode = "limit_feature_usage_exceeded"
	ErrCodeRateLimit         ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundNotification ErrorCode = "not_found_notification"
	ErrCodeNotFoundLimitRow     ErrorCode = "not_found_usage_limit_row"
	ErrCodeNotFoundAccount      ErrorCode = "not_found_account"
	ErrCodeNotFoundToast        ErrorCode = "not_found_toast"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamBilling     ErrorCode = "upstream_billing_unavailable"
	ErrCodeUpstreamPush        ErrorCode = "upstream_push_channel_unavailable"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeLimitFeatureUsage):
		return http.StatusForbidden // 403
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the core.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
//
// Business-rule outcomes (limit exceeded, duplicate event, circuit open) are
// NOT AppErrors: they are represented in return values so calling code can
// branch without error handling. AppErrors indicate caller bugs or
// infrastructure failures.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
